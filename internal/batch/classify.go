package batch

import "clipwright/internal/models"

// BulkCopyCount is the number of copies a bulk generation batch must produce.
const BulkCopyCount = 5

// Classify maps the succeeded count of a copy generation batch to its
// terminal status. A non-nil targetSequence means single-item regen, which
// has no partial state.
func Classify(succeeded int, targetSequence *int) models.BatchStatus {
	if targetSequence != nil {
		if succeeded == 1 {
			return models.BatchStatusSucceeded
		}
		return models.BatchStatusFailed
	}
	return ClassifyExpected(succeeded, BulkCopyCount)
}

// ClassifyExpected classifies against an explicit expected count. A batch
// with nothing to do succeeds.
func ClassifyExpected(succeeded, expected int) models.BatchStatus {
	switch {
	case expected <= 0 || succeeded >= expected:
		return models.BatchStatusSucceeded
	case succeeded <= 0:
		return models.BatchStatusFailed
	default:
		return models.BatchStatusPartialSuccess
	}
}

// NeedsException reports whether a finished batch is anomalous. Only bulk
// batches below full success qualify.
func NeedsException(status models.BatchStatus, mode models.BatchMode) bool {
	return mode == models.BatchModeBulk && status != models.BatchStatusSucceeded
}
