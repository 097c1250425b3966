package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"clipwright/internal/acquire"
	"clipwright/internal/capability"
	"clipwright/internal/exception"
	"clipwright/internal/models"
	"clipwright/internal/provider"
	"clipwright/internal/stream"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAcquirer struct {
	err error
}

func (f *fakeAcquirer) Acquire(_ context.Context, src acquire.Source, _ capability.Capabilities) (*acquire.Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &acquire.Artifact{Audio: []byte("audio:" + src.AudioURL), Path: acquire.PathDirect}, nil
}

type fakeProvider struct {
	transcript    string
	transcribeErr error
	correction    string
	completeErr   error
	lastUser      string
}

func (f *fakeProvider) Transcribe(context.Context, []byte, provider.TranscribeOptions) (string, error) {
	return f.transcript, f.transcribeErr
}

func (f *fakeProvider) Complete(_ context.Context, req provider.Completion) (*provider.CompletionResult, error) {
	f.lastUser = req.User
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &provider.CompletionResult{Text: f.correction, TokensUsed: 7}, nil
}

func TestProcessor(t *testing.T) {
	video := &models.Video{ID: "v1", Title: "Morning routine", Author: "aya", Hashtags: []string{"#skincare"}, AudioURL: "a.mp3"}
	upstream := &provider.UpstreamError{Op: "transcribe", Status: 500, Body: "oops"}

	tests := []struct {
		name         string
		acquirer     *fakeAcquirer
		provider     *fakeProvider
		wantStatus   models.ItemStatus
		wantText     string
		wantDegraded bool
		wantErr      error
	}{
		{
			name:       "corrected",
			acquirer:   &fakeAcquirer{},
			provider:   &fakeProvider{transcript: "raw text", correction: " fixed text "},
			wantStatus: models.ItemStatusSuccess,
			wantText:   "fixed text",
		},
		{
			name:         "correction fails keeps raw",
			acquirer:     &fakeAcquirer{},
			provider:     &fakeProvider{transcript: "raw text", completeErr: errors.New("timeout")},
			wantStatus:   models.ItemStatusSuccess,
			wantText:     "raw text",
			wantDegraded: true,
		},
		{
			name:         "empty correction keeps raw",
			acquirer:     &fakeAcquirer{},
			provider:     &fakeProvider{transcript: "raw text", correction: "  "},
			wantStatus:   models.ItemStatusSuccess,
			wantText:     "raw text",
			wantDegraded: true,
		},
		{
			name:       "upstream failure",
			acquirer:   &fakeAcquirer{},
			provider:   &fakeProvider{transcribeErr: upstream},
			wantStatus: models.ItemStatusFailed,
			wantErr:    provider.ErrUpstream,
		},
		{
			name:       "empty transcript",
			acquirer:   &fakeAcquirer{},
			provider:   &fakeProvider{transcript: "\n"},
			wantStatus: models.ItemStatusFailed,
			wantErr:    ErrEmptyTranscript,
		},
		{
			name:       "acquisition failure",
			acquirer:   &fakeAcquirer{err: acquire.ErrResourceUnavailable},
			provider:   &fakeProvider{},
			wantStatus: models.ItemStatusFailed,
			wantErr:    acquire.ErrResourceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(tt.acquirer, tt.provider, capability.Capabilities{}, "ja", quietLogger())
			out := p.Process(context.Background(), video)

			if out.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s (err %v)", out.Status, tt.wantStatus, out.Err)
			}
			if out.Transcript != tt.wantText {
				t.Errorf("transcript = %q, want %q", out.Transcript, tt.wantText)
			}
			if out.Degraded != tt.wantDegraded {
				t.Errorf("degraded = %v, want %v", out.Degraded, tt.wantDegraded)
			}
			if tt.wantErr != nil && !errors.Is(out.Err, tt.wantErr) {
				t.Errorf("err = %v, want %v", out.Err, tt.wantErr)
			}
		})
	}
}

func TestCorrectionPromptCarriesMetadata(t *testing.T) {
	prov := &fakeProvider{transcript: "raw", correction: "ok"}
	p := NewProcessor(&fakeAcquirer{}, prov, capability.Capabilities{}, "", quietLogger())
	p.Process(context.Background(), &models.Video{
		ID: "v", Title: "Serum review", Author: "mika", Hashtags: []string{"#glow"}, TopicTags: []string{"beauty"},
	})

	for _, want := range []string{"Serum review", "mika", "#glow", "beauty", "raw"} {
		if !strings.Contains(prov.lastUser, want) {
			t.Errorf("correction prompt missing %q:\n%s", want, prov.lastUser)
		}
	}
}

// fakes for the service

type memItems struct {
	mu     sync.Mutex
	videos map[string]*models.Video
	writes map[string][]models.ItemStatus
	failOn string
}

func newMemItems(videos ...*models.Video) *memItems {
	m := &memItems{videos: make(map[string]*models.Video), writes: make(map[string][]models.ItemStatus)}
	for _, v := range videos {
		m.videos[v.ID] = v
	}
	return m
}

func (m *memItems) ListByIDs(_ context.Context, ids []string) ([]*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Video
	for _, id := range ids {
		if v, ok := m.videos[id]; ok {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memItems) UpdateStatus(_ context.Context, id string, status models.ItemStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.failOn {
		return errors.New("disk full")
	}
	m.videos[id].Status = status
	m.videos[id].ErrorMessage = errMsg
	m.writes[id] = append(m.writes[id], status)
	return nil
}

func (m *memItems) UpdateResult(_ context.Context, id, transcript string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[id].Status = models.ItemStatusSuccess
	m.videos[id].Transcript = transcript
	m.writes[id] = append(m.writes[id], models.ItemStatusSuccess)
	return nil
}

type memBatches struct {
	mu       sync.Mutex
	batches  map[string]*models.Batch
	statuses []models.BatchStatus
	errCode  string
}

func newMemBatches() *memBatches {
	return &memBatches{batches: make(map[string]*models.Batch)}
}

func (m *memBatches) Create(_ context.Context, b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = "batch-1"
	b.Status = models.BatchStatusPending
	cp := *b
	m.batches[b.ID] = &cp
	m.statuses = append(m.statuses, b.Status)
	return nil
}

func (m *memBatches) UpdateStatus(_ context.Context, id string, to models.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !models.CanTransition(m.batches[id].Status, to) {
		return errors.New("regression")
	}
	m.batches[id].Status = to
	m.statuses = append(m.statuses, to)
	return nil
}

func (m *memBatches) Finish(ctx context.Context, b *models.Batch) error {
	if err := m.UpdateStatus(ctx, b.ID, b.Status); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *memBatches) SetError(_ context.Context, id, code, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errCode = code
	return nil
}

type memExceptions struct {
	mu   sync.Mutex
	recs []*models.ExceptionRecord
}

func (m *memExceptions) Create(_ context.Context, rec *models.ExceptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type scriptedProcessor struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	calls    []string
	hook     func(id string)
}

func (s *scriptedProcessor) Process(_ context.Context, v *models.Video) Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, v.ID)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(v.ID)
	}
	if out, ok := s.outcomes[v.ID]; ok {
		return out
	}
	return Outcome{Status: models.ItemStatusSuccess, Transcript: "text " + v.ID, TokensUsed: 3}
}

type eventLog struct {
	mu     sync.Mutex
	events []stream.Event
}

func (l *eventLog) Emit(e stream.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []stream.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []stream.EventType
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func fiveVideos() []*models.Video {
	return []*models.Video{
		{ID: "v1", Title: "one"},
		{ID: "v2", Title: "two"},
		{ID: "v3", Title: "three"},
		{ID: "v4", Title: "four"},
		{ID: "v5", Title: "five", Transcript: "already done", Status: models.ItemStatusSuccess},
	}
}

func TestRunPartialSuccessScenario(t *testing.T) {
	upstream := &provider.UpstreamError{Op: "transcribe", Status: 500, Body: "internal"}
	items := newMemItems(fiveVideos()...)
	batches := newMemBatches()
	excs := &memExceptions{}
	proc := &scriptedProcessor{outcomes: map[string]Outcome{
		"v3": {Status: models.ItemStatusFailed, Err: upstream},
		"v4": {Status: models.ItemStatusFailed, Err: upstream},
	}}

	svc := NewService(items, batches, proc, exception.NewRecorder(excs, quietLogger()), nil, Config{Concurrency: 2}, quietLogger())
	events := &eventLog{}

	summary, err := svc.Run(context.Background(), Request{
		ItemIDs: []string{"v1", "v2", "v3", "v4", "v5"},
		Mode:    ModeAll,
	}, events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Total != 5 || summary.Succeeded != 2 || summary.Failed != 2 || summary.Skipped != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if !summary.Valid() {
		t.Error("summary does not account for every item")
	}
	if summary.Status != models.BatchStatusPartialSuccess {
		t.Errorf("status = %s", summary.Status)
	}
	if len(excs.recs) != 1 || excs.recs[0].ErrorCode != models.ErrorCodeBelowThreshold {
		t.Errorf("exceptions = %+v", excs.recs)
	}
	if slices.Contains(proc.calls, "v5") {
		t.Error("skipped item was processed")
	}
	if items.videos["v5"].Transcript != "already done" {
		t.Error("skipped item result was overwritten")
	}
	if got := items.writes["v5"]; !slices.Equal(got, []models.ItemStatus{models.ItemStatusSkipped}) {
		t.Errorf("v5 writes = %v, want [skipped]", got)
	}
	if got := items.writes["v3"]; !slices.Equal(got, []models.ItemStatus{models.ItemStatusProcessing, models.ItemStatusFailed}) {
		t.Errorf("v3 writes = %v", got)
	}

	want := []models.BatchStatus{models.BatchStatusPending, models.BatchStatusRunning, models.BatchStatusPartialSuccess}
	if !slices.Equal(batches.statuses, want) {
		t.Errorf("batch statuses = %v, want %v", batches.statuses, want)
	}
	if batches.batches["batch-1"].TokenUsage != 6 {
		t.Errorf("token usage = %d", batches.batches["batch-1"].TokenUsage)
	}

	types := events.types()
	if types[0] != stream.EventStart || types[1] != stream.EventFiltered || types[len(types)-1] != stream.EventDone {
		t.Errorf("event order = %v", types)
	}
	var processing, item int
	for _, typ := range types {
		switch typ {
		case stream.EventProcessing:
			processing++
		case stream.EventItem:
			item++
		}
	}
	if processing != 4 || item != 4 {
		t.Errorf("processing=%d item=%d, want 4 each", processing, item)
	}

	start := events.events[0].Data.(stream.StartData)
	done := events.events[len(events.events)-1].Data.(stream.DoneData)
	if start.Total != 5 || done.Summary.Total != start.Total {
		t.Errorf("start total = %d, done total = %d", start.Total, done.Summary.Total)
	}

	filtered := events.events[1].Data.(stream.FilteredData)
	if filtered.Total != 4 || filtered.Skipped != 1 {
		t.Errorf("filtered = %+v", filtered)
	}
	for _, e := range events.events {
		if e.BatchID != "batch-1" {
			t.Errorf("event %s missing batch id", e.Type)
		}
	}
}

func TestRunMissingModeIsIdempotent(t *testing.T) {
	videos := fiveVideos()
	for _, v := range videos {
		v.Transcript = "done"
	}
	items := newMemItems(videos...)
	batches := newMemBatches()
	excs := &memExceptions{}
	proc := &scriptedProcessor{}

	svc := NewService(items, batches, proc, exception.NewRecorder(excs, quietLogger()), nil, Config{}, quietLogger())
	events := &eventLog{}
	summary, err := svc.Run(context.Background(), Request{ItemIDs: []string{"v1", "v2", "v3", "v4", "v5"}, Mode: ModeMissing}, events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(proc.calls) != 0 {
		t.Errorf("processed %v, want none", proc.calls)
	}
	if summary.Total != 0 || summary.Status != models.BatchStatusSucceeded {
		t.Errorf("summary = %+v", summary)
	}
	if len(excs.recs) != 0 {
		t.Errorf("unexpected exceptions: %+v", excs.recs)
	}
	want := []stream.EventType{stream.EventStart, stream.EventFiltered, stream.EventDone}
	if !slices.Equal(events.types(), want) {
		t.Errorf("events = %v, want %v", events.types(), want)
	}
	if start := events.events[0].Data.(stream.StartData); start.Total != 0 {
		t.Errorf("start total = %d, want 0 for an empty batch", start.Total)
	}
}

func TestRunForceReprocesses(t *testing.T) {
	items := newMemItems(fiveVideos()...)
	proc := &scriptedProcessor{}
	svc := NewService(items, newMemBatches(), proc, exception.NewRecorder(&memExceptions{}, quietLogger()), nil, Config{Concurrency: 5}, quietLogger())

	summary, err := svc.Run(context.Background(), Request{ItemIDs: []string{"v5"}, Mode: ModeForce}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 1 || items.videos["v5"].Transcript != "text v5" {
		t.Errorf("summary = %+v, transcript = %q", summary, items.videos["v5"].Transcript)
	}
}

func TestRunPersistenceFailureAbortsBatch(t *testing.T) {
	items := newMemItems(fiveVideos()...)
	items.failOn = "v1"
	batches := newMemBatches()
	excs := &memExceptions{}
	proc := &scriptedProcessor{}

	svc := NewService(items, batches, proc, exception.NewRecorder(excs, quietLogger()), nil, Config{Concurrency: 1}, quietLogger())
	events := &eventLog{}
	_, err := svc.Run(context.Background(), Request{ItemIDs: []string{"v1", "v2", "v3"}, Mode: ModeMissing}, events)
	if err == nil {
		t.Fatal("expected batch-level error")
	}

	if len(proc.calls) != 0 {
		t.Errorf("later chunks were scheduled: %v", proc.calls)
	}
	if got := batches.batches["batch-1"]; got.Status != models.BatchStatusFailed || got.ErrorCode != models.ErrorCodeBatchException {
		t.Errorf("batch = %+v", got)
	}
	if len(excs.recs) != 1 || excs.recs[0].ErrorCode != models.ErrorCodeBatchException {
		t.Errorf("exceptions = %+v", excs.recs)
	}
	types := events.types()
	if types[len(types)-1] != stream.EventError {
		t.Errorf("events = %v", types)
	}
}

func TestRunDisconnectLeavesBatchResumable(t *testing.T) {
	items := newMemItems(fiveVideos()...)
	batches := newMemBatches()
	ctx, cancel := context.WithCancel(context.Background())
	proc := &scriptedProcessor{hook: func(id string) {
		if id == "v1" {
			cancel()
		}
	}}

	svc := NewService(items, batches, proc, exception.NewRecorder(&memExceptions{}, quietLogger()), nil, Config{Concurrency: 1}, quietLogger())
	summary, err := svc.Run(ctx, Request{ItemIDs: []string{"v1", "v2", "v3"}, Mode: ModeMissing}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if summary.Succeeded != 1 {
		t.Errorf("in-flight item was not committed: %+v", summary)
	}
	if items.videos["v2"].Status == models.ItemStatusSuccess || items.videos["v1"].Transcript == "" {
		t.Errorf("unexpected item state v1=%+v v2=%+v", items.videos["v1"], items.videos["v2"])
	}
	if got := batches.batches["batch-1"].Status; got != models.BatchStatusRunning {
		t.Errorf("batch status = %s, want RUNNING", got)
	}
	if batches.errCode != models.ErrorCodeClientDisconnected {
		t.Errorf("error code = %q", batches.errCode)
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	svc := NewService(newMemItems(), newMemBatches(), &scriptedProcessor{}, nil, nil, Config{}, quietLogger())

	if _, err := svc.Run(context.Background(), Request{}, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty ids err = %v", err)
	}
	if _, err := svc.Run(context.Background(), Request{ItemIDs: []string{"x"}, Mode: "sometimes"}, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("bad mode err = %v", err)
	}
	if _, err := svc.Run(context.Background(), Request{ItemIDs: []string{"x"}}, nil); !errors.Is(err, ErrNoItems) {
		t.Errorf("unknown ids err = %v", err)
	}
}
