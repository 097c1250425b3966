package copygen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"clipwright/internal/exception"
	"clipwright/internal/models"
	"clipwright/internal/provider"
	"clipwright/internal/stream"
)

func intPtr(v int) *int { return &v }

func TestParseDelimited(t *testing.T) {
	text := "Sure! Here are your copies.\n" +
		"===COPY-1===\nFirst copy.\n\n" +
		"===COPY-2===\nSecond copy.\n" +
		"===COPY-2===\nDuplicate second.\n" +
		"===COPY-9===\nOut of range.\n" +
		"=== COPY-3 ===\r\nThird copy.\n"

	got, err := Parse(text, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Mode != models.ParseModeDelimited {
		t.Errorf("mode = %s", got.Mode)
	}
	want := []Section{{1, "First copy."}, {2, "Second copy."}, {3, "Third copy."}}
	if len(got.Sections) != len(want) {
		t.Fatalf("sections = %+v", got.Sections)
	}
	for i := range want {
		if got.Sections[i] != want[i] {
			t.Errorf("section %d = %+v, want %+v", i, got.Sections[i], want[i])
		}
	}
}

func TestParseRegenKeepsOnlyTarget(t *testing.T) {
	text := "===COPY-1===\nnot asked\n===COPY-3===\nthe one\n===COPY-4===\nalso not asked"
	got, err := Parse(text, intPtr(3))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got.Sections) != 1 || got.Sections[0].Sequence != 3 || got.Sections[0].Content != "the one" {
		t.Errorf("sections = %+v", got.Sections)
	}

	// Only another slot came back: the target is missing, and the other
	// slot must not be reused as prose.
	other := "===COPY-1===\n" + strings.Repeat("This is a long marketing copy. ", 3)
	if got, err := Parse(other, intPtr(3)); !errors.Is(err, ErrParseFailure) {
		t.Errorf("Parse(other slot) = %+v, %v; want ErrParseFailure", got, err)
	}
}

func TestParseParagraphFallback(t *testing.T) {
	long1 := strings.Repeat("a", 51)
	long2 := strings.Repeat("あ", 60)
	short := strings.Repeat("b", 50)
	text := long1 + "\n\n" + short + "\n \n" + long2

	got, err := Parse(text, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Mode != models.ParseModeParagraph {
		t.Errorf("mode = %s", got.Mode)
	}
	if len(got.Sections) != 2 || got.Sections[0].Sequence != 1 || got.Sections[1].Sequence != 2 {
		t.Fatalf("sections = %+v", got.Sections)
	}
	if got.Sections[1].Content != long2 {
		t.Errorf("second paragraph = %q", got.Sections[1].Content)
	}

	regen, err := Parse(text, intPtr(4))
	if err != nil {
		t.Fatalf("Parse(regen): %v", err)
	}
	if len(regen.Sections) != 1 || regen.Sections[0].Sequence != 4 || regen.Sections[0].Content != long1 {
		t.Errorf("regen sections = %+v", regen.Sections)
	}
}

func TestParseFailure(t *testing.T) {
	if _, err := Parse("too short\n\nalso short", nil); !errors.Is(err, ErrParseFailure) {
		t.Errorf("err = %v, want ErrParseFailure", err)
	}
}

func TestPrompts(t *testing.T) {
	p := &models.Project{Name: "Spring", Product: "Serum", KeyPoints: []string{"light texture"}}

	bulk := SystemPrompt(Request{Project: p})
	if !strings.Contains(bulk, "===COPY-n===") || !strings.Contains(bulk, "exactly 5") {
		t.Errorf("bulk prompt = %q", bulk)
	}

	req := Request{Project: p, Target: intPtr(2), PreviousDraft: "old draft", Instructions: "shorter"}
	if sys := SystemPrompt(req); !strings.Contains(sys, "===COPY-2===") {
		t.Errorf("regen prompt = %q", sys)
	}
	user := UserPrompt(req)
	for _, want := range []string{"Serum", "light texture", "old draft", "shorter"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

// service fakes

type memProjects map[string]*models.Project

func (m memProjects) GetByID(_ context.Context, id string) (*models.Project, error) {
	return m[id], nil
}

type memBatches struct {
	mu       sync.Mutex
	batches  map[string]*models.Batch
	statuses []models.BatchStatus
}

func (m *memBatches) Create(_ context.Context, b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batches == nil {
		m.batches = make(map[string]*models.Batch)
	}
	b.ID = "batch-1"
	b.Status = models.BatchStatusPending
	cp := *b
	m.batches[b.ID] = &cp
	m.statuses = append(m.statuses, b.Status)
	return nil
}

func (m *memBatches) GetByID(_ context.Context, id string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
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

type memCopies struct {
	copies []*models.Copy
	err    error
}

func (m *memCopies) CreateCopies(_ context.Context, copies []*models.Copy) error {
	if m.err != nil {
		return m.err
	}
	m.copies = append(m.copies, copies...)
	return nil
}

type memExceptions struct {
	recs []*models.ExceptionRecord
}

func (m *memExceptions) Create(_ context.Context, rec *models.ExceptionRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

type replyProvider struct {
	text  string
	err   error
	calls int
	last  provider.Completion
}

func (r *replyProvider) Transcribe(context.Context, []byte, provider.TranscribeOptions) (string, error) {
	return "", errors.New("not used")
}

func (r *replyProvider) Complete(_ context.Context, req provider.Completion) (*provider.CompletionResult, error) {
	r.calls++
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	return &provider.CompletionResult{Text: r.text, TokensUsed: 150}, nil
}

type eventLog struct {
	events []stream.Event
}

func (l *eventLog) Emit(e stream.Event) { l.events = append(l.events, e) }

type fixture struct {
	svc        *Service
	batches    *memBatches
	copies     *memCopies
	exceptions *memExceptions
	provider   *replyProvider
}

func newFixture(reply string) *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		batches:    &memBatches{},
		copies:     &memCopies{},
		exceptions: &memExceptions{},
		provider:   &replyProvider{text: reply},
	}
	projects := memProjects{"p1": {ID: "p1", Name: "Spring", Product: "Serum"}}
	f.svc = NewService(projects, f.batches, f.copies, f.provider, exception.NewRecorder(f.exceptions, logger), nil, logger)
	return f
}

func TestRegenSingleTarget(t *testing.T) {
	f := newFixture("===COPY-3===\nA brighter morning starts with one drop.")
	ctx := context.Background()

	b, err := f.svc.QueueRegen(ctx, "p1", 3, "old", "more energetic")
	if err != nil {
		t.Fatalf("QueueRegen: %v", err)
	}

	events := &eventLog{}
	summary, err := f.svc.Run(ctx, b.ID, events)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Status != models.BatchStatusSucceeded || summary.Succeeded != 1 || summary.Total != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(f.copies.copies) != 1 || f.copies.copies[0].Sequence != 3 {
		t.Errorf("copies = %+v", f.copies.copies)
	}
	if len(f.exceptions.recs) != 0 {
		t.Errorf("unexpected exception: %+v", f.exceptions.recs)
	}
	if f.provider.calls != 1 {
		t.Errorf("provider calls = %d", f.provider.calls)
	}
	if !strings.Contains(f.provider.last.User, "more energetic") {
		t.Error("instructions missing from prompt")
	}

	want := []stream.EventType{stream.EventStart, stream.EventProcessing, stream.EventItem, stream.EventDone}
	if len(events.events) != len(want) {
		t.Fatalf("events = %+v", events.events)
	}
	for i, typ := range want {
		if events.events[i].Type != typ {
			t.Errorf("event %d = %s, want %s", i, events.events[i].Type, typ)
		}
	}
}

func TestBulkParagraphFallbackIsPartial(t *testing.T) {
	reply := strings.Repeat("Glow all day with a serum that feels like water. ", 2) +
		"\n\n" + strings.Repeat("Your skin deserves a lighter routine this spring. ", 2)
	f := newFixture(reply)
	ctx := context.Background()

	b, err := f.svc.Queue(ctx, "p1")
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	summary, err := f.svc.Run(ctx, b.ID, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Status != models.BatchStatusPartialSuccess || summary.Succeeded != 2 || summary.Failed != 3 {
		t.Errorf("summary = %+v", summary)
	}
	if !summary.Valid() {
		t.Error("summary does not add up")
	}
	if len(f.copies.copies) != 2 || f.copies.copies[1].Sequence != 2 || f.copies.copies[0].ParseMode != models.ParseModeParagraph {
		t.Errorf("copies = %+v", f.copies.copies)
	}
	if len(f.exceptions.recs) != 1 || f.exceptions.recs[0].ErrorCode != models.ErrorCodeBelowThreshold {
		t.Errorf("exceptions = %+v", f.exceptions.recs)
	}
	if got := f.batches.statuses; len(got) != 3 || got[2] != models.BatchStatusPartialSuccess {
		t.Errorf("statuses = %v", got)
	}
	if f.batches.batches[b.ID].TokenUsage != 150 {
		t.Errorf("token usage = %d", f.batches.batches[b.ID].TokenUsage)
	}
}

func TestBulkFullSuccess(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 5; i++ {
		sb.WriteString("===COPY-")
		sb.WriteByte(byte('0' + i))
		sb.WriteString("===\ncopy body\n")
	}
	f := newFixture(sb.String())
	b, _ := f.svc.Queue(context.Background(), "p1")

	summary, err := f.svc.Run(context.Background(), b.ID, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != models.BatchStatusSucceeded || len(f.exceptions.recs) != 0 {
		t.Errorf("summary = %+v, exceptions = %d", summary, len(f.exceptions.recs))
	}
}

func TestRegenUpstreamFailureIsNotAnomalous(t *testing.T) {
	f := newFixture("")
	f.provider.err = &provider.UpstreamError{Op: "complete", Status: 500, Body: "down"}
	b, _ := f.svc.QueueRegen(context.Background(), "p1", 1, "", "")

	summary, err := f.svc.Run(context.Background(), b.ID, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != models.BatchStatusFailed {
		t.Errorf("status = %s", summary.Status)
	}
	if len(f.exceptions.recs) != 0 {
		t.Errorf("regen failure recorded an exception")
	}
	if !strings.Contains(f.batches.batches[b.ID].ErrorMessage, "upstream status 500") {
		t.Errorf("error message = %q", f.batches.batches[b.ID].ErrorMessage)
	}
}

func TestPersistenceFailureAbortsBatch(t *testing.T) {
	f := newFixture("===COPY-1===\nbody")
	f.copies.err = errors.New("constraint failed")
	b, _ := f.svc.Queue(context.Background(), "p1")

	events := &eventLog{}
	if _, err := f.svc.Run(context.Background(), b.ID, events); err == nil {
		t.Fatal("expected error")
	}
	got := f.batches.batches[b.ID]
	if got.Status != models.BatchStatusFailed || got.ErrorCode != models.ErrorCodeBatchException {
		t.Errorf("batch = %+v", got)
	}
	if len(f.exceptions.recs) != 1 || f.exceptions.recs[0].ErrorCode != models.ErrorCodeBatchException {
		t.Errorf("exceptions = %+v", f.exceptions.recs)
	}
	if last := events.events[len(events.events)-1]; last.Type != stream.EventError {
		t.Errorf("last event = %s", last.Type)
	}
}

func TestRunRejectsClaimedBatch(t *testing.T) {
	f := newFixture("===COPY-1===\nbody")
	b, _ := f.svc.QueueRegen(context.Background(), "p1", 1, "", "")
	if _, err := f.svc.Run(context.Background(), b.ID, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := f.svc.Run(context.Background(), b.ID, nil); err == nil {
		t.Error("second Run of a finished batch succeeded")
	}
	if f.provider.calls != 1 {
		t.Errorf("provider calls = %d", f.provider.calls)
	}
}

func TestQueueValidation(t *testing.T) {
	f := newFixture("")
	if _, err := f.svc.Queue(context.Background(), "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("err = %v", err)
	}
	if _, err := f.svc.QueueRegen(context.Background(), "p1", 6, "", ""); !errors.Is(err, ErrInvalidSequence) {
		t.Errorf("err = %v", err)
	}
	if _, err := f.svc.Run(context.Background(), "missing", nil); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("err = %v", err)
	}
}
