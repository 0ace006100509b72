package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"docbrief-backend/internal/admission"
	"docbrief-backend/internal/artifacts"
	"docbrief-backend/internal/images"
	"docbrief-backend/internal/ledger"
	"docbrief-backend/internal/llm"
	"docbrief-backend/internal/notify"
	"docbrief-backend/internal/progress"
)

const testDocument = `Adaptive Widget Calibration

Inventors: Jane Doe; John Smith

BACKGROUND

Widgets drift out of calibration under thermal load. Existing approaches
recalibrate on a fixed schedule regardless of observed drift.

DETAILED DESCRIPTION

The system measures drift continuously and schedules recalibration only when
the measured drift crosses a configurable threshold.`

type fakeText struct {
	mu      sync.Mutex
	calls   []string
	failSub string
	failErr error
	gate    chan struct{}
}

func (f *fakeText) Generate(ctx context.Context, in llm.GenerateInput) (llm.Generation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in.Prompt)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.failSub != "" && strings.Contains(in.Prompt, f.failSub) {
		return llm.Generation{}, f.failErr
	}
	return llm.Generation{Text: "generated text", TokensUsed: 42}, nil
}

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeText) countContaining(sub string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.calls {
		if strings.Contains(p, sub) {
			n++
		}
	}
	return n
}

type fakeImages struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (images.ImageRef, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return images.ImageRef{}, f.err
	}
	return images.ImageRef{URL: "https://img.example/" + fmt.Sprint(len(prompt))}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Save(ctx context.Context, ownerId, fileName string, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := ownerId + "/" + fileName
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return key, int64(len(data)), "text/plain", nil
}

func (s *fakeStore) SaveWithKey(ctx context.Context, storageKey, contentType string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.objects[storageKey] = data
	s.mu.Unlock()
	return int64(len(data)), nil
}

func (s *fakeStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.objects[storageKey]
	s.mu.Unlock()
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) URL(storageKey string) string {
	return "/files/" + storageKey
}

type chanSink struct {
	events chan notify.Event
}

func newChanSink() *chanSink {
	return &chanSink{events: make(chan notify.Event, 16)}
}

func (s *chanSink) Notify(ctx context.Context, event notify.Event) {
	s.events <- event
}

func (s *chanSink) wait(t *testing.T) notify.Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return notify.Event{}
	}
}

type fixture struct {
	svc    *Service
	repo   *MemoryRepo
	arts   *artifacts.MemoryRepo
	ledger *ledger.Service
	text   *fakeText
	images *fakeImages
	sink   *chanSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	led := ledger.NewService()
	f := &fixture{
		repo:   NewMemoryRepo(),
		arts:   artifacts.NewMemoryRepo(),
		ledger: led,
		text:   &fakeText{},
		images: &fakeImages{},
		sink:   newChanSink(),
	}
	adm := admission.NewController(
		admission.Rule{Window: time.Minute, Max: 1000},
		admission.Rule{Window: time.Minute, Max: 1000},
		led, nil,
	)
	f.svc = NewService(f.repo, f.arts, led, adm, progress.NewPublisher(progress.NewMemoryStore()), newFakeStore(), f.text, f.images, f.sink)
	return f
}

func submitInput(identity string) SubmitInput {
	return SubmitInput{
		SourceKey: "10.0.0.1",
		Identity:  identity,
		FileName:  "widget.txt",
		MimeType:  "text/plain",
		Data:      []byte(testDocument),
	}
}

func TestSubmitChargesExactlyOnceAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Credit(ctx, "user-1", 30, ledger.CategoryCreditGrant); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	job, err := f.svc.Submit(ctx, submitInput("user-1"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ev := f.sink.wait(t)
	if ev.Outcome != notify.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed (message %q)", ev.Outcome, ev.Message)
	}

	balance, err := f.ledger.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 20 {
		t.Fatalf("balance = %d, want 20", balance)
	}
	entries, err := f.ledger.EntriesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("EntriesForJob() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries for job = %d, want exactly 1", len(entries))
	}

	got, err := f.repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Stage != StageCompleted {
		t.Fatalf("stage = %q, want completed", got.Stage)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set on completion")
	}

	rows, err := f.arts.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob() error = %v", err)
	}
	kinds := map[string]int{}
	for _, a := range rows {
		kinds[a.Kind]++
	}
	if kinds[artifacts.KindSummary] != 1 || kinds[artifacts.KindKeyPoints] != 1 || kinds[artifacts.KindGlossary] != 1 {
		t.Fatalf("text artifact counts = %v", kinds)
	}
	if kinds[artifacts.KindHeroImage] != 1 {
		t.Fatalf("hero image count = %d, want 1", kinds[artifacts.KindHeroImage])
	}
	if kinds[artifacts.KindSectionImage] != job.SectionCount {
		t.Fatalf("section images = %d, want %d", kinds[artifacts.KindSectionImage], job.SectionCount)
	}
}

func TestAnonymousSubmissionIsNeverBilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, submitInput("guest:abc"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.CostCredits != 0 {
		t.Fatalf("anonymous cost = %d, want 0", job.CostCredits)
	}
	ev := f.sink.wait(t)
	if ev.Outcome != notify.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", ev.Outcome)
	}
	entries, err := f.ledger.EntriesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("EntriesForJob() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("anonymous job produced %d ledger entries, want 0", len(entries))
	}
}

func TestSubmitDeniedWhenUnderfunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Credit(ctx, "user-2", 5, ledger.CategoryCreditGrant); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	_, err := f.svc.Submit(ctx, submitInput("user-2"))
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Submit() error = %v, want DeniedError", err)
	}
	if denied.Reason != admission.ReasonInsufficientFunds {
		t.Fatalf("reason = %q, want insufficient_funds", denied.Reason)
	}

	// A denied submission must leave nothing behind.
	briefs, err := f.repo.ListByIdentity(ctx, "user-2", 0, 0)
	if err != nil {
		t.Fatalf("ListByIdentity() error = %v", err)
	}
	if len(briefs) != 0 {
		t.Fatalf("denied submission created %d jobs", len(briefs))
	}
}

func TestRetryResumesWithoutRepeatingPaidWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Credit(ctx, "user-3", 30, ledger.CategoryCreditGrant); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	// First run fails during the glossary substage, after the summary has
	// been saved and the charge has landed.
	f.text.failSub = "domain-specific terms"
	f.text.failErr = errors.New("provider exploded")

	job, err := f.svc.Submit(ctx, submitInput("user-3"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ev := f.sink.wait(t)
	if ev.Outcome != notify.OutcomeFailed {
		t.Fatalf("first run outcome = %q, want failed", ev.Outcome)
	}

	got, _ := f.repo.GetByID(ctx, job.ID)
	if got.Stage != StageFailed {
		t.Fatalf("stage after failure = %q, want failed", got.Stage)
	}
	if n := f.text.countContaining("summary"); n != 1 {
		t.Fatalf("summary calls after first run = %d, want 1", n)
	}

	// Retry with a healthy provider resumes past the summary.
	f.text.failSub = ""
	if _, err := f.svc.Retry(ctx, "10.0.0.1", "user-3", job.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	ev = f.sink.wait(t)
	if ev.Outcome != notify.OutcomeCompleted {
		t.Fatalf("retry outcome = %q, want completed (message %q)", ev.Outcome, ev.Message)
	}

	if n := f.text.countContaining("summary"); n != 1 {
		t.Fatalf("summary regenerated on retry: %d calls, want 1", n)
	}
	entries, err := f.ledger.EntriesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("EntriesForJob() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries after retry = %d, want exactly 1", len(entries))
	}
	balance, _ := f.ledger.Balance(ctx, "user-3")
	if balance != 20 {
		t.Fatalf("balance after retry = %d, want 20", balance)
	}
}

// unsavableArtifacts fails the first Create of one artifact kind and passes
// everything else through, modeling a storage blip between the charge and
// the summary save.
type unsavableArtifacts struct {
	artifacts.Repo
	mu       sync.Mutex
	failKind string
	tripped  bool
}

func (r *unsavableArtifacts) Create(ctx context.Context, a artifacts.Artifact) error {
	r.mu.Lock()
	fail := a.Kind == r.failKind && !r.tripped
	if fail {
		r.tripped = true
	}
	r.mu.Unlock()
	if fail {
		return errors.New("artifact store unavailable")
	}
	return r.Repo.Create(ctx, a)
}

func TestRetryDoesNotRebillWhenSummarySaveFailedAfterDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Credit(ctx, "user-6", 30, ledger.CategoryCreditGrant); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	// First run: the debit lands, then the summary row fails to persist.
	f.svc.Artifacts = &unsavableArtifacts{Repo: f.arts, failKind: artifacts.KindSummary}

	job, err := f.svc.Submit(ctx, submitInput("user-6"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ev := f.sink.wait(t)
	if ev.Outcome != notify.OutcomeFailed {
		t.Fatalf("first run outcome = %q, want failed", ev.Outcome)
	}
	entries, err := f.ledger.EntriesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("EntriesForJob() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries after failed save = %d, want 1", len(entries))
	}

	// Retry regenerates the summary but must not charge again.
	if _, err := f.svc.Retry(ctx, "10.0.0.1", "user-6", job.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	ev = f.sink.wait(t)
	if ev.Outcome != notify.OutcomeCompleted {
		t.Fatalf("retry outcome = %q, want completed (message %q)", ev.Outcome, ev.Message)
	}
	if n := f.text.countContaining("summary"); n != 2 {
		t.Fatalf("summary calls = %d, want 2 (regenerated after lost save)", n)
	}
	entries, err = f.ledger.EntriesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("EntriesForJob() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries after retry = %d, want exactly 1", len(entries))
	}
	balance, _ := f.ledger.Balance(ctx, "user-6")
	if balance != 20 {
		t.Fatalf("balance after retry = %d, want 20", balance)
	}
}

func TestRetryDuringActiveRunStartsNoSecondPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.Credit(ctx, "user-7", 30, ledger.CategoryCreditGrant); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	// Hold the first pipeline inside the summary generation.
	gate := make(chan struct{})
	f.text.gate = gate

	job, err := f.svc.Submit(ctx, submitInput("user-7"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for f.text.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pipeline never reached the provider")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A retry issued mid-run must not duplicate in-flight work.
	if _, err := f.svc.Retry(ctx, "10.0.0.1", "user-7", job.ID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := f.text.countContaining("summary"); n != 1 {
		t.Fatalf("summary calls with retry in flight = %d, want 1", n)
	}

	close(gate)
	ev := f.sink.wait(t)
	if ev.Outcome != notify.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed (message %q)", ev.Outcome, ev.Message)
	}
	if n := f.text.countContaining("summary"); n != 1 {
		t.Fatalf("summary calls after completion = %d, want 1", n)
	}
	entries, err := f.ledger.EntriesForJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("EntriesForJob() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want exactly 1", len(entries))
	}
}

func TestImageFailuresDoNotFailTheBrief(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.images.err = errors.New("image provider down")

	job, err := f.svc.Submit(ctx, submitInput("guest:xyz"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ev := f.sink.wait(t)
	if ev.Outcome != notify.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed despite image failures", ev.Outcome)
	}
	if !strings.Contains(ev.Message, "skipped") {
		t.Fatalf("completion message %q does not surface skipped images", ev.Message)
	}

	got, _ := f.repo.GetByID(ctx, job.ID)
	if got.Stage != StageCompleted {
		t.Fatalf("stage = %q, want completed", got.Stage)
	}
	rows, _ := f.arts.ListByJob(ctx, job.ID)
	for _, a := range rows {
		if a.Kind == artifacts.KindHeroImage || a.Kind == artifacts.KindSectionImage {
			t.Fatalf("unexpected image artifact %q after total image failure", a.Kind)
		}
	}
}

func TestRetryRejectsCompletedJobAndForeignIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Submit(ctx, submitInput("guest:one"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	f.sink.wait(t)

	if _, err := f.svc.Retry(ctx, "10.0.0.1", "guest:one", job.ID); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("Retry(completed) error = %v, want ErrNotRetryable", err)
	}
	if _, err := f.svc.Retry(ctx, "10.0.0.1", "guest:other", job.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Retry(foreign identity) error = %v, want ErrNotOwner", err)
	}
	if _, err := f.svc.Retry(ctx, "10.0.0.1", "guest:one", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Retry(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetProgressSynthesizesFromJobWhenNoSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := Job{
		ID:           "job-1",
		Identity:     "user-9",
		SectionCount: 2,
		Stage:        StageArtifactsDone,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := f.repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	snap, err := f.svc.GetProgress(ctx, "user-9", "job-1")
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if snap.Stage != StageArtifactsDone {
		t.Fatalf("snapshot stage = %q, want %q", snap.Stage, StageArtifactsDone)
	}
	if snap.TotalSteps != totalSteps(2) {
		t.Fatalf("total steps = %d, want %d", snap.TotalSteps, totalSteps(2))
	}
	if _, err := f.svc.GetProgress(ctx, "user-other", "job-1"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign identity error = %v, want ErrNotOwner", err)
	}
}
