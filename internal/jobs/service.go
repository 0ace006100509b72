// Package jobs coordinates the staged brief pipeline: summary, derived text
// artifacts, cover image, section images. Stages advance monotonically, paid
// work is charged exactly once, and retries resume from the first stage whose
// outputs are missing.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docbrief-backend/internal/admission"
	"docbrief-backend/internal/artifacts"
	"docbrief-backend/internal/batch"
	"docbrief-backend/internal/images"
	"docbrief-backend/internal/ledger"
	"docbrief-backend/internal/llm"
	"docbrief-backend/internal/notify"
	"docbrief-backend/internal/parse"
	"docbrief-backend/internal/progress"
	"docbrief-backend/internal/shared/metrics"
	"docbrief-backend/internal/shared/storage/object"
	"docbrief-backend/internal/shared/telemetry"
	"docbrief-backend/internal/shared/util"
)

// DefaultCostCredits is the flat per-brief charge for identified submitters.
const DefaultCostCredits = 10

const maxDocumentBytes = 20 << 20

// DeniedError is returned when admission refuses a submission or retry.
type DeniedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return "submission denied: " + e.Reason
}

// pipelineError carries the structured reason alongside the cause so the
// failure path can record one without leaking the other.
type pipelineError struct {
	reason string
	err    error
}

func (e *pipelineError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *pipelineError) Unwrap() error { return e.err }

func providerErr(err error) error { return &pipelineError{reason: ReasonProviderError, err: err} }
func storageErr(err error) error  { return &pipelineError{reason: ReasonStorageError, err: err} }

func reasonOf(err error) string {
	var pe *pipelineError
	if errors.As(err, &pe) {
		return pe.reason
	}
	return ReasonInternal
}

// Service is the pipeline coordinator.
type Service struct {
	Repo      Repo
	Artifacts artifacts.Repo
	Ledger    *ledger.Service
	Admission *admission.Controller
	Progress  *progress.Publisher
	Store     object.ObjectStore
	Text      llm.Client
	Images    images.Client
	Notifier  notify.Sink

	CostCredits      int
	ImageConcurrency int

	// running holds the IDs of jobs with an active pipeline so a retry
	// issued mid-run cannot start a second one over the same stages.
	running sync.Map
}

// NewService wires the coordinator with its collaborators. Zero values for
// CostCredits and ImageConcurrency fall back to the defaults.
func NewService(repo Repo, artifactRepo artifacts.Repo, led *ledger.Service, adm *admission.Controller, pub *progress.Publisher, store object.ObjectStore, text llm.Client, imgs images.Client, sink notify.Sink) *Service {
	return &Service{
		Repo:             repo,
		Artifacts:        artifactRepo,
		Ledger:           led,
		Admission:        adm,
		Progress:         pub,
		Store:            store,
		Text:             text,
		Images:           imgs,
		Notifier:         sink,
		CostCredits:      DefaultCostCredits,
		ImageConcurrency: batch.DefaultConcurrency,
	}
}

// SubmitInput is one document submission.
type SubmitInput struct {
	SourceKey string
	Identity  string
	FileName  string
	MimeType  string
	Data      []byte
}

// Submit admits, validates, and persists a new job, then starts the pipeline
// in the background. Admission and parsing both run before any record is
// created, so a rejected or malformed submission leaves nothing behind.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Job, error) {
	if len(in.Data) == 0 {
		return Job{}, fmt.Errorf("empty document")
	}
	if len(in.Data) > maxDocumentBytes {
		return Job{}, fmt.Errorf("document exceeds %d bytes", maxDocumentBytes)
	}
	fileName, err := util.SanitizeFileName(in.FileName)
	if err != nil {
		return Job{}, fmt.Errorf("sanitize file name: %w", err)
	}

	cost := s.cost(in.Identity)
	decision, err := s.Admission.Admit(ctx, in.SourceKey, in.Identity, cost)
	if err != nil {
		return Job{}, fmt.Errorf("admission check: %w", err)
	}
	if !decision.Allowed {
		return Job{}, &DeniedError{Reason: decision.Reason, RetryAfter: decision.RetryAfter}
	}

	doc, err := parse.Parse(ctx, in.Data, in.MimeType, fileName)
	if err != nil {
		return Job{}, fmt.Errorf("parse document: %w", err)
	}

	key, _, _, err := s.Store.Save(ctx, storageOwner(in.Identity), fileName, bytes.NewReader(in.Data))
	if err != nil {
		return Job{}, fmt.Errorf("store document: %w", err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:           uuid.NewString(),
		Identity:     in.Identity,
		Title:        doc.Title,
		DocumentKey:  key,
		SectionCount: len(doc.Sections),
		CostCredits:  cost,
		Stage:        StageCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.Create(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}

	s.publish(ctx, job, StageCreated, 0, "queued")
	telemetry.Info("brief submitted", map[string]any{
		"job_id":   job.ID,
		"sections": job.SectionCount,
		"cost":     job.CostCredits,
	})

	go s.runPipeline(backgroundWithRequestID(ctx), job.ID)
	return job, nil
}

// Retry restarts a failed or stalled job. Completed jobs are not retryable.
// Only the rate gates run again; the credit gate does not, since a resumed
// job never re-bills.
func (s *Service) Retry(ctx context.Context, sourceKey, identity, jobID string) (Job, error) {
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ownedBy(job, identity) {
		return Job{}, ErrNotOwner
	}
	if job.Stage == StageCompleted {
		return Job{}, ErrNotRetryable
	}
	if d := s.Admission.AdmitRetry(sourceKey, identity); !d.Allowed {
		return Job{}, &DeniedError{Reason: d.Reason, RetryAfter: d.RetryAfter}
	}

	telemetry.Info("brief retry accepted", map[string]any{"job_id": job.ID, "stage": job.Stage})
	go s.runPipeline(backgroundWithRequestID(ctx), job.ID)
	return job, nil
}

// Get returns a job and its artifacts, enforcing ownership.
func (s *Service) Get(ctx context.Context, identity, jobID string) (Job, []artifacts.Artifact, error) {
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		return Job{}, nil, err
	}
	if !ownedBy(job, identity) {
		return Job{}, nil, ErrNotOwner
	}
	rows, err := s.Artifacts.ListByJob(ctx, jobID)
	if err != nil {
		return Job{}, nil, fmt.Errorf("list artifacts: %w", err)
	}
	return job, rows, nil
}

// List returns the identity's jobs, newest first.
func (s *Service) List(ctx context.Context, identity string, limit, offset int) ([]Job, error) {
	return s.Repo.ListByIdentity(ctx, identity, limit, offset)
}

// GetProgress returns the job's current snapshot. When no snapshot survives,
// for example after a restart with no durable mirror, one is synthesized from
// the stored stage so pollers always get an answer.
func (s *Service) GetProgress(ctx context.Context, identity, jobID string) (progress.Snapshot, error) {
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	if !ownedBy(job, identity) {
		return progress.Snapshot{}, ErrNotOwner
	}
	snap, ok, err := s.Progress.Resolve(ctx, jobID)
	if err != nil {
		telemetry.Error("progress resolve failed", map[string]any{"job_id": jobID, "error": err.Error()})
	}
	if ok {
		return snap, nil
	}
	return snapshotFromJob(job), nil
}

func snapshotFromJob(job Job) progress.Snapshot {
	snap := progress.Snapshot{
		Stage:      job.Stage,
		TotalSteps: totalSteps(job.SectionCount),
		UpdatedAt:  job.UpdatedAt,
	}
	switch job.Stage {
	case StageCompleted:
		snap.Step = snap.TotalSteps
		snap.Complete = true
	case StageFailed:
		snap.Error = job.LastError
	default:
		if rank, ok := StageRank(job.Stage); ok {
			snap.Step = rank
		}
	}
	return snap
}

func (s *Service) cost(identity string) int {
	if admission.IsAnonymous(identity) {
		return 0
	}
	if s.CostCredits > 0 {
		return s.CostCredits
	}
	return DefaultCostCredits
}

func ownedBy(job Job, identity string) bool {
	return job.Identity == "" || job.Identity == identity
}

func storageOwner(identity string) string {
	if identity == "" {
		return "anonymous"
	}
	return identity
}

// totalSteps is the progress denominator: summary, derived artifacts, cover
// image, then one step per section image.
func totalSteps(sectionCount int) int {
	return 3 + sectionCount
}

type sectionTask struct {
	index   int
	section parse.Section
}

// runPipeline executes every stage whose outputs are missing, in order. It is
// the only writer of a job's terminal state, so each invocation notifies at
// most once.
func (s *Service) runPipeline(ctx context.Context, jobID string) {
	if _, active := s.running.LoadOrStore(jobID, struct{}{}); active {
		telemetry.Info("pipeline already running", map[string]any{"job_id": jobID})
		return
	}
	defer s.running.Delete(jobID)

	started := time.Now()
	metrics.IncBriefStarted()
	defer func() {
		metrics.ObserveBriefDurationMs(float64(time.Since(started).Microseconds()) / 1000.0)
	}()
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("pipeline panicked", map[string]any{"job_id": jobID, "panic": fmt.Sprint(r)})
			if job, err := s.Repo.GetByID(ctx, jobID); err == nil {
				s.failJob(ctx, job, ReasonInternal, fmt.Errorf("panic: %v", r))
			}
		}
	}()

	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		telemetry.Error("pipeline load job failed", map[string]any{"job_id": jobID, "error": err.Error()})
		return
	}
	if job.Stage == StageCompleted {
		return
	}

	doc, err := s.loadDocument(ctx, job)
	if err != nil {
		s.failJob(ctx, job, ReasonStorageError, err)
		return
	}
	rp, err := deriveResumePoint(ctx, s.Artifacts, job.ID)
	if err != nil {
		s.failJob(ctx, job, ReasonStorageError, err)
		return
	}

	text := retryingText{inner: s.Text}
	imgs := retryingImages{inner: s.Images}

	// Stage 1: summary. The one-time charge lands here, immediately after
	// the first paid generation succeeds and before anything else can fail.
	if !rp.hasSummary {
		s.publish(ctx, job, StageCreated, 1, "summarizing document")
		gen, err := text.Generate(ctx, llm.GenerateInput{System: systemPrompt, Prompt: summaryPrompt(doc)})
		if err != nil {
			s.failJob(ctx, job, ReasonProviderError, err)
			return
		}
		if job.CostCredits > 0 && !admission.IsAnonymous(job.Identity) {
			// The charge and the summary save are not atomic, so a failed
			// save after a landed debit leaves a paid job with no summary
			// row. The ledger, not the artifact rows, is the authority on
			// whether this job was billed.
			charged, err := s.alreadyCharged(ctx, job.ID)
			if err != nil {
				s.failJob(ctx, job, ReasonStorageError, err)
				return
			}
			if !charged {
				if _, err := s.Ledger.Debit(ctx, job.Identity, job.CostCredits, job.ID); err != nil {
					// Admission vetted the balance; a refusal here means the
					// ledger moved underneath us. Abort without a charge.
					s.failJob(ctx, job, ReasonInternal, err)
					return
				}
			}
		}
		if err := s.saveText(ctx, job.ID, artifacts.KindSummary, 0, gen); err != nil {
			s.failJob(ctx, job, ReasonStorageError, err)
			return
		}
	}
	if !s.advance(ctx, &job, StageSummaryDone) {
		return
	}

	// Stage 2: key points and glossary in parallel. Each substage checks
	// its own output row so a crash between the two saves is not repeated.
	if !rp.hasDerived() {
		s.publish(ctx, job, StageSummaryDone, 2, "deriving key points and glossary")
		g, gctx := errgroup.WithContext(ctx)
		if !rp.hasKeyPoints {
			g.Go(func() error {
				gen, err := text.Generate(gctx, llm.GenerateInput{System: systemPrompt, Prompt: keyPointsPrompt(doc)})
				if err != nil {
					return providerErr(err)
				}
				if err := s.saveText(gctx, job.ID, artifacts.KindKeyPoints, 0, gen); err != nil {
					return storageErr(err)
				}
				return nil
			})
		}
		if !rp.hasGlossary {
			g.Go(func() error {
				gen, err := text.Generate(gctx, llm.GenerateInput{System: systemPrompt, Prompt: glossaryPrompt(doc)})
				if err != nil {
					return providerErr(err)
				}
				if err := s.saveText(gctx, job.ID, artifacts.KindGlossary, 0, gen); err != nil {
					return storageErr(err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			s.failJob(ctx, job, reasonOf(err), err)
			return
		}
	}
	if !s.advance(ctx, &job, StageArtifactsDone) {
		return
	}

	// Stage 3: cover image. Image failures never fail the brief; the stage
	// is skipped and the miss is reported on completion.
	skippedImages := 0
	if !rp.hasHero {
		s.publish(ctx, job, StageArtifactsDone, 3, "rendering cover image")
		ref, err := imgs.Generate(ctx, heroImagePrompt(doc))
		if err == nil {
			err = s.saveImage(ctx, job.ID, artifacts.KindHeroImage, 0, ref)
		}
		if err != nil {
			skippedImages++
			telemetry.Error("cover image skipped", map[string]any{"job_id": job.ID, "error": err.Error()})
		}
	}
	if !s.advance(ctx, &job, StageHeroImageDone) {
		return
	}

	// Stage 4: section images with bounded concurrency. Per-section failures
	// are isolated; the stage completes with whatever rendered.
	var pending []sectionTask
	for i, sec := range doc.Sections {
		if !rp.sectionsImaged[i] {
			pending = append(pending, sectionTask{index: i, section: sec})
		}
	}
	alreadyDone := len(doc.Sections) - len(pending)
	if len(pending) > 0 {
		sum := batch.Run(ctx, pending, s.ImageConcurrency, func(tctx context.Context, t sectionTask) error {
			ref, err := imgs.Generate(tctx, sectionImagePrompt(t.section))
			if err != nil {
				return err
			}
			return s.saveImage(tctx, job.ID, artifacts.KindSectionImage, t.index, ref)
		}, func(completed, total int) {
			s.publish(ctx, job, StageHeroImageDone, 3+alreadyDone+completed,
				fmt.Sprintf("image %d of %d", alreadyDone+completed, len(doc.Sections)))
		})
		skippedImages += len(sum.Failed)
		for _, f := range sum.Failed {
			telemetry.Error("section image skipped", map[string]any{
				"job_id":  job.ID,
				"section": f.Task.index,
				"error":   f.Err.Error(),
			})
		}
	}
	if !s.advance(ctx, &job, StageSectionImagesDone) {
		return
	}
	if !s.advance(ctx, &job, StageCompleted) {
		return
	}

	message := "brief completed"
	if skippedImages > 0 {
		message = fmt.Sprintf("brief completed, %d image(s) skipped", skippedImages)
	}
	s.Progress.Publish(ctx, job.ID, progress.Snapshot{
		Stage:      StageCompleted,
		Step:       totalSteps(job.SectionCount),
		TotalSteps: totalSteps(job.SectionCount),
		Message:    message,
		Complete:   true,
		UpdatedAt:  time.Now().UTC(),
	})
	s.Notifier.Notify(ctx, notify.Event{
		JobID:      job.ID,
		Identity:   job.Identity,
		Outcome:    notify.OutcomeCompleted,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	})
	metrics.IncBriefCompleted()
	metrics.AddImagesSkipped(skippedImages)
	telemetry.Info("brief completed", map[string]any{"job_id": job.ID, "skipped_images": skippedImages})
}

// advance moves the stage forward, treating a regression rejection as fatal
// for this run since another writer already owns the job.
func (s *Service) advance(ctx context.Context, job *Job, stage string) bool {
	if rank, ok := StageRank(job.Stage); ok {
		if target, ok := StageRank(stage); ok && target <= rank {
			return true
		}
	}
	if err := s.Repo.AdvanceStage(ctx, job.ID, stage); err != nil {
		telemetry.Error("stage advance failed", map[string]any{"job_id": job.ID, "stage": stage, "error": err.Error()})
		return false
	}
	job.Stage = stage
	return true
}

func (s *Service) publish(ctx context.Context, job Job, stage string, step int, message string) {
	s.Progress.Publish(ctx, job.ID, progress.Snapshot{
		Stage:      stage,
		Step:       step,
		TotalSteps: totalSteps(job.SectionCount),
		Message:    message,
		UpdatedAt:  time.Now().UTC(),
	})
}

func (s *Service) failJob(ctx context.Context, job Job, reason string, cause error) {
	metrics.IncBriefFailed()
	telemetry.Error("brief failed", map[string]any{
		"job_id": job.ID,
		"stage":  job.Stage,
		"reason": reason,
		"error":  cause.Error(),
	})
	if err := s.Repo.MarkFailed(ctx, job.ID, reason); err != nil {
		telemetry.Error("mark failed errored", map[string]any{"job_id": job.ID, "error": err.Error()})
	}
	s.Progress.Publish(ctx, job.ID, progress.Snapshot{
		Stage:      StageFailed,
		TotalSteps: totalSteps(job.SectionCount),
		Message:    "processing failed",
		Error:      reason,
		UpdatedAt:  time.Now().UTC(),
	})
	s.Notifier.Notify(ctx, notify.Event{
		JobID:      job.ID,
		Identity:   job.Identity,
		Outcome:    notify.OutcomeFailed,
		Message:    reason,
		OccurredAt: time.Now().UTC(),
	})
}

// alreadyCharged reports whether a debit entry for the job exists.
func (s *Service) alreadyCharged(ctx context.Context, jobID string) (bool, error) {
	entries, err := s.Ledger.EntriesForJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("ledger entries for job: %w", err)
	}
	for _, e := range entries {
		if e.Category == ledger.CategoryDebitForJob {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) loadDocument(ctx context.Context, job Job) (parse.Document, error) {
	rc, err := s.Store.Open(ctx, job.DocumentKey)
	if err != nil {
		return parse.Document{}, fmt.Errorf("open document: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return parse.Document{}, fmt.Errorf("read document: %w", err)
	}
	doc, err := parse.Parse(ctx, data, "", job.DocumentKey)
	if err != nil {
		return parse.Document{}, fmt.Errorf("reparse document: %w", err)
	}
	return doc, nil
}

func (s *Service) saveText(ctx context.Context, jobID, kind string, section int, gen llm.Generation) error {
	return s.Artifacts.Create(ctx, artifacts.Artifact{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Kind:       kind,
		Section:    section,
		Content:    gen.Text,
		TokensUsed: gen.TokensUsed,
		CreatedAt:  time.Now().UTC(),
	})
}

func (s *Service) saveImage(ctx context.Context, jobID, kind string, section int, ref images.ImageRef) error {
	url := ref.URL
	if len(ref.Data) > 0 {
		key := fmt.Sprintf("briefs/%s/%s_%d.png", jobID, kind, section)
		if _, err := s.Store.SaveWithKey(ctx, key, "image/png", bytes.NewReader(ref.Data)); err != nil {
			return fmt.Errorf("store image: %w", err)
		}
		url = s.Store.URL(key)
	}
	return s.Artifacts.Create(ctx, artifacts.Artifact{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Kind:      kind,
		Section:   section,
		URL:       url,
		CreatedAt: time.Now().UTC(),
	})
}
