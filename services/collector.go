package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"land-collector/client"
	"land-collector/metrics"
	"land-collector/models"
	"land-collector/storage"
	"land-collector/utils"
)

// errBatchAborted marks listings never scheduled because the batch stopped.
var errBatchAborted = errors.New("batch aborted")

// CompositeFetcher assembles the raw sections of one listing.
type CompositeFetcher interface {
	FetchComposite(ctx context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error)
}

// ListingError is a listing-level failure with the stage it happened in.
type ListingError struct {
	Ref     models.ListingRef
	Stage   string
	Outcome models.Outcome
	Err     error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("listing %s: %s: %v", e.Ref, e.Stage, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

type CollectorOptions struct {
	Workers       int
	ShutdownGrace time.Duration
}

// Collector runs fetch, normalize, validate and persist for each listing on
// a bounded worker pool and accounts for every identifier in the report.
type Collector struct {
	fetcher    CompositeFetcher
	normalizer *Normalizer
	validator  *Validator
	gateway    storage.Gateway
	opts       CollectorOptions
	logger     *utils.Logger
}

func NewCollector(fetcher CompositeFetcher, normalizer *Normalizer, validator *Validator,
	gateway storage.Gateway, opts CollectorOptions, logger *utils.Logger) *Collector {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Collector{
		fetcher:    fetcher,
		normalizer: normalizer,
		validator:  validator,
		gateway:    gateway,
		opts:       opts,
		logger:     logger,
	}
}

// Run processes refs and returns the batch report. Cancelling ctx stops
// scheduling; listings already running get ShutdownGrace to finish before
// their requests are cancelled. An AuthError stops the batch the same way.
func (c *Collector) Run(ctx context.Context, refs []models.ListingRef) *models.BatchReport {
	report := &models.BatchReport{ID: uuid.NewString(), StartedAt: time.Now()}
	log := c.logger.With(map[string]any{"batch": report.ID})

	seen := utils.NewIDSet()
	unique := make([]models.ListingRef, 0, len(refs))
	for _, ref := range refs {
		if !seen.Add(ref.String()) {
			report.Duplicates = append(report.Duplicates, ref.String())
			continue
		}
		unique = append(unique, ref)
	}
	if len(report.Duplicates) > 0 {
		log.Warn("[collector] %d duplicate identifiers will be processed once", len(report.Duplicates))
	}
	log.Info("[collector] Starting batch — %d listings, %d workers", len(unique), c.opts.Workers)

	// In-flight work outlives ctx by the grace period.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	var grace atomic.Pointer[time.Timer]
	stopGrace := context.AfterFunc(ctx, func() {
		log.Warn("[collector] Shutdown requested, draining in-flight listings for up to %v", c.opts.ShutdownGrace)
		grace.Store(time.AfterFunc(c.opts.ShutdownGrace, cancelWork))
	})
	defer func() {
		stopGrace()
		if t := grace.Load(); t != nil {
			t.Stop()
		}
	}()

	schedCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	results := make([]*models.ListingOutcome, len(unique))
	pool := utils.NewWorkerPool(c.opts.Workers)
	for i, ref := range unique {
		if schedCtx.Err() != nil {
			break
		}
		ok := pool.Submit(schedCtx, func() {
			if schedCtx.Err() != nil {
				return
			}
			out := c.process(workCtx, ref, abort)
			results[i] = &out
		})
		if !ok {
			break
		}
	}
	pool.Wait()

	cause := context.Cause(schedCtx)
	var authErr *client.AuthError
	if errors.As(cause, &authErr) {
		report.Aborted = true
		report.AbortCause = authErr.Error()
		log.Error("[collector] Batch aborted: %v", authErr)
	}

	for i, res := range results {
		if res != nil {
			report.Listings = append(report.Listings, *res)
			continue
		}
		reason := errBatchAborted
		if !report.Aborted {
			reason = fmt.Errorf("%w: shutdown before processing", errBatchAborted)
		}
		lerr := &ListingError{Ref: unique[i], Stage: models.StageFetch, Outcome: models.OutcomeRejectedFetch, Err: reason}
		report.Listings = append(report.Listings, c.reject(models.ListingOutcome{Ref: unique[i]}, lerr))
	}

	report.FinishedAt = time.Now()
	log.Info("[collector] Batch finished in %v — %d listings reported",
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), len(report.Listings))
	return report
}

// process runs one listing end to end. It never returns without an outcome.
func (c *Collector) process(ctx context.Context, ref models.ListingRef, abort context.CancelCauseFunc) models.ListingOutcome {
	log := c.logger.With(map[string]any{"listing": ref.String()})
	out := models.ListingOutcome{Ref: ref}

	composite, err := c.fetcher.FetchComposite(ctx, ref)
	if composite != nil {
		tally := composite.Tally()
		out.Tally = &tally
	}
	if lerr := fetchFailure(ref, composite, err); lerr != nil {
		var authErr *client.AuthError
		if errors.As(err, &authErr) {
			abort(authErr)
		}
		return c.reject(out, lerr)
	}

	rec := c.normalizer.Normalize(composite)
	out.Provenance = rec.Provenances()
	for field, tag := range out.Provenance {
		metrics.FieldProvenance.WithLabelValues(field, string(tag)).Inc()
	}

	vr := c.validator.Validate(rec)
	out.Violations = vr.Violations
	if vr.Fatal() {
		return c.reject(out, &ListingError{
			Ref:     ref,
			Stage:   models.StageValidate,
			Outcome: models.OutcomeRejectedValidation,
			Err:     &ValidationFailure{ListingID: rec.ListingID, Violations: vr.Violations},
		})
	}

	if err := c.gateway.Persist(ctx, rec, vr); err != nil {
		return c.reject(out, &ListingError{
			Ref:     ref,
			Stage:   models.StagePersist,
			Outcome: models.OutcomeRejectedPersistence,
			Err:     err,
		})
	}

	out.Outcome = models.OutcomePersisted
	if vr.HasWarnings() {
		out.Outcome = models.OutcomePersistedWithWarnings
	}
	out.Stage = models.StagePersist
	metrics.ListingOutcomes.WithLabelValues(string(out.Outcome)).Inc()
	log.Info("[collector] %s (%d warnings)", out.Outcome, len(vr.BySeverity(models.SeverityWarning)))
	return out
}

// fetchFailure decides whether a composite is unusable.
func fetchFailure(ref models.ListingRef, composite *models.CompositeRawRecord, err error) *ListingError {
	fail := func(err error) *ListingError {
		return &ListingError{Ref: ref, Stage: models.StageFetch, Outcome: models.OutcomeRejectedFetch, Err: err}
	}
	if err != nil {
		return fail(err)
	}

	var limited []string
	for _, name := range models.Sections {
		if res := composite.Sections[name]; !res.Present && res.Kind == models.KindRateLimit {
			limited = append(limited, string(name))
		}
	}
	if len(limited) > 0 {
		return fail(fmt.Errorf("rate limit exhausted for sections %s", strings.Join(limited, ", ")))
	}
	if tally := composite.Tally(); len(tally.Present) == 0 {
		return fail(errors.New("no section returned data"))
	}
	return nil
}

func (c *Collector) reject(out models.ListingOutcome, lerr *ListingError) models.ListingOutcome {
	out.Outcome = lerr.Outcome
	out.Stage = lerr.Stage
	out.Cause = lerr.Err.Error()
	metrics.ListingOutcomes.WithLabelValues(string(out.Outcome)).Inc()
	c.logger.Warn("[collector] %s — %v", out.Outcome, lerr)
	return out
}
