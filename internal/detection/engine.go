// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package detection

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shadowcheck/internal/geo"
	"github.com/tomtom215/shadowcheck/internal/logging"
	"github.com/tomtom215/shadowcheck/internal/metrics"
)

// RunStatus is the outcome of an analysis run.
type RunStatus string

const (
	// RunSucceeded means every finding was written.
	RunSucceeded RunStatus = "succeeded"
	// RunPartial means the run finished but some detector, write or
	// promotion failed.
	RunPartial RunStatus = "partial"
	// RunFailed means the run could not load its inputs.
	RunFailed RunStatus = "failed"
	// RunAborted means the job timed out or was cancelled before writing.
	RunAborted RunStatus = "aborted"
)

// DetectorStatus is the outcome of one detector within a run.
type DetectorStatus string

const (
	DetectorOK       DetectorStatus = "ok"
	DetectorSkipped  DetectorStatus = "skipped"
	DetectorFailed   DetectorStatus = "failed"
	DetectorDisabled DetectorStatus = "disabled"
)

// DetectorReport summarizes one detector pass.
type DetectorReport struct {
	Detector   DetectorType   `json:"detector"`
	Status     DetectorStatus `json:"status"`
	Findings   int            `json:"findings"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// RunReport summarizes one analysis run.
type RunReport struct {
	RunID            string            `json:"run_id"`
	Status           RunStatus         `json:"status"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Window           TimeSpan          `json:"window"`
	Quality          DataQualityReport `json:"data_quality"`
	Detectors        []DetectorReport  `json:"detectors"`
	Findings         int               `json:"findings"`
	Upserted         int               `json:"upserted"`
	SinkFailures     int               `json:"sink_failures"`
	Replayed         int               `json:"replayed"`
	IncidentsCreated int               `json:"incidents_created"`
	Error            string            `json:"error,omitempty"`
}

// EngineConfig configures an analysis run.
type EngineConfig struct {
	// Window is how far back each run looks.
	Window time.Duration `json:"window" validate:"gt=0"`

	// JobTimeout bounds a whole run. Nothing is written once it expires.
	JobTimeout time.Duration `json:"job_timeout" validate:"gt=0"`

	// DedupBucket is the span-start bucket used in dedup keys.
	DedupBucket time.Duration `json:"dedup_bucket" validate:"gt=0"`

	// TimestampFloor rejects observations older than this as corrupt.
	TimestampFloor time.Time `json:"timestamp_floor"`

	// MaxClockSkew accepts observations this far in the future.
	MaxClockSkew time.Duration `json:"max_clock_skew" validate:"gte=0"`

	// PromotionThreshold is the minimum confidence for an incident.
	PromotionThreshold float64 `json:"promotion_threshold" validate:"gt=0,lte=1"`

	Sink SinkConfig `json:"sink"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Window:             30 * 24 * time.Hour,
		JobTimeout:         10 * time.Minute,
		DedupBucket:        DefaultDedupBucket,
		TimestampFloor:     geo.DefaultTimestampFloor,
		MaxClockSkew:       5 * time.Minute,
		PromotionThreshold: DefaultPromotionThreshold,
		Sink:               DefaultSinkConfig(),
	}
}

// Engine runs the detectors over a time window and persists the results.
type Engine struct {
	repo     ObservationRepository
	store    Store
	sink     *Sink
	promoter *Promoter
	config   EngineConfig

	mu        sync.RWMutex
	detectors []Detector
	notifiers []Notifier
	publisher Publisher
	journal   Journal
	last      *RunReport
	now       func() time.Time

	running atomic.Bool
}

// NewEngine creates an engine reading from repo and writing to store.
// Detectors are added with RegisterDetector.
func NewEngine(repo ObservationRepository, store Store, cfg EngineConfig) *Engine {
	if cfg.DedupBucket <= 0 {
		cfg.DedupBucket = DefaultDedupBucket
	}
	return &Engine{
		repo:     repo,
		store:    store,
		sink:     NewSink(store, cfg.Sink),
		promoter: NewPromoter(store, cfg.PromotionThreshold),
		config:   cfg,
		now:      time.Now,
	}
}

// RegisterDetector adds a detector, replacing any with the same type.
// Detectors always run and report in canonical order.
func (e *Engine) RegisterDetector(detector Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := detector.Type()
	replaced := false
	for i, d := range e.detectors {
		if d.Type() == t {
			e.detectors[i] = detector
			replaced = true
			break
		}
	}
	if !replaced {
		e.detectors = append(e.detectors, detector)
	}
	sort.SliceStable(e.detectors, func(i, j int) bool {
		return detectorOrder(e.detectors[i].Type()) < detectorOrder(e.detectors[j].Type())
	})

	logging.Info().Str("detector", string(t)).Bool("enabled", detector.Enabled()).Msg("registered detector")
}

// RegisterNotifier adds a notifier to the engine.
func (e *Engine) RegisterNotifier(notifier Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.notifiers = append(e.notifiers, notifier)
	logging.Info().Str("notifier", notifier.Name()).Msg("registered notifier")
}

// SetPublisher sets the event publisher for persisted anomalies and new incidents.
func (e *Engine) SetPublisher(p Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

// SetJournal sets the journal that holds failed writes for replay.
func (e *Engine) SetJournal(j Journal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = j
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// GetDetector returns a detector by type.
func (e *Engine) GetDetector(t DetectorType) (Detector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.detectors {
		if d.Type() == t {
			return d, true
		}
	}
	return nil, false
}

// ListDetectors returns all registered detectors in canonical order.
func (e *Engine) ListDetectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Detector(nil), e.detectors...)
}

// ConfigureDetector updates a detector's configuration.
func (e *Engine) ConfigureDetector(t DetectorType, config json.RawMessage) error {
	d, ok := e.GetDetector(t)
	if !ok {
		return fmt.Errorf("detector not found: %s", t)
	}
	return d.Configure(config)
}

// SetDetectorEnabled enables or disables a specific detector.
func (e *Engine) SetDetectorEnabled(t DetectorType, enabled bool) error {
	d, ok := e.GetDetector(t)
	if !ok {
		return fmt.Errorf("detector not found: %s", t)
	}
	d.SetEnabled(enabled)
	return nil
}

// LastReport returns a copy of the most recent run report, or nil.
func (e *Engine) LastReport() *RunReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	r.Detectors = append([]DetectorReport(nil), e.last.Detectors...)
	return &r
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run performs one analysis pass over [now-Window, now]. Only one run may
// be active at a time; a concurrent call returns ErrRunInProgress. The
// report is returned for every run that starts; the error is non-nil for
// failed and aborted runs.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	e.mu.RLock()
	now := e.now
	e.mu.RUnlock()

	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)

	started := now().UTC()
	report := &RunReport{
		RunID:     runID,
		StartedAt: started,
		Window:    TimeSpan{Start: started.Add(-e.config.Window), End: started},
	}

	if e.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.JobTimeout)
		defer cancel()
	}

	logging.Ctx(ctx).Info().
		Time("window_start", report.Window.Start).
		Time("window_end", report.Window.End).
		Msg("Analysis run started")

	err := e.execute(ctx, report, started)

	report.FinishedAt = now().UTC()
	if err != nil {
		report.Error = err.Error()
	}
	e.finish(ctx, report)
	return report, err
}

func (e *Engine) execute(ctx context.Context, report *RunReport, started time.Time) error {
	replayed := e.replayJournal(ctx, report)

	in, err := e.loadInput(ctx, report, started)
	if err != nil {
		if ctx.Err() != nil {
			report.Status = RunAborted
			return fmt.Errorf("analysis run aborted: %w", ctx.Err())
		}
		report.Status = RunFailed
		return err
	}

	results := e.runDetectors(ctx, in)
	degraded := false
	for _, res := range results {
		report.Detectors = append(report.Detectors, res.report)
		if res.report.Status == DetectorFailed {
			degraded = true
		}
	}

	records := mergeFindings(results, e.config.DedupBucket)
	for _, r := range records {
		r.ClassificationLabel = Classify(r.ConfidenceScore)
		r.RunID = report.RunID
		r.FirstDetectedAt = started
		r.LastDetectedAt = started
	}
	report.Findings = len(records)

	// Nothing is written for a run that ran out of time.
	if err := ctx.Err(); err != nil {
		report.Status = RunAborted
		logging.Ctx(ctx).Warn().Int("findings", len(records)).Msg("Analysis run timed out before writing findings")
		return fmt.Errorf("analysis run aborted: %w", err)
	}

	persisted := e.persist(ctx, records, report)
	if report.SinkFailures > 0 {
		degraded = true
	}

	candidates := append(replayed, persisted...)
	incidents, err := e.promoter.Promote(ctx, candidates)
	if err != nil {
		degraded = true
	}
	report.IncidentsCreated = len(incidents)

	e.publish(ctx, persisted, incidents)
	e.notify(ctx, incidents)

	report.Status = RunSucceeded
	if degraded {
		report.Status = RunPartial
	}
	return nil
}

// loadInput fetches and aggregates everything the detectors need.
func (e *Engine) loadInput(ctx context.Context, report *RunReport, started time.Time) (*Input, error) {
	ceiling := started.Add(e.config.MaxClockSkew)

	refs, err := e.repo.FetchReferenceLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch reference locations: %w", err)
	}
	obs, err := e.repo.FetchObservations(ctx, report.Window.Start, ceiling)
	if err != nil {
		return nil, fmt.Errorf("fetch observations: %w", err)
	}
	track, err := e.repo.FetchPositionTrack(ctx, report.Window.Start, ceiling)
	if err != nil {
		return nil, fmt.Errorf("fetch position track: %w", err)
	}
	sort.SliceStable(track, func(i, j int) bool { return track[i].At.Before(track[j].At) })

	agg := Aggregate(obs, refs, AggregateOptions{
		Window:           TimeSpan{Start: report.Window.Start, End: ceiling},
		TimestampFloor:   e.config.TimestampFloor,
		TimestampCeiling: ceiling,
	})
	report.Quality = agg.Quality
	metrics.RecordDataQuality(agg.Quality.Accepted, agg.Quality.Reasons())

	if rejected := agg.Quality.Rejected(); rejected > 0 {
		logging.Ctx(ctx).Info().
			Int("total", agg.Quality.Total).
			Int("rejected", rejected).
			Interface("reasons", agg.Quality.Reasons()).
			Msg("Observations excluded from analysis")
	}

	return &Input{
		Window:     report.Window,
		References: refs,
		Summaries:  agg.Summaries,
		Sightings:  agg.Sightings,
		Track:      track,
	}, nil
}

type detectorResult struct {
	records []*AnomalyRecord
	report  DetectorReport
}

// runDetectors runs every enabled detector in its own goroutine. Results
// are indexed by registration order, so completion order does not matter.
func (e *Engine) runDetectors(ctx context.Context, in *Input) []detectorResult {
	detectors := e.ListDetectors()
	results := make([]detectorResult, len(detectors))

	var wg sync.WaitGroup
	for i, d := range detectors {
		if !d.Enabled() {
			results[i].report = DetectorReport{Detector: d.Type(), Status: DetectorDisabled}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.runSingleDetector(ctx, d, in)
		}()
	}
	wg.Wait()

	return results
}

// runSingleDetector executes one detector. A panic or error is confined
// to this detector's report.
func (e *Engine) runSingleDetector(ctx context.Context, d Detector, in *Input) (res detectorResult) {
	t := d.Type()
	start := time.Now()
	res.report = DetectorReport{Detector: t, Status: DetectorOK}
	log := logging.Ctx(ctx).With().Str("detector", string(t)).Logger()

	defer func() {
		if r := recover(); r != nil {
			failure := &DetectorFailure{Detector: t, Err: fmt.Errorf("panic: %v", r)}
			res.records = nil
			res.report.Status = DetectorFailed
			res.report.Error = failure.Error()
			log.Error().Err(failure).Str("stack", string(debug.Stack())).Msg("Detector panicked")
		}
		elapsed := time.Since(start)
		res.report.Findings = len(res.records)
		res.report.DurationMs = elapsed.Milliseconds()
		metrics.RecordDetector(string(t), string(res.report.Status), res.report.Findings, elapsed)
	}()

	records, err := d.Detect(ctx, in)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			res.report.Status = DetectorSkipped
			res.report.Error = cfgErr.Reason
			log.Warn().Str("reason", cfgErr.Reason).Msg("Detector skipped")
			return res
		}
		failure := &DetectorFailure{Detector: t, Err: err}
		res.report.Status = DetectorFailed
		res.report.Error = failure.Error()
		log.Error().Err(failure).Msg("Detector failed")
		return res
	}

	for _, r := range records {
		if r == nil || len(r.SubjectTransmitters) == 0 {
			continue
		}
		r.DetectorType = t
		res.records = append(res.records, r)
	}
	return res
}

// mergeFindings keys every record and collapses duplicates. A duplicate
// keeps the higher confidence, and the spans and elevation of all copies
// are combined. Output is sorted by canonical detector order, then key.
func mergeFindings(results []detectorResult, bucket time.Duration) []*AnomalyRecord {
	byKey := make(map[string]*AnomalyRecord)

	for _, res := range results {
		for _, r := range res.records {
			r.SubjectTransmitters = sortedUnique(r.SubjectTransmitters)
			r.ConfidenceScore = ClampConfidence(r.ConfidenceScore)
			r.DedupKey = DedupKey(r.DetectorType, r.SubjectTransmitters, r.TimeSpan.Start, bucket)

			prev, ok := byKey[r.DedupKey]
			if !ok {
				byKey[r.DedupKey] = r
				continue
			}
			span := prev.TimeSpan.Union(r.TimeSpan)
			elevated := prev.Elevated || r.Elevated
			winner := prev
			if r.ConfidenceScore > prev.ConfidenceScore {
				winner = r
			}
			winner.TimeSpan = span
			winner.Elevated = elevated
			byKey[r.DedupKey] = winner
		}
	}

	out := make([]*AnomalyRecord, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := detectorOrder(out[i].DetectorType), detectorOrder(out[j].DetectorType)
		if oi != oj {
			return oi < oj
		}
		return out[i].DedupKey < out[j].DedupKey
	})
	return out
}

// persist writes records through the sink. Failed writes go to the
// journal for the next run.
func (e *Engine) persist(ctx context.Context, records []*AnomalyRecord, report *RunReport) []*AnomalyRecord {
	persisted := make([]*AnomalyRecord, 0, len(records))
	for _, r := range records {
		if _, err := e.sink.Upsert(ctx, r); err != nil {
			report.SinkFailures++
			e.journalRecord(ctx, r, err)
			continue
		}
		report.Upserted++
		persisted = append(persisted, r)
	}
	return persisted
}

func (e *Engine) journalRecord(ctx context.Context, r *AnomalyRecord, cause error) {
	e.mu.RLock()
	journal := e.journal
	e.mu.RUnlock()

	log := logging.Ctx(ctx).With().Str("dedup_key", r.DedupKey).Logger()
	if journal == nil {
		log.Error().Err(cause).Msg("Anomaly write failed and no journal is configured; finding dropped")
		return
	}
	// The journal write must land even when the run context has expired.
	if err := journal.Write(context.WithoutCancel(ctx), r.DedupKey, r); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("Failed to journal anomaly write; finding dropped")
		return
	}
	log.Warn().Err(cause).Msg("Anomaly write journaled for replay")
}

// replayJournal retries journaled writes and returns the records that
// landed, so they can still be promoted.
func (e *Engine) replayJournal(ctx context.Context, report *RunReport) []*AnomalyRecord {
	e.mu.RLock()
	journal := e.journal
	now := e.now
	e.mu.RUnlock()
	if journal == nil {
		return nil
	}

	log := logging.Ctx(ctx)
	entries, err := journal.Pending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read journal")
		return nil
	}

	cfg := journal.Config()
	var replayed []*AnomalyRecord
	remaining := len(entries)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.Expired(cfg, now()) {
			log.Warn().Str("dedup_key", entry.ID).Int("attempts", entry.Attempts).Msg("Dropping expired journal entry")
			metrics.JournalReplayed.WithLabelValues("expired").Inc()
			if err := journal.Confirm(ctx, entry.ID); err == nil {
				remaining--
			}
			continue
		}

		var rec AnomalyRecord
		if err := entry.UnmarshalPayload(&rec); err != nil {
			log.Error().Err(err).Str("dedup_key", entry.ID).Msg("Dropping malformed journal entry")
			if err := journal.Confirm(ctx, entry.ID); err == nil {
				remaining--
			}
			continue
		}

		if _, err := e.sink.Upsert(ctx, &rec); err != nil {
			metrics.JournalReplayed.WithLabelValues("failure").Inc()
			if _, rfErr := journal.RecordFailure(ctx, entry.ID, err); rfErr != nil {
				log.Error().Err(rfErr).Str("dedup_key", entry.ID).Msg("Failed to record journal failure")
			}
			continue
		}

		metrics.JournalReplayed.WithLabelValues("success").Inc()
		if err := journal.Confirm(ctx, entry.ID); err != nil {
			log.Error().Err(err).Str("dedup_key", entry.ID).Msg("Failed to confirm journal entry")
		} else {
			remaining--
		}
		report.Replayed++
		replayed = append(replayed, &rec)
	}

	metrics.JournalPending.Set(float64(remaining))
	if report.Replayed > 0 {
		log.Info().Int("replayed", report.Replayed).Int("remaining", remaining).Msg("Journal replayed")
	}
	return replayed
}

// publish emits persisted anomalies and new incidents. Failures are logged.
func (e *Engine) publish(ctx context.Context, records []*AnomalyRecord, incidents []*Incident) {
	e.mu.RLock()
	publisher := e.publisher
	e.mu.RUnlock()
	if publisher == nil {
		return
	}

	for _, r := range records {
		if err := publisher.PublishAnomaly(ctx, r); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("dedup_key", r.DedupKey).Msg("Failed to publish anomaly")
		}
	}
	for _, inc := range incidents {
		if err := publisher.PublishIncident(ctx, inc); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("incident_id", inc.ID).Msg("Failed to publish incident")
		}
	}
}

// notify sends new incidents to all enabled notifiers and waits for them.
func (e *Engine) notify(ctx context.Context, incidents []*Incident) {
	if len(incidents) == 0 {
		return
	}

	e.mu.RLock()
	notifiers := make([]Notifier, 0, len(e.notifiers))
	for _, n := range e.notifiers {
		if n.Enabled() {
			notifiers = append(notifiers, n)
		}
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, notifier := range notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			for _, inc := range incidents {
				err := n.NotifyIncident(ctx, inc)
				metrics.RecordNotification(n.Name(), err)
				if err != nil {
					logging.Ctx(ctx).Error().Err(err).Str("notifier", n.Name()).Int64("incident_id", inc.ID).Msg("failed to send incident")
				}
			}
		}(notifier)
	}
	wg.Wait()
}

func (e *Engine) finish(ctx context.Context, report *RunReport) {
	duration := report.FinishedAt.Sub(report.StartedAt)
	metrics.RecordRun(string(report.Status), duration)

	log := logging.Ctx(ctx)
	evt := log.Info()
	if report.Status == RunFailed || report.Status == RunAborted {
		evt = log.Error()
	} else if report.Status == RunPartial {
		evt = log.Warn()
	}
	evt.Str("status", string(report.Status)).
		Int("findings", report.Findings).
		Int("upserted", report.Upserted).
		Int("sink_failures", report.SinkFailures).
		Int("replayed", report.Replayed).
		Int("incidents", report.IncidentsCreated).
		Dur("duration", duration).
		Str("error", report.Error).
		Msg("Analysis run finished")

	e.mu.Lock()
	e.last = report
	e.mu.Unlock()
}
