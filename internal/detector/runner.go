package detector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/remitwatch/kestrel/internal/domain"
	"github.com/remitwatch/kestrel/internal/scoring"
)

var (
	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_alerts_raised_total",
		Help: "Alerts raised by detectors, by type and severity.",
	}, []string{"type", "severity"})

	detectorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_detector_runs_total",
		Help: "Detector run outcomes.",
	}, []string{"detector", "outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_detector_run_duration_seconds",
		Help:    "End-to-end duration of a detector evaluation run.",
		Buckets: prometheus.DefBuckets,
	})
)

// Runner orchestrates a detector evaluation run for one subject: it reads
// the activity window once, fans it out to the activity detectors in
// parallel, runs the duplicate-identity scoring, and persists whatever
// came out. Runs are fire-and-forget: every failure is logged and
// suppressed, never surfaced to the triggering operation.
type Runner struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	aggregator *scoring.Aggregator
	dup        *DuplicateScorer
	detectors  []Detector
	cfg        domain.DetectorConfig
	logger     *slog.Logger

	// sem bounds concurrent runs across all subjects.
	sem chan struct{}
}

// NewRunner creates a runner over the stock detectors. cache and bus may
// be nil; the corresponding side effects are skipped.
func NewRunner(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.DetectorConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Runner{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		aggregator: scoring.NewAggregator(),
		dup:        NewDuplicateScorer(repo, cfg),
		detectors: []Detector{
			NewVelocity(cfg),
			NewStructuring(cfg),
		},
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Evaluate runs all detectors for the subject. transactionID is the
// triggering transaction, empty for identity-verification triggers. Errors
// inside the run are logged, never returned; the only returned error is a
// context cancellation while waiting for a run slot.
func (r *Runner) Evaluate(ctx context.Context, subjectID, transactionID string) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.sem }()

	start := time.Now()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	runCtx := ctx
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	log := r.logger.With("subject_id", subjectID, "transaction_id", transactionID)

	if r.cache != nil && transactionID != "" {
		count, err := r.cache.IncrementCounter(runCtx, "velocity:"+subjectID, r.cfg.LookbackWindow)
		if err != nil {
			log.Debug("velocity counter increment failed", "error", err)
		} else {
			log.Debug("window activity counter", "count", count)
		}
	}

	in := &Input{
		SubjectID: subjectID,
		Window:    r.cfg.LookbackWindow,
		Now:       time.Now().UTC(),
	}

	// One historical read feeds every activity detector. If it fails,
	// those detectors are skipped; duplicate scoring still runs off its
	// own lookups.
	activityRead := true
	txs, err := r.repo.GetTransactionsBySubject(runCtx, subjectID, in.Now.Add(-in.Window))
	if err != nil {
		activityRead = false
		log.Warn("activity read failed, skipping activity detectors", "error", err)
	} else {
		in.Transactions = txs
	}

	var (
		mu     sync.Mutex
		alerts []*domain.Alert
	)

	if activityRead {
		var wg sync.WaitGroup
		for _, det := range r.detectors {
			wg.Add(1)
			go func(d Detector) {
				defer wg.Done()
				defer func() {
					if rec := recover(); rec != nil {
						detectorRuns.WithLabelValues(d.Name(), "panic").Inc()
						log.Error("detector panicked", "detector", d.Name(), "panic", rec)
					}
				}()
				found := d.Detect(in)
				detectorRuns.WithLabelValues(d.Name(), "ok").Inc()
				if len(found) == 0 {
					return
				}
				mu.Lock()
				alerts = append(alerts, found...)
				mu.Unlock()
			}(det)
		}
		wg.Wait()
	} else {
		for _, det := range r.detectors {
			detectorRuns.WithLabelValues(det.Name(), "skipped").Inc()
		}
	}

	if dupAlert := r.scoreIdentity(runCtx, subjectID, log); dupAlert != nil {
		alerts = append(alerts, dupAlert)
	}

	for _, a := range alerts {
		if a.TransactionID == "" {
			a.TransactionID = transactionID
		}
		r.raise(runCtx, a, log)
	}

	return nil
}

// scoreIdentity runs the duplicate-identity scoring and persists the
// result: the score history entry, the replaced match snapshot, and the
// subject's denormalized current risk. Returns an alert when the score
// lands in HIGH or CRITICAL.
func (r *Runner) scoreIdentity(ctx context.Context, subjectID string, log *slog.Logger) *domain.Alert {
	subject, err := r.repo.GetSubject(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			detectorRuns.WithLabelValues("duplicate_identity", "error").Inc()
			log.Warn("subject load failed, skipping identity scoring", "error", err)
		}
		return nil
	}

	factors, matches, err := r.dup.Score(ctx, subject)
	if err != nil {
		detectorRuns.WithLabelValues("duplicate_identity", "error").Inc()
		log.Warn("identity scoring failed", "error", err)
		return nil
	}
	detectorRuns.WithLabelValues("duplicate_identity", "ok").Inc()

	score := r.aggregator.Aggregate(subjectID, factors, "detector:duplicate_identity")

	if err := r.repo.SaveRiskScore(ctx, score); err != nil {
		log.Error("risk score persist failed", "error", err)
		return nil
	}
	if err := r.repo.ReplaceIdentityMatches(ctx, subjectID, matches); err != nil {
		log.Error("identity match replacement failed", "error", err)
	}
	if err := r.repo.UpdateSubjectRisk(ctx, subjectID, score.Score, score.Level); err != nil {
		log.Error("subject risk update failed", "error", err)
	}

	if r.cache != nil {
		if snapshot, err := json.Marshal(score); err == nil {
			if err := r.cache.Set(ctx, "risk:"+subjectID, snapshot, r.cfg.LookbackWindow); err != nil {
				log.Debug("risk snapshot cache write failed", "error", err)
			}
		}
	}

	log.Info("identity risk recalculated",
		"score", score.Score,
		"level", score.Level,
		"matches", len(matches))

	return r.dup.Alert(subject, score, matches)
}

// raise persists an alert and announces it on the bus. Failures are
// logged; a lost alert must never fail the run.
func (r *Runner) raise(ctx context.Context, a *domain.Alert, log *slog.Logger) {
	if err := r.repo.SaveAlert(ctx, a); err != nil {
		log.Error("alert persist failed", "alert_type", a.Type, "error", err)
		return
	}

	alertsRaised.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	log.Info("alert raised",
		"alert_id", a.ID,
		"alert_type", a.Type,
		"severity", a.Severity)

	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		log.Error("alert encode failed", "alert_id", a.ID, "error", err)
		return
	}
	if err := r.bus.Publish(ctx, domain.TopicAlertRaised, payload); err != nil {
		log.Warn("alert publish failed", "alert_id", a.ID, "error", err)
	}
}

// Detectors lists the registered activity detector names, for diagnostics.
func (r *Runner) Detectors() []string {
	names := make([]string, 0, len(r.detectors)+1)
	for _, d := range r.detectors {
		names = append(names, d.Name())
	}
	names = append(names, "duplicate_identity")
	return names
}
