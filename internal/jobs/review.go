package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/riskcore/internal/notify"
	"github.com/mbd888/riskcore/internal/risk"
	"github.com/mbd888/riskcore/internal/store"
)

const (
	reviewLookback      = 90 * 24 * time.Hour
	reviewShortWindow   = 7 * 24 * time.Hour
	reviewMediumWindow  = 30 * 24 * time.Hour
	maxSubjectsPerSweep = 500

	// A subject whose recent month carries most of their quarter's spend is
	// accelerating.
	accelerationShare = 0.8
	accelerationFloor = 2000.0

	burstCountPerWeek = 25

	// limitReductionRatio halves the line when a sweep flags a subject.
	limitReductionRatio = 0.5
)

// ReviewWorker periodically re-examines subjects with recent activity and
// tightens credit on the ones whose behavior has turned high-risk. A subject
// already awaiting verification is skipped, so re-running a sweep is a no-op:
// the limit is cut once per flagging, not once per tick.
type ReviewWorker struct {
	subjects store.SubjectStore
	txns     store.TransactionStore
	notifier notify.Notifier
	logger   *slog.Logger
	interval time.Duration
	stop     chan struct{}
	running  atomic.Bool
}

// NewReviewWorker creates the periodic review worker.
func NewReviewWorker(subjects store.SubjectStore, txns store.TransactionStore,
	notifier notify.Notifier, interval time.Duration, logger *slog.Logger) *ReviewWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReviewWorker{
		subjects: subjects,
		txns:     txns,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (w *ReviewWorker) Running() bool {
	return w.running.Load()
}

// Start runs periodic sweeps until ctx is cancelled or Stop is called.
func (w *ReviewWorker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeDoWork(ctx, w.sweep)
		}
	}
}

// Stop signals the worker to stop.
func (w *ReviewWorker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *ReviewWorker) safeDoWork(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in review worker", "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx)
}

// sweep reviews every subject with activity in the lookback window.
func (w *ReviewWorker) sweep(ctx context.Context) {
	since := time.Now().Add(-reviewLookback)
	subjects, err := w.txns.DistinctSubjectsSince(ctx, since, maxSubjectsPerSweep)
	if err != nil {
		w.logger.Error("review sweep: failed to list active subjects", "error", err)
		return
	}

	flagged := 0
	for _, id := range subjects {
		if err := w.ReviewSubject(ctx, id); err != nil {
			w.logger.Warn("review sweep: subject review failed", "subject_id", id, "error", err)
			continue
		}
		flagged++
	}
	w.logger.Info("review sweep complete", "subjects", len(subjects), "reviewed", flagged)
}

// ReviewSubject re-examines one subject's rolling activity windows and
// reduces credit if the profile is high-risk. Also serves one-off
// periodic_review tasks.
func (w *ReviewWorker) ReviewSubject(ctx context.Context, subjectID string) error {
	sub, err := w.subjects.Get(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("load subject: %w", err)
	}
	// Already flagged: the reduction has been applied and a human owns the
	// account until verification clears the flag.
	if sub.RequiresVerification {
		return nil
	}

	now := time.Now()
	countWeek, err := w.txns.CountBySubjectSince(ctx, subjectID, now.Add(-reviewShortWindow))
	if err != nil {
		return fmt.Errorf("weekly count: %w", err)
	}
	sumMonth, err := w.txns.SumAmountBySubjectSince(ctx, subjectID, now.Add(-reviewMediumWindow))
	if err != nil {
		return fmt.Errorf("monthly sum: %w", err)
	}
	sumQuarter, err := w.txns.SumAmountBySubjectSince(ctx, subjectID, now.Add(-reviewLookback))
	if err != nil {
		return fmt.Errorf("quarterly sum: %w", err)
	}

	reason := highRiskReason(sub, countWeek, sumMonth, sumQuarter)
	if reason == "" {
		return nil
	}

	w.logger.Info("subject flagged high-risk on periodic review",
		"subject_id", subjectID, "reason", reason,
		"count_7d", countWeek, "sum_30d", sumMonth, "sum_90d", sumQuarter)

	if sub.CreditLimit > 0 {
		reduced := sub.CreditLimit * limitReductionRatio
		if err := w.subjects.ReduceCreditLimit(ctx, subjectID, reduced); err != nil {
			return fmt.Errorf("reduce credit limit: %w", err)
		}
		w.notifier.Notify(ctx, notify.NewEvent(notify.EventLimitReduced, subjectID, map[string]interface{}{
			"previousLimit": sub.CreditLimit,
			"newLimit":      reduced,
			"reason":        reason,
		}))
	}
	if err := w.subjects.SetRequiresVerification(ctx, subjectID, true); err != nil {
		return fmt.Errorf("flag verification: %w", err)
	}
	return nil
}

// highRiskReason returns why the subject is high-risk, or "" if they are not.
func highRiskReason(sub *store.Subject, countWeek int, sumMonth, sumQuarter float64) string {
	if sub.RiskScore >= risk.DeclineThreshold {
		return fmt.Sprintf("fraud score %d at or above decline threshold", sub.RiskScore)
	}
	if countWeek > burstCountPerWeek {
		return fmt.Sprintf("transaction burst: %d transactions in 7 days", countWeek)
	}
	if sumMonth >= accelerationFloor && sumQuarter > 0 && sumMonth >= accelerationShare*sumQuarter {
		return fmt.Sprintf("spend acceleration: $%.0f of the last quarter's $%.0f fell in the last 30 days",
			sumMonth, sumQuarter)
	}
	return ""
}
