package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/riskcore/internal/notify"
	"github.com/mbd888/riskcore/internal/queue"
	"github.com/mbd888/riskcore/internal/risk"
	"github.com/mbd888/riskcore/internal/store"
)

// FraudProcessor handles fraud_analysis tasks: it scores the pending
// transaction and settles it according to the decision.
type FraudProcessor struct {
	scorer   *risk.Scorer
	subjects store.SubjectStore
	txns     store.TransactionStore
	notifier notify.Notifier
	feed     Publisher
	logger   *slog.Logger
}

// NewFraudProcessor creates the fraud task handler. feed may be nil.
func NewFraudProcessor(scorer *risk.Scorer, subjects store.SubjectStore, txns store.TransactionStore,
	notifier notify.Notifier, feed Publisher, logger *slog.Logger) *FraudProcessor {
	return &FraudProcessor{
		scorer:   scorer,
		subjects: subjects,
		txns:     txns,
		notifier: notifier,
		feed:     feed,
		logger:   logger,
	}
}

// Process runs the fraud check for a pending transaction. Idempotent under
// redelivery: a transaction that has already left pending is skipped.
func (p *FraudProcessor) Process(ctx context.Context, t *queue.Task) error {
	tx, err := p.txns.Get(ctx, t.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", t.TransactionID, err)
	}
	if tx.Status != store.TxPending {
		p.logger.Info("transaction already settled, skipping",
			"transaction_id", tx.ID, "status", tx.Status)
		return nil
	}

	sub, err := p.subjects.Get(ctx, tx.SubjectID)
	if err != nil {
		return fmt.Errorf("load subject %s: %w", tx.SubjectID, err)
	}

	_, err = p.Analyze(ctx, sub, tx, t.Metadata)
	return err
}

// Analyze scores a pending transaction and settles it according to the
// decision. Shared by the queue path and the synchronous check endpoint.
func (p *FraudProcessor) Analyze(ctx context.Context, sub *store.Subject, tx *store.Transaction,
	metadata map[string]string) (*risk.CheckResult, error) {
	res := p.scorer.Check(ctx, &risk.CheckRequest{
		SubjectID:         sub.ID,
		Email:             sub.Email,
		Amount:            tx.Amount,
		MerchantID:        tx.MerchantID,
		IP:                metadata["ip"],
		DeviceFingerprint: metadata["device_fingerprint"],
		UserAgent:         metadata["user_agent"],
		ChargeID:          metadata["charge_id"],
		ObservedAt:        tx.CreatedAt,
	})

	status := decisionStatus(res.Decision)
	reason := ""
	if status == store.TxReview {
		reason = reviewReason(res)
	}
	if err := p.txns.SetStatus(ctx, tx.ID, status, res.Score, reason); err != nil {
		return nil, fmt.Errorf("settle transaction %s: %w", tx.ID, err)
	}

	switch res.Decision {
	case risk.DecisionDecline:
		// The reservation made at intake goes back to the subject.
		if err := p.subjects.RestoreAvailableCredit(ctx, sub.ID, tx.Amount); err != nil {
			p.logger.Warn("failed to restore reserved credit",
				"subject_id", sub.ID, "transaction_id", tx.ID, "error", err)
		}
		p.notifier.Notify(ctx, notify.NewEvent(notify.EventTransactionDeclined, sub.ID, map[string]interface{}{
			"transactionId": tx.ID,
			"amount":        tx.Amount,
			"score":         res.Score,
		}))
	case risk.DecisionReview:
		p.notifier.Notify(ctx, notify.NewEvent(notify.EventTransactionReview, sub.ID, map[string]interface{}{
			"transactionId": tx.ID,
			"amount":        tx.Amount,
			"score":         res.Score,
			"reason":        reason,
		}))
	}

	if p.feed != nil {
		p.feed.PublishDecision("fraud", sub.ID, tx.ID, string(res.Decision), res.Score)
	}
	return res, nil
}

// FlagForReview is the dead-letter hook for fraud tasks: a transaction whose
// analysis could not complete is parked for a human instead of staying
// silently pending.
func (p *FraudProcessor) FlagForReview(ctx context.Context, t *queue.Task, cause error) {
	if t.TransactionID == "" {
		return
	}
	err := p.txns.SetStatus(ctx, t.TransactionID, store.TxReview, 0,
		"Automated analysis failed; manual review required")
	if err != nil {
		p.logger.Error("failed to flag dead-lettered transaction for review",
			"transaction_id", t.TransactionID, "cause", cause, "error", err)
		return
	}
	p.logger.Warn("transaction flagged for manual review after task dead-letter",
		"transaction_id", t.TransactionID, "cause", cause)
}
