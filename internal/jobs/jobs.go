// Package jobs holds the queue task handlers and the periodic review worker
// that sit between the queue and the scoring services.
package jobs

import (
	"context"

	"github.com/mbd888/riskcore/internal/queue"
	"github.com/mbd888/riskcore/internal/risk"
	"github.com/mbd888/riskcore/internal/store"
)

// Publisher pushes decision events to live feed subscribers.
// *feed.Hub satisfies it; a nil Publisher disables the feed.
type Publisher interface {
	PublishDecision(kind, subjectID, transactionID, decision string, score int)
}

// Register binds all task handlers onto a dispatcher.
func Register(d *queue.Dispatcher, fraud *FraudProcessor, credit *CreditProcessor, review *ReviewWorker) {
	d.Register(queue.TaskFraudAnalysis, fraud.Process)
	d.Register(queue.TaskCreditCheck, credit.Process)
	d.Register(queue.TaskPeriodicReview, func(ctx context.Context, t *queue.Task) error {
		return review.ReviewSubject(ctx, t.SubjectID)
	})
}

// reviewReason condenses check factors into the stored review reason.
func reviewReason(res *risk.CheckResult) string {
	if len(res.Factors) > 0 {
		return res.Factors[0]
	}
	return "Manual review required"
}

// decisionStatus maps a fraud decision onto the transaction status it produces.
func decisionStatus(d risk.Decision) store.TxStatus {
	switch d {
	case risk.DecisionApprove:
		return store.TxApproved
	case risk.DecisionDecline:
		return store.TxRejected
	default:
		return store.TxReview
	}
}
