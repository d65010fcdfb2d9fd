package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/riskcore/internal/credit"
	"github.com/mbd888/riskcore/internal/notify"
	"github.com/mbd888/riskcore/internal/queue"
	"github.com/mbd888/riskcore/internal/store"
)

// CreditProcessor handles credit_check tasks.
type CreditProcessor struct {
	service  *credit.Service
	subjects store.SubjectStore
	notifier notify.Notifier
	feed     Publisher
	logger   *slog.Logger
}

// NewCreditProcessor creates the credit task handler. feed may be nil.
func NewCreditProcessor(service *credit.Service, subjects store.SubjectStore,
	notifier notify.Notifier, feed Publisher, logger *slog.Logger) *CreditProcessor {
	return &CreditProcessor{
		service:  service,
		subjects: subjects,
		notifier: notifier,
		feed:     feed,
		logger:   logger,
	}
}

// Process evaluates a queued credit application and notifies the subject of
// the outcome. The service applies approved limits itself; redelivery
// re-applies the same decision, which is harmless.
func (p *CreditProcessor) Process(ctx context.Context, t *queue.Task) error {
	sub, err := p.subjects.Get(ctx, t.SubjectID)
	if err != nil {
		return fmt.Errorf("load subject %s: %w", t.SubjectID, err)
	}
	p.Decide(ctx, sub, t.Amount)
	return nil
}

// Decide evaluates an application for a loaded subject and broadcasts the
// outcome. Shared by the queue path and the synchronous check endpoint.
func (p *CreditProcessor) Decide(ctx context.Context, sub *store.Subject, amount float64) *credit.CheckResult {
	res := p.service.Evaluate(ctx, &credit.CheckRequest{
		SubjectID:       sub.ID,
		Email:           sub.Email,
		RequestedAmount: amount,
	})

	p.notifier.Notify(ctx, notify.NewEvent(notify.EventCreditDecision, sub.ID, map[string]interface{}{
		"approved":        res.Approved,
		"requestedAmount": res.RequestedAmount,
		"approvedAmount":  res.ApprovedAmount,
		"riskTier":        string(res.RiskTier),
		"reason":          res.Reason,
	}))

	if p.feed != nil {
		decision := "declined"
		if res.Approved {
			decision = "approved"
		}
		p.feed.PublishDecision("credit", sub.ID, "", decision, res.Score)
	}
	return res
}
