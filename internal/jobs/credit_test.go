package jobs

import (
	"context"
	"log/slog"
	"testing"

	"github.com/mbd888/riskcore/internal/audit"
	"github.com/mbd888/riskcore/internal/credit"
	"github.com/mbd888/riskcore/internal/notify"
	"github.com/mbd888/riskcore/internal/provider"
	"github.com/mbd888/riskcore/internal/queue"
	"github.com/mbd888/riskcore/internal/store"
)

// fixedBureau returns a fixed credit score.
type fixedBureau struct {
	score int
}

var _ provider.CreditBureau = (*fixedBureau)(nil)

func (f *fixedBureau) Name() string { return "fixed" }

func (f *fixedBureau) CheckCredit(context.Context, *provider.CreditRequest) (*provider.Result, error) {
	return &provider.Result{Score: f.score, Provider: "fixed"}, nil
}

func newCreditFixture(t *testing.T, score int) (*CreditProcessor, *store.MemorySubjectStore, *recordingNotifier, *recordingFeed) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	subjects := store.NewMemorySubjectStore()
	svc := credit.NewService(&fixedBureau{score: score}, subjects, audit.NewMemoryLogger(), logger)
	notifier := &recordingNotifier{}
	feed := &recordingFeed{}
	return NewCreditProcessor(svc, subjects, notifier, feed, logger), subjects, notifier, feed
}

func TestCreditProcessorAppliesApprovedLimit(t *testing.T) {
	p, subjects, notifier, feed := newCreditFixture(t, 720)
	ctx := context.Background()

	_ = subjects.Create(ctx, &store.Subject{ID: "sub_1", Email: "a@example.com"})

	task := &queue.Task{Type: queue.TaskCreditCheck, SubjectID: "sub_1", Amount: 4000}
	if err := p.Process(ctx, task); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sub, _ := subjects.Get(ctx, "sub_1")
	if sub.CreditLimit != 4000 || sub.CreditScore != 720 {
		t.Errorf("decision not applied: %+v", sub)
	}

	events := notifier.byType(notify.EventCreditDecision)
	if len(events) != 1 {
		t.Fatalf("expected 1 decision notification, got %d", len(events))
	}
	if approved, _ := events[0].Data["approved"].(bool); !approved {
		t.Errorf("notification data = %v", events[0].Data)
	}
	if len(feed.decisions) != 1 || feed.decisions[0] != "credit:approved" {
		t.Errorf("feed decisions = %v", feed.decisions)
	}
}

func TestCreditProcessorNotifiesDenial(t *testing.T) {
	p, subjects, notifier, _ := newCreditFixture(t, 540)
	ctx := context.Background()

	_ = subjects.Create(ctx, &store.Subject{ID: "sub_1", Email: "a@example.com"})

	if err := p.Process(ctx, &queue.Task{Type: queue.TaskCreditCheck, SubjectID: "sub_1", Amount: 1000}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	sub, _ := subjects.Get(ctx, "sub_1")
	if sub.CreditLimit != 0 {
		t.Errorf("denied application changed the limit: %.0f", sub.CreditLimit)
	}
	if sub.CreditScore != 540 {
		t.Errorf("bureau score not recorded on denial: %d", sub.CreditScore)
	}
	events := notifier.byType(notify.EventCreditDecision)
	if len(events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(events))
	}
	if approved, _ := events[0].Data["approved"].(bool); approved {
		t.Error("denial notified as approval")
	}
}

func TestCreditProcessorMissingSubjectErrors(t *testing.T) {
	p, _, _, _ := newCreditFixture(t, 700)
	if err := p.Process(context.Background(), &queue.Task{Type: queue.TaskCreditCheck, SubjectID: "missing"}); err == nil {
		t.Fatal("expected error for missing subject")
	}
}
