package health

import (
	"context"
	"testing"
)

func TestCheckAllEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Error("empty registry should report healthy")
	}
	if len(statuses) != 0 {
		t.Errorf("expected no statuses, got %d", len(statuses))
	}
}

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("queue", func(ctx context.Context) Status {
		return Status{Name: "queue", Healthy: false, Detail: "dispatcher stopped"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("one unhealthy subsystem should make the aggregate unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "dispatcher stopped" {
		t.Errorf("unexpected detail: %q", statuses[1].Detail)
	}
}

func TestCheckAllRecoversPanickingChecker(t *testing.T) {
	r := NewRegistry()
	r.Register("flaky", func(ctx context.Context) Status {
		panic("nil pointer somewhere")
	})
	r.Register("database", func(ctx context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("a panicking checker should count as unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Healthy || statuses[0].Detail == "" {
		t.Errorf("panic not surfaced: %+v", statuses[0])
	}
	if !statuses[1].Healthy {
		t.Error("remaining checkers should still run")
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register("queue", func(ctx context.Context) Status {
		return Status{Name: "queue", Healthy: false}
	})
	r.Register("queue", func(ctx context.Context) Status {
		return Status{Name: "queue", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 1 {
		t.Errorf("re-registration should replace: healthy=%v n=%d", healthy, len(statuses))
	}
}
