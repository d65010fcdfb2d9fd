package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue reads the current value of a counter child.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestChecksTotalLabels(t *testing.T) {
	c := ChecksTotal.WithLabelValues("fraud", "review")
	before := counterValue(t, c)
	c.Inc()
	after := counterValue(t, c)
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %f -> %f", before, after)
	}
}

func TestProviderFallbacksTotal(t *testing.T) {
	c := ProviderFallbacksTotal.WithLabelValues("riskguard")
	before := counterValue(t, c)
	c.Inc()
	c.Inc()
	after := counterValue(t, c)
	if after != before+2 {
		t.Errorf("expected +2, got %f -> %f", before, after)
	}
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		102: "1xx",
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
		503: "5xx",
	}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %q, want %q", code, got, want)
		}
	}
}
