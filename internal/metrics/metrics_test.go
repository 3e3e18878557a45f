package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestJobCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(JobsFinished.WithLabelValues("completed"))
	JobsFinished.WithLabelValues("completed").Inc()
	after := testutil.ToFloat64(JobsFinished.WithLabelValues("completed"))

	if after != before+1 {
		t.Errorf("expected counter to grow by 1, got %v -> %v", before, after)
	}
}

func TestCompressionAttemptLabels(t *testing.T) {
	CompressionAttempts.WithLabelValues("1", "fit").Inc()
	if got := testutil.ToFloat64(CompressionAttempts.WithLabelValues("1", "fit")); got < 1 {
		t.Errorf("expected at least one fit attempt, got %v", got)
	}
}
