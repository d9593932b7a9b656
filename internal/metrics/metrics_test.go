package metrics

import "testing"

func TestMetricsRegisterWithoutPanic(t *testing.T) {
	FetchAttemptsTotal.WithLabelValues("corona").Inc()
	FetchDurationSeconds.WithLabelValues("corona").Observe(0.5)
	FetchErrorsTotal.WithLabelValues("sun_disk").Inc()
	FallbackOffsetMinutes.WithLabelValues("corona").Observe(3)
	DuplicatesRejectedTotal.WithLabelValues("sun_disk").Inc()
	CompositeDurationSeconds.Observe(0.2)
	CommitsTotal.Inc()
	CheckpointDurationSeconds.Observe(0.1)
	MissingFramesTotal.Inc()

	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}
