package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestDefaultPassesPreflight(t *testing.T) {
	c := Default()
	if err := c.Preflight(); err != nil {
		t.Fatalf("Default() failed Preflight: %v", err)
	}
}

func TestBindOverridesDefaults(t *testing.T) {
	c := Default()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Bind(flags)

	if err := flags.Parse([]string{"--totalDays=7", "--fetchConcurrency=16"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.TotalDays != 7 {
		t.Fatalf("TotalDays = %d, want 7", c.TotalDays)
	}
	if c.FetchConcurrency != 16 {
		t.Fatalf("FetchConcurrency = %d, want 16", c.FetchConcurrency)
	}
	if err := c.Preflight(); err != nil {
		t.Fatalf("Preflight after override: %v", err)
	}
}

func TestPreflightRejectsBadInterval(t *testing.T) {
	c := Default()
	c.IntervalMinutes = 7 // not a divisor of a day
	if err := c.Preflight(); err == nil {
		t.Fatal("expected Preflight to reject a non-divisor interval")
	}
}

func TestPreflightRejectsSocialExceedingTotal(t *testing.T) {
	c := Default()
	c.SocialDays = c.TotalDays + 1
	if err := c.Preflight(); err == nil {
		t.Fatal("expected Preflight to reject socialDays > totalDays")
	}
}

func TestFramesPerDay(t *testing.T) {
	c := Default()
	if got := c.FramesPerDay(); got != 96 {
		t.Fatalf("FramesPerDay() = %d, want 96", got)
	}
}
