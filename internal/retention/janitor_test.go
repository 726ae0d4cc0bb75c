package retention

import (
	"errors"
	"testing"
	"time"

	"github.com/fleethub/fleethub/internal/ids"
)

func TestRunCycle_PassesCutoffToTargets(t *testing.T) {
	var gotCutoff string
	j := NewJanitor(7, time.Hour, Target{
		Name: "feed",
		Prune: func(before string) (int, error) {
			gotCutoff = before
			return 3, nil
		},
	})
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return clock }

	j.runCycle()

	want := ids.Format(clock.AddDate(0, 0, -7))
	if gotCutoff != want {
		t.Errorf("cutoff = %q, want %q", gotCutoff, want)
	}
}

func TestRunCycle_DisabledWhenZeroDays(t *testing.T) {
	called := false
	j := NewJanitor(0, time.Hour, Target{
		Name: "feed",
		Prune: func(string) (int, error) {
			called = true
			return 0, nil
		},
	})
	j.runCycle()
	if called {
		t.Error("runCycle() pruned with retention disabled")
	}
}

func TestRunCycle_FailedTargetDoesNotBlockOthers(t *testing.T) {
	pruned := false
	j := NewJanitor(1, time.Hour,
		Target{Name: "broken", Prune: func(string) (int, error) { return 0, errors.New("boom") }},
		Target{Name: "ok", Prune: func(string) (int, error) { pruned = true; return 1, nil }},
	)
	j.runCycle()
	if !pruned {
		t.Error("a failing target stopped the sweep")
	}
}

func TestNewJanitor_ClampsInterval(t *testing.T) {
	j := NewJanitor(1, time.Second)
	if j.interval != time.Hour {
		t.Errorf("interval = %v, want clamped to 1h", j.interval)
	}
}
