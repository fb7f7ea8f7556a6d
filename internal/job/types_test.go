package job

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusError, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusExpired, false},
		{StatusCompleted, StatusExpired, true},
		{StatusError, StatusExpired, true},
		{StatusCompleted, StatusRunning, false},
		{StatusExpired, StatusQueued, false},
		{StatusRunning, StatusRunning, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%s,%s)=%v want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestSetProgressIsMonotonic(t *testing.T) {
	var j Job
	j.SetProgress(40)
	j.SetProgress(10)
	if j.Progress != 40 {
		t.Fatalf("expected progress to stay at 40, got %d", j.Progress)
	}
	j.SetProgress(250)
	if j.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %d", j.Progress)
	}
}

func TestFailureKindRetryable(t *testing.T) {
	if !FailureTimeout.Retryable() {
		t.Fatalf("timeout should invite a retry")
	}
	if FailureExtraction.Retryable() {
		t.Fatalf("extraction failure should not invite a retry")
	}
}
