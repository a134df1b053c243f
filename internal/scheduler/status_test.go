package scheduler

import (
	"testing"
	"time"
)

func TestOverlaps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"partial overlap", span(10, 0, 11, 0), span(10, 30, 11, 30), true},
		{"containment", span(9, 0, 12, 0), span(10, 0, 11, 0), true},
		{"identical", span(10, 0, 11, 0), span(10, 0, 11, 0), true},
		{"adjacent after", span(9, 0, 10, 0), span(10, 0, 11, 0), false},
		{"adjacent before", span(11, 0, 12, 0), span(10, 0, 11, 0), false},
		{"disjoint", span(8, 0, 9, 0), span(10, 0, 11, 0), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.a, tc.b); got != tc.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			if got := Overlaps(tc.b, tc.a); got != tc.want {
				t.Fatalf("Overlaps is not symmetric for %s", tc.name)
			}
		})
	}
}

func TestInterval_Validate(t *testing.T) {
	t.Parallel()

	if err := span(10, 0, 11, 0).Validate(); err != nil {
		t.Fatalf("expected valid interval, got %v", err)
	}
	if err := span(10, 0, 10, 0).Validate(); err == nil {
		t.Fatalf("expected zero-length interval to be rejected")
	}
	if err := span(11, 0, 10, 0).Validate(); err == nil {
		t.Fatalf("expected inverted interval to be rejected")
	}
	if err := (Interval{End: at(10, 0)}).Validate(); err == nil {
		t.Fatalf("expected missing start to be rejected")
	}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	booking := Interval{
		Start: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
	}

	t.Run("in progress during the interval", func(t *testing.T) {
		got := DeriveStatus(StatusScheduled, booking, time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC))
		if got != EffectiveInProgress {
			t.Fatalf("expected in_progress, got %s", got)
		}
	})

	t.Run("completed after the interval", func(t *testing.T) {
		got := DeriveStatus(StatusScheduled, booking, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
		if got != EffectiveCompleted {
			t.Fatalf("expected completed, got %s", got)
		}
	})

	t.Run("boundaries are half-open", func(t *testing.T) {
		if got := DeriveStatus(StatusScheduled, booking, booking.Start); got != EffectiveInProgress {
			t.Fatalf("expected in_progress at start, got %s", got)
		}
		if got := DeriveStatus(StatusScheduled, booking, booking.End); got != EffectiveCompleted {
			t.Fatalf("expected completed at end, got %s", got)
		}
	})

	t.Run("terminal stored status ignores the clock", func(t *testing.T) {
		for _, now := range []time.Time{booking.Start.Add(-time.Hour), booking.Start, booking.End.Add(time.Hour)} {
			if got := DeriveStatus(StatusCancelled, booking, now); got != EffectiveCancelled {
				t.Fatalf("expected cancelled at %s, got %s", now, got)
			}
			if got := DeriveStatus(StatusCompleted, booking, now); got != EffectiveCompleted {
				t.Fatalf("expected completed at %s, got %s", now, got)
			}
		}
	})

	t.Run("progresses monotonically", func(t *testing.T) {
		rank := map[EffectiveStatus]int{EffectiveScheduled: 0, EffectiveInProgress: 1, EffectiveCompleted: 2}
		previous := -1
		for now := booking.Start.Add(-30 * time.Minute); now.Before(booking.End.Add(30 * time.Minute)); now = now.Add(5 * time.Minute) {
			first := DeriveStatus(StatusScheduled, booking, now)
			if second := DeriveStatus(StatusScheduled, booking, now); second != first {
				t.Fatalf("DeriveStatus is not idempotent at %s", now)
			}
			if rank[first] < previous {
				t.Fatalf("status moved backwards at %s: %s", now, first)
			}
			previous = rank[first]
		}
		if previous != 2 {
			t.Fatalf("expected to finish completed")
		}
	})
}

func TestContainsIsHalfOpen(t *testing.T) {
	t.Parallel()

	interval := span(10, 0, 11, 0)
	cases := map[time.Time]bool{
		at(9, 59):  false,
		at(10, 0):  true,
		at(10, 59): true,
		at(11, 0):  false,
	}
	for instant, want := range cases {
		if got := interval.Contains(instant); got != want {
			t.Errorf("Contains(%s) = %v, want %v", instant.Format("15:04"), got, want)
		}
	}
}
