package jobs

import (
	"testing"
	"time"
)

func TestUntilNext(t *testing.T) {
	at := func(min, sec int) time.Time {
		return time.Date(2025, 3, 10, 14, min, sec, 0, time.UTC)
	}

	cases := []struct {
		name   string
		now    time.Time
		second int
		want   time.Duration
	}{
		{"top of minute from second 10", at(5, 10), 0, 50 * time.Second},
		{"exactly on the boundary waits a full minute", at(5, 0), 0, time.Minute},
		{"second 30 from second 10", at(5, 10), 30, 20 * time.Second},
		{"second 30 from second 45 rolls over", at(5, 45), 30, 45 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := untilNext(tc.now, tc.second)
			if got != tc.want {
				t.Errorf("untilNext(%s, %d) = %s, want %s", tc.now, tc.second, got, tc.want)
			}
		})
	}
}
