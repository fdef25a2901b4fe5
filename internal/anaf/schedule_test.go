package anaf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var bucharest = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		panic(err)
	}
	return loc
}()

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 10, hour, minute, 0, 0, bucharest)
}

func TestComputeSubmissionTimeDayGranularity(t *testing.T) {
	now := at(14, 45)

	got := ComputeSubmissionTime(24, now)
	require.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, bucharest), got)

	got = ComputeSubmissionTime(48, now)
	require.Equal(t, time.Date(2026, time.March, 12, 0, 0, 0, 0, bucharest), got)

	// 36h is still a one-day delay at day granularity.
	got = ComputeSubmissionTime(36, now)
	require.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, bucharest), got)
}

func TestComputeSubmissionTimeShortDelayInsideWindow(t *testing.T) {
	// 23:30 + 2h lands at 01:30, inside the nightly window.
	got := ComputeSubmissionTime(2, at(23, 30))
	require.Equal(t, time.Date(2026, time.March, 11, 1, 30, 0, 0, bucharest), got)

	// 03:00 + 2h lands at 05:00, still inside.
	got = ComputeSubmissionTime(2, at(3, 0))
	require.Equal(t, at(5, 0), got)
}

func TestComputeSubmissionTimeShortDelayPastWindow(t *testing.T) {
	// 05:00 + 2h would be 07:00, past the 06:00 cutoff; defer to next midnight.
	got := ComputeSubmissionTime(2, at(5, 0))
	require.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, bucharest), got)

	// Midday plus a short delay also defers.
	got = ComputeSubmissionTime(3, at(12, 0))
	require.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, bucharest), got)
}

func TestComputeSubmissionTimeIdempotent(t *testing.T) {
	now := at(5, 0)
	first := ComputeSubmissionTime(2, now)
	second := ComputeSubmissionTime(2, now)
	require.True(t, first.Equal(second))
}

func TestComputeSubmissionTimeZeroDelay(t *testing.T) {
	// No delay at 02:00 submits immediately.
	got := ComputeSubmissionTime(0, at(2, 0))
	require.Equal(t, at(2, 0), got)

	// No delay at noon waits for the next window.
	got = ComputeSubmissionTime(0, at(12, 0))
	require.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, bucharest), got)
}
