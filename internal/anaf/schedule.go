// Package anaf holds the scheduling and credential logic around the national
// e-invoicing authority. The wire protocol itself lives behind ports; only
// timing and eligibility rules are implemented here.
package anaf

import "time"

// uploadWindowEndHour is the last local hour (exclusive) at which the
// authority accepts uploads; the window runs 00:00-06:00 local time.
const uploadWindowEndHour = 6

// ComputeSubmissionTime returns the earliest allowed submission timestamp for
// a document issued at now, given the company's configured delay in hours.
// now must already be expressed in the tenant's timezone.
//
// Day-granularity delays (>=24h) land at local midnight of the target day,
// the start of its upload window. Shorter delays are added to now; when the
// result still falls inside the nightly window it is used as-is, otherwise
// the submission defers to the following local midnight.
//
// Pure and idempotent for a given now. Callers re-derive it on every
// issuance so a changed company delay is always honored.
func ComputeSubmissionTime(delayHours int, now time.Time) time.Time {
	if delayHours < 0 {
		delayHours = 0
	}
	loc := now.Location()

	if delayHours >= 24 {
		days := delayHours / 24
		target := now.AddDate(0, 0, days)
		return time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, loc)
	}

	candidate := now.Add(time.Duration(delayHours) * time.Hour)
	if candidate.Hour() < uploadWindowEndHour {
		return candidate
	}
	next := candidate.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, loc)
}
