// Package period implements calendar-aware billing period arithmetic.
//
// Billing periods are expressed as calendar deltas (months or years) rather than
// fixed day counts so that month lengths are respected. A period that starts on
// 2024-01-10 with a monthly cadence ends on 2024-02-09: the end date is inclusive
// of the last day of service.
//
// # Usage
//
//	end := period.EndDate(start, period.Monthly)
//	days := period.EstimatedDays(period.Annual) // 365, used for proration
package period
