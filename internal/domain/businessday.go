package domain

import "time"

// DefaultCutoffHour is the local hour at which a new business day starts.
// A venue closing at 2AM still books those orders on the previous day.
const DefaultCutoffHour = 6

// BusinessDate maps a wall-clock instant to the business day it belongs to,
// in the instant's own location. Times strictly before the cutoff hour count
// toward the previous calendar day; the exact cutoff instant starts the new
// day. The result is a date at midnight UTC, suitable for DATE columns.
func BusinessDate(now time.Time, cutoffHour int) time.Time {
	if cutoffHour < 0 || cutoffHour > 23 {
		cutoffHour = DefaultCutoffHour
	}
	day := now
	if now.Hour() < cutoffHour {
		day = now.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}
