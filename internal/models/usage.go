package models

import "time"

// UsagePeriod tracks conversion counts per account and calendar month.
// Increments happen through a single atomic upsert in the repository, so two
// concurrent conversions never lose a count.
type UsagePeriod struct {
	BaseModel

	AccountID ULID `gorm:"not null;type:varchar(26);uniqueIndex:idx_usage_account_month" json:"account_id"`

	// Month is the calendar month key in "YYYY-MM" form, always UTC.
	Month string `gorm:"not null;size:7;uniqueIndex:idx_usage_account_month" json:"month"`

	ConversionsCount int `gorm:"not null;default:0" json:"conversions_count"`
}

// TableName returns the table name for UsagePeriod.
func (UsagePeriod) TableName() string {
	return "usage_periods"
}

// MonthKey returns the "YYYY-MM" usage period key for the given time in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CurrentMonthKey returns the usage period key for the current month.
func CurrentMonthKey() string {
	return MonthKey(time.Now())
}
