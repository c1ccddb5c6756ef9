package models

// AnalyticsEventType identifies what happened.
type AnalyticsEventType string

const (
	EventFileUploaded         AnalyticsEventType = "file_uploaded"
	EventConversionStarted    AnalyticsEventType = "conversion_started"
	EventConversionCompleted  AnalyticsEventType = "conversion_completed"
	EventConversionFailed     AnalyticsEventType = "conversion_failed"
	EventPDFDownloaded        AnalyticsEventType = "pdf_downloaded"
	EventSubscriptionUpgraded AnalyticsEventType = "subscription_upgraded"
	EventSubscriptionCanceled AnalyticsEventType = "subscription_canceled"
	EventLimitReached         AnalyticsEventType = "limit_reached"
)

// AnalyticsEvent is an append-only record of product events. Writes are
// best-effort and never block the conversion path.
type AnalyticsEvent struct {
	BaseModel

	// AccountID is nullable for events that happen outside a session.
	AccountID *ULID `gorm:"type:varchar(26);index" json:"account_id,omitempty"`

	EventType AnalyticsEventType `gorm:"not null;size:50;index" json:"event_type"`

	// Metadata is a free-form JSON document describing the event.
	Metadata string `gorm:"size:4096" json:"metadata,omitempty"`
}

// TableName returns the table name for AnalyticsEvent.
func (AnalyticsEvent) TableName() string {
	return "analytics_events"
}
