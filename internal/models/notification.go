package models

// NotificationStatus tracks delivery of a queued notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationTask is a queued email notification, typically produced when a
// conversion finishes. Delivery happens out of band.
type NotificationTask struct {
	BaseModel

	AccountID ULID `gorm:"not null;type:varchar(26);index" json:"account_id"`

	// ConversionID links the notification to a conversion when applicable.
	ConversionID *ULID `gorm:"type:varchar(26);index" json:"conversion_id,omitempty"`

	RecipientEmail string `gorm:"not null;size:320" json:"recipient_email"`
	Subject        string `gorm:"not null;size:512" json:"subject"`
	Body           string `gorm:"size:8192" json:"body"`

	Status NotificationStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	SentAt       *Time  `json:"sent_at,omitempty"`
	ErrorMessage string `gorm:"size:2048" json:"error_message,omitempty"`
}

// TableName returns the table name for NotificationTask.
func (NotificationTask) TableName() string {
	return "notification_tasks"
}

// MarkSent records successful delivery.
func (n *NotificationTask) MarkSent() {
	n.Status = NotificationSent
	now := Now()
	n.SentAt = &now
	n.ErrorMessage = ""
}

// MarkFailed records a delivery failure.
func (n *NotificationTask) MarkFailed(reason string) {
	n.Status = NotificationFailed
	n.ErrorMessage = reason
}
