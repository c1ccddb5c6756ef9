package models

import "gorm.io/gorm"

// ConversionStatus represents the lifecycle state of a conversion job.
type ConversionStatus string

const (
	// ConversionPending indicates the upload is stored but not yet accepted
	// by the conversion worker.
	ConversionPending ConversionStatus = "pending"
	// ConversionProcessing indicates the worker accepted the task.
	ConversionProcessing ConversionStatus = "processing"
	// ConversionCompleted indicates the PDF was produced and stored.
	ConversionCompleted ConversionStatus = "completed"
	// ConversionFailed indicates the conversion ended without a PDF.
	ConversionFailed ConversionStatus = "failed"
)

// Conversion represents a single CAD-to-PDF conversion job.
type Conversion struct {
	BaseModel

	// AccountID is the owner of this conversion.
	AccountID ULID `gorm:"not null;type:varchar(26);index" json:"account_id"`

	// OriginalFileName is the client-supplied name of the uploaded file.
	OriginalFileName string `gorm:"not null;size:512" json:"original_file_name"`

	// FileSize is the uploaded file size in bytes.
	FileSize int64 `gorm:"not null" json:"file_size"`

	// SourceKey is the object storage key of the uploaded CAD file.
	SourceKey string `gorm:"not null;size:1024" json:"-"`

	// SourceURL is the public URL of the uploaded CAD file.
	SourceURL string `gorm:"size:2048" json:"source_url,omitempty"`

	// PDFKey and PDFURL are set when the conversion completes.
	PDFKey string `gorm:"size:1024" json:"-"`
	PDFURL string `gorm:"size:2048" json:"pdf_url,omitempty"`

	// Status is the current lifecycle state.
	Status ConversionStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// ErrorMessage holds the failure reason for failed conversions.
	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`

	// TaskID is the identifier assigned by the conversion worker.
	TaskID string `gorm:"size:255;index" json:"-"`

	ProcessingStartedAt *Time `json:"processing_started_at,omitempty"`
	CompletedAt         *Time `json:"completed_at,omitempty"`

	// ProcessingTimeMs is the wall time from worker acceptance to completion.
	ProcessingTimeMs int64 `json:"processing_time_ms,omitempty"`

	// Priority is the queue priority given to the worker (higher runs first).
	Priority int `gorm:"default:0" json:"priority"`
}

// TableName returns the table name for Conversion.
func (Conversion) TableName() string {
	return "conversions"
}

// IsTerminal returns true once the conversion reached a final state.
func (c *Conversion) IsTerminal() bool {
	return c.Status == ConversionCompleted || c.Status == ConversionFailed
}

// MarkProcessing transitions the conversion from pending to processing.
// Transitions are monotonic: a terminal conversion never changes state again.
func (c *Conversion) MarkProcessing(taskID string) error {
	if c.Status != ConversionPending {
		return ErrInvalidTransition
	}
	c.Status = ConversionProcessing
	c.TaskID = taskID
	now := Now()
	c.ProcessingStartedAt = &now
	return nil
}

// MarkCompleted transitions the conversion to completed and records the
// produced PDF location.
func (c *Conversion) MarkCompleted(pdfKey, pdfURL string) error {
	if c.Status != ConversionProcessing {
		return ErrInvalidTransition
	}
	c.Status = ConversionCompleted
	c.PDFKey = pdfKey
	c.PDFURL = pdfURL
	c.ErrorMessage = ""
	now := Now()
	c.CompletedAt = &now
	if c.ProcessingStartedAt != nil {
		c.ProcessingTimeMs = now.Sub(*c.ProcessingStartedAt).Milliseconds()
	}
	return nil
}

// MarkFailed transitions the conversion to failed with a reason. Failure is
// reachable from both pending (submission refused) and processing.
func (c *Conversion) MarkFailed(reason string) error {
	if c.IsTerminal() {
		return ErrInvalidTransition
	}
	c.Status = ConversionFailed
	c.ErrorMessage = reason
	now := Now()
	c.CompletedAt = &now
	if c.ProcessingStartedAt != nil {
		c.ProcessingTimeMs = now.Sub(*c.ProcessingStartedAt).Milliseconds()
	}
	return nil
}

// Validate performs basic validation on the conversion.
func (c *Conversion) Validate() error {
	if c.AccountID.IsZero() {
		return ErrAccountRequired
	}
	if c.OriginalFileName == "" {
		return ErrFileNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the conversion and generates
// its ULID.
func (c *Conversion) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}
