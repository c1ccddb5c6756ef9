// Package handlers provides the HTTP API handlers for cadrelay.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cadrelay/cadrelay/internal/auth"
	"github.com/cadrelay/cadrelay/internal/models"
)

// Pagination contains pagination parameters for list requests.
type Pagination struct {
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Number of items to skip"`
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Items per page"`
}

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	Offset     int   `json:"offset"`
	Limit      int   `json:"limit"`
	TotalItems int64 `json:"total_items"`
}

// ConversionResponse represents a conversion in API responses.
type ConversionResponse struct {
	ID               models.ULID             `json:"id"`
	CreatedAt        models.Time             `json:"created_at"`
	OriginalFileName string                  `json:"original_file_name"`
	FileSize         int64                   `json:"file_size"`
	Status           models.ConversionStatus `json:"status"`
	ErrorMessage     string                  `json:"error_message,omitempty"`
	PDFURL           string                  `json:"pdf_url,omitempty"`
	ProcessingTimeMs int64                   `json:"processing_time_ms,omitempty"`
	CompletedAt      *models.Time            `json:"completed_at,omitempty"`
}

// ConversionFromModel converts a conversion model to a response.
func ConversionFromModel(c *models.Conversion) ConversionResponse {
	return ConversionResponse{
		ID:               c.ID,
		CreatedAt:        c.CreatedAt,
		OriginalFileName: c.OriginalFileName,
		FileSize:         c.FileSize,
		Status:           c.Status,
		ErrorMessage:     c.ErrorMessage,
		PDFURL:           c.PDFURL,
		ProcessingTimeMs: c.ProcessingTimeMs,
		CompletedAt:      c.CompletedAt,
	}
}

// AccountResponse represents an account in API responses. Billing provider
// identifiers stay internal.
type AccountResponse struct {
	ID                 models.ULID               `json:"id"`
	CreatedAt          models.Time               `json:"created_at"`
	Name               string                    `json:"name,omitempty"`
	Email              string                    `json:"email,omitempty"`
	LoginMethod        string                    `json:"login_method,omitempty"`
	Role               models.Role               `json:"role"`
	SubscriptionTier   models.SubscriptionTier   `json:"subscription_tier"`
	SubscriptionStatus models.SubscriptionStatus `json:"subscription_status,omitempty"`
	LastSignedIn       *models.Time              `json:"last_signed_in,omitempty"`
}

// AccountFromModel converts an account model to a response.
func AccountFromModel(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:                 a.ID,
		CreatedAt:          a.CreatedAt,
		Name:               a.Name,
		Email:              a.Email,
		LoginMethod:        a.LoginMethod,
		Role:               a.Role,
		SubscriptionTier:   a.SubscriptionTier,
		SubscriptionStatus: a.SubscriptionStatus,
		LastSignedIn:       a.LastSignedIn,
	}
}

// requireAccount returns the authenticated account or a 401 error.
func requireAccount(ctx context.Context) (*models.Account, error) {
	account := auth.AccountFromContext(ctx)
	if account == nil {
		return nil, huma.Error401Unauthorized("authentication required")
	}
	return account, nil
}

// requireAdmin returns the authenticated account if it has the admin role.
func requireAdmin(ctx context.Context) (*models.Account, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}
	if !account.IsAdmin() {
		return nil, huma.Error403Forbidden("admin access required")
	}
	return account, nil
}
