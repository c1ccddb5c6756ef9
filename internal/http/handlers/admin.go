package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/service"
)

// AdminHandler handles the admin API endpoints. Every operation requires the
// admin role.
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Register registers the admin routes with the API.
func (h *AdminHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "adminListAccounts",
		Method:      "GET",
		Path:        "/api/v1/admin/accounts",
		Summary:     "List accounts",
		Description: "Returns all accounts, paged",
		Tags:        []string{"Admin"},
	}, h.ListAccounts)

	huma.Register(api, huma.Operation{
		OperationID: "adminListConversions",
		Method:      "GET",
		Path:        "/api/v1/admin/conversions",
		Summary:     "List conversions",
		Description: "Returns conversions across all accounts, paged",
		Tags:        []string{"Admin"},
	}, h.ListConversions)

	huma.Register(api, huma.Operation{
		OperationID: "adminGetStats",
		Method:      "GET",
		Path:        "/api/v1/admin/stats",
		Summary:     "Get service statistics",
		Description: "Returns conversion, account, and worker queue statistics",
		Tags:        []string{"Admin"},
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "adminGetAnalytics",
		Method:      "GET",
		Path:        "/api/v1/admin/analytics",
		Summary:     "Get analytics",
		Description: "Returns product event aggregates over a window",
		Tags:        []string{"Admin"},
	}, h.Analytics)

	huma.Register(api, huma.Operation{
		OperationID: "adminUpdateRole",
		Method:      "PUT",
		Path:        "/api/v1/admin/accounts/{id}/role",
		Summary:     "Update account role",
		Description: "Changes an account's role",
		Tags:        []string{"Admin"},
	}, h.UpdateRole)
}

// AdminListAccountsInput is the input for listing accounts.
type AdminListAccountsInput struct {
	Pagination
}

// AdminListAccountsOutput is the output for listing accounts.
type AdminListAccountsOutput struct {
	Body struct {
		Accounts   []AccountResponse `json:"accounts"`
		Pagination PaginationMeta    `json:"pagination"`
	}
}

// ListAccounts returns all accounts, paged.
func (h *AdminHandler) ListAccounts(ctx context.Context, input *AdminListAccountsInput) (*AdminListAccountsOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	accounts, total, err := h.admin.ListAccounts(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list accounts", err)
	}

	resp := &AdminListAccountsOutput{}
	resp.Body.Accounts = make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp.Body.Accounts = append(resp.Body.Accounts, AccountFromModel(a))
	}
	resp.Body.Pagination = PaginationMeta{Offset: input.Offset, Limit: input.Limit, TotalItems: total}
	return resp, nil
}

// AdminListConversionsInput is the input for listing conversions.
type AdminListConversionsInput struct {
	Pagination
	Status string `query:"status" doc:"Filter by status" enum:"pending,processing,completed,failed,"`
}

// AdminListConversionsOutput is the output for listing conversions.
type AdminListConversionsOutput struct {
	Body struct {
		Conversions []ConversionResponse `json:"conversions"`
		Pagination  PaginationMeta       `json:"pagination"`
	}
}

// ListConversions returns conversions across all accounts, paged.
func (h *AdminHandler) ListConversions(ctx context.Context, input *AdminListConversionsInput) (*AdminListConversionsOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	conversions, total, err := h.admin.ListConversions(ctx, models.ConversionStatus(input.Status), input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list conversions", err)
	}

	resp := &AdminListConversionsOutput{}
	resp.Body.Conversions = make([]ConversionResponse, 0, len(conversions))
	for _, c := range conversions {
		resp.Body.Conversions = append(resp.Body.Conversions, ConversionFromModel(c))
	}
	resp.Body.Pagination = PaginationMeta{Offset: input.Offset, Limit: input.Limit, TotalItems: total}
	return resp, nil
}

// AdminStatsInput is the input for the stats endpoint.
type AdminStatsInput struct{}

// AdminStatsOutput is the output for the stats endpoint.
type AdminStatsOutput struct {
	Body service.AdminStats
}

// Stats returns the combined service and worker queue statistics.
func (h *AdminHandler) Stats(ctx context.Context, input *AdminStatsInput) (*AdminStatsOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	stats, err := h.admin.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get stats", err)
	}
	return &AdminStatsOutput{Body: *stats}, nil
}

// AdminAnalyticsInput is the input for the analytics endpoint.
type AdminAnalyticsInput struct {
	Days  int `query:"days" default:"30" minimum:"1" maximum:"365" doc:"Window size in days"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Number of recent events to include"`
}

// AdminAnalyticsOutput is the output for the analytics endpoint.
type AdminAnalyticsOutput struct {
	Body service.AnalyticsReport
}

// Analytics returns event aggregates since the requested window start.
func (h *AdminHandler) Analytics(ctx context.Context, input *AdminAnalyticsInput) (*AdminAnalyticsOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -input.Days)
	report, err := h.admin.Analytics(ctx, since, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get analytics", err)
	}
	return &AdminAnalyticsOutput{Body: *report}, nil
}

// AdminUpdateRoleInput is the input for updating an account role.
type AdminUpdateRoleInput struct {
	ID   string `path:"id" doc:"Account ID (ULID)"`
	Body struct {
		Role models.Role `json:"role" enum:"user,admin" doc:"New role"`
	}
}

// AdminUpdateRoleOutput is the output for updating an account role.
type AdminUpdateRoleOutput struct {
	Body AccountResponse
}

// UpdateRole changes an account's role.
func (h *AdminHandler) UpdateRole(ctx context.Context, input *AdminUpdateRoleInput) (*AdminUpdateRoleOutput, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	account, err := h.admin.UpdateRole(ctx, id, input.Body.Role)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("account %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to update role", err)
	}
	return &AdminUpdateRoleOutput{Body: AccountFromModel(account)}, nil
}
