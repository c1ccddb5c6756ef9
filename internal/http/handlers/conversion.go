package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/service"
)

// ConversionHandler handles conversion API endpoints.
type ConversionHandler struct {
	conversions *service.ConversionService
}

// NewConversionHandler creates a new conversion handler.
func NewConversionHandler(conversions *service.ConversionService) *ConversionHandler {
	return &ConversionHandler{conversions: conversions}
}

// Register registers the conversion routes with the API.
func (h *ConversionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createConversion",
		Method:      "POST",
		Path:        "/api/v1/conversions",
		Summary:     "Upload a CAD file for conversion",
		Description: "Accepts a DWG or DXF file and starts an asynchronous conversion to PDF",
		Tags:        []string{"Conversions"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listConversions",
		Method:      "GET",
		Path:        "/api/v1/conversions",
		Summary:     "List conversions",
		Description: "Returns the caller's conversion history, newest first",
		Tags:        []string{"Conversions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getConversion",
		Method:      "GET",
		Path:        "/api/v1/conversions/{id}",
		Summary:     "Get conversion",
		Description: "Returns a conversion by ID",
		Tags:        []string{"Conversions"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "downloadConversion",
		Method:      "GET",
		Path:        "/api/v1/conversions/{id}/download",
		Summary:     "Get the converted PDF",
		Description: "Returns the download URL for a completed conversion",
		Tags:        []string{"Conversions"},
	}, h.Download)

	huma.Register(api, huma.Operation{
		OperationID: "getUsage",
		Method:      "GET",
		Path:        "/api/v1/usage",
		Summary:     "Get usage",
		Description: "Returns the caller's conversion usage for the current month",
		Tags:        []string{"Conversions"},
	}, h.Usage)
}

// CreateConversionInput is the input for creating a conversion.
type CreateConversionInput struct {
	Body struct {
		FileName string `json:"file_name" minLength:"1" maxLength:"255" doc:"Original file name including the .dwg or .dxf extension"`
		Data     []byte `json:"data" doc:"File content, base64 encoded"`
	}
}

// CreateConversionOutput is the output for creating a conversion.
type CreateConversionOutput struct {
	Body struct {
		ID      models.ULID `json:"id"`
		TaskID  string      `json:"task_id"`
		Message string      `json:"message"`
	}
}

// Create validates and starts a conversion.
func (h *ConversionHandler) Create(ctx context.Context, input *CreateConversionInput) (*CreateConversionOutput, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}

	result, err := h.conversions.Create(ctx, account, service.UploadRequest{
		FileName: input.Body.FileName,
		Data:     input.Body.Data,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrFileNameRequired),
			errors.Is(err, models.ErrUnsupportedFileType),
			errors.Is(err, models.ErrFileTooLarge):
			return nil, huma.Error400BadRequest(err.Error())
		case errors.Is(err, models.ErrQuotaExceeded):
			return nil, huma.Error403Forbidden(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to start conversion", err)
		}
	}

	resp := &CreateConversionOutput{}
	resp.Body.ID = result.ConversionID
	resp.Body.TaskID = result.TaskID
	resp.Body.Message = "Conversion started"
	return resp, nil
}

// ListConversionsInput is the input for listing conversions.
type ListConversionsInput struct {
	Pagination
}

// ListConversionsOutput is the output for listing conversions.
type ListConversionsOutput struct {
	Body struct {
		Conversions []ConversionResponse `json:"conversions"`
		Pagination  PaginationMeta       `json:"pagination"`
	}
}

// List returns the caller's conversion history.
func (h *ConversionHandler) List(ctx context.Context, input *ListConversionsInput) (*ListConversionsOutput, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}

	conversions, total, err := h.conversions.ListForAccount(ctx, account, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list conversions", err)
	}

	resp := &ListConversionsOutput{}
	resp.Body.Conversions = make([]ConversionResponse, 0, len(conversions))
	for _, c := range conversions {
		resp.Body.Conversions = append(resp.Body.Conversions, ConversionFromModel(c))
	}
	resp.Body.Pagination = PaginationMeta{
		Offset:     input.Offset,
		Limit:      input.Limit,
		TotalItems: total,
	}
	return resp, nil
}

// GetConversionInput is the input for getting a conversion.
type GetConversionInput struct {
	ID string `path:"id" doc:"Conversion ID (ULID)"`
}

// GetConversionOutput is the output for getting a conversion.
type GetConversionOutput struct {
	Body ConversionResponse
}

// GetByID returns a conversion by ID.
func (h *ConversionHandler) GetByID(ctx context.Context, input *GetConversionInput) (*GetConversionOutput, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}

	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	conversion, err := h.conversions.GetForAccount(ctx, account, id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("conversion %s not found", input.ID))
		case errors.Is(err, models.ErrNotOwner):
			return nil, huma.Error403Forbidden("conversion belongs to another account")
		default:
			return nil, huma.Error500InternalServerError("failed to get conversion", err)
		}
	}

	return &GetConversionOutput{Body: ConversionFromModel(conversion)}, nil
}

// DownloadConversionInput is the input for downloading a conversion.
type DownloadConversionInput struct {
	ID string `path:"id" doc:"Conversion ID (ULID)"`
}

// DownloadConversionOutput carries the PDF download URL.
type DownloadConversionOutput struct {
	Body struct {
		URL string `json:"url"`
	}
}

// Download returns the PDF URL for a completed conversion.
func (h *ConversionHandler) Download(ctx context.Context, input *DownloadConversionInput) (*DownloadConversionOutput, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}

	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	url, err := h.conversions.RecordDownload(ctx, account, id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return nil, huma.Error404NotFound("no converted file available")
		case errors.Is(err, models.ErrNotOwner):
			return nil, huma.Error403Forbidden("conversion belongs to another account")
		default:
			return nil, huma.Error500InternalServerError("failed to get download", err)
		}
	}

	resp := &DownloadConversionOutput{}
	resp.Body.URL = url
	return resp, nil
}

// UsageInput is the input for the usage endpoint.
type UsageInput struct{}

// UsageOutput is the output for the usage endpoint.
type UsageOutput struct {
	Body service.UsageSummary
}

// Usage returns the caller's quota standing for the current month.
func (h *ConversionHandler) Usage(ctx context.Context, input *UsageInput) (*UsageOutput, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}

	summary, err := h.conversions.Usage(ctx, account)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get usage", err)
	}
	return &UsageOutput{Body: *summary}, nil
}
