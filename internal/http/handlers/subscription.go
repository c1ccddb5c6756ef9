package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/service"
)

// SubscriptionHandler handles subscription API endpoints.
type SubscriptionHandler struct {
	billing *service.BillingService
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(billing *service.BillingService) *SubscriptionHandler {
	return &SubscriptionHandler{billing: billing}
}

// Register registers the subscription routes with the API.
func (h *SubscriptionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSubscription",
		Method:      "GET",
		Path:        "/api/v1/subscription",
		Summary:     "Get subscription",
		Description: "Returns the caller's subscription tier and status",
		Tags:        []string{"Subscription"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "createCheckout",
		Method:      "POST",
		Path:        "/api/v1/subscription/checkout",
		Summary:     "Start premium checkout",
		Description: "Creates a billing checkout session for the premium plan",
		Tags:        []string{"Subscription"},
	}, h.Checkout)
}

// GetSubscriptionInput is the input for the subscription endpoint.
type GetSubscriptionInput struct{}

// GetSubscriptionOutput is the output for the subscription endpoint.
type GetSubscriptionOutput struct {
	Body struct {
		Tier              models.SubscriptionTier   `json:"tier"`
		Status            models.SubscriptionStatus `json:"status,omitempty"`
		SubscriptionStart *models.Time              `json:"subscription_start,omitempty"`
		SubscriptionEnd   *models.Time              `json:"subscription_end,omitempty"`
	}
}

// Get returns the caller's subscription state.
func (h *SubscriptionHandler) Get(ctx context.Context, input *GetSubscriptionInput) (*GetSubscriptionOutput, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}

	resp := &GetSubscriptionOutput{}
	resp.Body.Tier = account.SubscriptionTier
	resp.Body.Status = account.SubscriptionStatus
	resp.Body.SubscriptionStart = account.SubscriptionStart
	resp.Body.SubscriptionEnd = account.SubscriptionEnd
	return resp, nil
}

// CheckoutInput is the input for starting a checkout.
type CheckoutInput struct {
	// Origin is used to build the success and cancel redirect URLs.
	Origin string `header:"Origin" doc:"Origin of the requesting frontend"`
}

// CheckoutOutput carries the checkout redirect URL.
type CheckoutOutput struct {
	Body service.CheckoutResult
}

// Checkout creates a billing checkout session for the premium plan.
func (h *SubscriptionHandler) Checkout(ctx context.Context, input *CheckoutInput) (*CheckoutOutput, error) {
	account, err := requireAccount(ctx)
	if err != nil {
		return nil, err
	}

	if input.Origin == "" {
		return nil, huma.Error400BadRequest("Origin header is required")
	}
	if account.IsPremium() {
		return nil, huma.Error400BadRequest("account already has an active subscription")
	}

	result, err := h.billing.CreateCheckout(ctx, account, input.Origin)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to create checkout session", err)
	}
	return &CheckoutOutput{Body: *result}, nil
}
