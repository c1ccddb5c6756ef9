package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/cadrelay/cadrelay/internal/config"
	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/repository"
)

// EventKind enumerates the billing events the reconciler processes. Using a
// closed enum keeps the dispatch switch exhaustive instead of comparing raw
// provider strings all over the code.
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindCheckoutCompleted
	EventKindSubscriptionUpdated
	EventKindSubscriptionDeleted
	EventKindInvoicePaid
	EventKindInvoicePaymentFailed
)

// String returns the provider-facing name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventKindCheckoutCompleted:
		return "checkout.session.completed"
	case EventKindSubscriptionUpdated:
		return "customer.subscription.updated"
	case EventKindSubscriptionDeleted:
		return "customer.subscription.deleted"
	case EventKindInvoicePaid:
		return "invoice.paid"
	case EventKindInvoicePaymentFailed:
		return "invoice.payment_failed"
	default:
		return "unknown"
	}
}

// ParseEventKind maps a provider event type to an EventKind. Created and
// updated subscriptions carry the same payload and get the same handling.
func ParseEventKind(eventType string) EventKind {
	switch eventType {
	case "checkout.session.completed":
		return EventKindCheckoutCompleted
	case "customer.subscription.created", "customer.subscription.updated":
		return EventKindSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventKindSubscriptionDeleted
	case "invoice.paid":
		return EventKindInvoicePaid
	case "invoice.payment_failed":
		return EventKindInvoicePaymentFailed
	default:
		return EventKindUnknown
	}
}

// CheckoutResult carries the URL the client is redirected to.
type CheckoutResult struct {
	CheckoutURL string `json:"checkout_url"`
}

// BillingService reconciles account subscription state with the billing
// provider. Every handler recomputes the full subscription state from the
// event payload, so applying the same event twice is harmless and events
// arriving out of order converge on the provider's latest truth.
type BillingService struct {
	accounts  repository.AccountRepository
	analytics repository.AnalyticsRepository
	cfg       config.BillingConfig
	logger    *slog.Logger
}

// NewBillingService creates the billing reconciler and configures the
// provider client.
func NewBillingService(accounts repository.AccountRepository, analytics repository.AnalyticsRepository, cfg config.BillingConfig, logger *slog.Logger) *BillingService {
	if logger == nil {
		logger = slog.Default()
	}
	stripe.Key = cfg.SecretKey
	return &BillingService{
		accounts:  accounts,
		analytics: analytics,
		cfg:       cfg,
		logger:    logger,
	}
}

// VerifyEvent checks the webhook signature and parses the event.
func (s *BillingService) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

// ProcessEvent dispatches a verified event to its handler. Unknown event
// kinds are acknowledged without action so the provider stops retrying them.
func (s *BillingService) ProcessEvent(ctx context.Context, event stripe.Event) error {
	kind := ParseEventKind(string(event.Type))

	s.logger.Info("billing event received",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)

	switch kind {
	case EventKindCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("decoding checkout session: %w", err)
		}
		return s.handleCheckoutCompleted(ctx, &sess)
	case EventKindSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decoding subscription: %w", err)
		}
		return s.handleSubscriptionUpdated(ctx, &sub)
	case EventKindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decoding subscription: %w", err)
		}
		return s.handleSubscriptionDeleted(ctx, &sub)
	case EventKindInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decoding invoice: %w", err)
		}
		return s.handleInvoicePaid(ctx, &invoice)
	case EventKindInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decoding invoice: %w", err)
		}
		return s.handleInvoicePaymentFailed(ctx, &invoice)
	case EventKindUnknown:
		s.logger.Debug("unhandled billing event", slog.String("event_type", string(event.Type)))
		return nil
	default:
		return nil
	}
}

// handleCheckoutCompleted attaches the provider customer and subscription to
// the account named in the session metadata.
func (s *BillingService) handleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	userID := sess.Metadata["user_id"]
	if userID == "" {
		s.logger.Warn("checkout session without user_id metadata", slog.String("session_id", sess.ID))
		return nil
	}

	accountID, err := models.ParseULID(userID)
	if err != nil {
		s.logger.Warn("checkout session with malformed user_id", slog.String("session_id", sess.ID))
		return nil
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		s.logger.Warn("checkout completed for unknown account", slog.String("account_id", userID))
		return nil
	}

	if sess.Customer != nil {
		account.StripeCustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		account.StripeSubscriptionID = sess.Subscription.ID
	}
	if err := s.accounts.Update(ctx, account); err != nil {
		return err
	}

	s.trackBilling(ctx, &account.ID, models.EventSubscriptionUpgraded, map[string]any{
		"customer_id":     account.StripeCustomerID,
		"subscription_id": account.StripeSubscriptionID,
		"session_id":      sess.ID,
	})

	s.logger.Info("checkout completed", slog.String("account_id", account.ID.String()))
	return nil
}

// handleSubscriptionUpdated recomputes subscription state from the payload.
func (s *BillingService) handleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	account, err := s.accountForCustomer(ctx, sub.Customer)
	if err != nil || account == nil {
		return err
	}

	var start, end *models.Time
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		start = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		end = &t
	}

	account.ApplySubscription(sub.ID, models.SubscriptionStatus(sub.Status), start, end)
	if err := s.accounts.Update(ctx, account); err != nil {
		return err
	}

	s.logger.Info("subscription updated",
		slog.String("account_id", account.ID.String()),
		slog.String("status", string(sub.Status)),
		slog.String("tier", string(account.SubscriptionTier)),
	)
	return nil
}

// handleSubscriptionDeleted downgrades the account to the free tier.
func (s *BillingService) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	account, err := s.accountForCustomer(ctx, sub.Customer)
	if err != nil || account == nil {
		return err
	}

	account.ClearSubscription()
	if err := s.accounts.Update(ctx, account); err != nil {
		return err
	}

	s.trackBilling(ctx, &account.ID, models.EventSubscriptionCanceled, map[string]any{
		"subscription_id": sub.ID,
	})

	s.logger.Info("subscription canceled", slog.String("account_id", account.ID.String()))
	return nil
}

// handleInvoicePaid confirms the subscription is in good standing.
func (s *BillingService) handleInvoicePaid(ctx context.Context, invoice *stripe.Invoice) error {
	account, err := s.accountForCustomer(ctx, invoice.Customer)
	if err != nil || account == nil {
		return err
	}

	account.SubscriptionStatus = models.SubscriptionActive
	account.SubscriptionTier = models.TierForStatus(account.SubscriptionStatus)
	if err := s.accounts.Update(ctx, account); err != nil {
		return err
	}

	s.logger.Info("invoice paid", slog.String("account_id", account.ID.String()))
	return nil
}

// handleInvoicePaymentFailed marks the subscription past due. The tier is
// left alone: the account keeps premium access through the retry window,
// and a subscription update or deletion settles the tier once the provider
// gives up.
func (s *BillingService) handleInvoicePaymentFailed(ctx context.Context, invoice *stripe.Invoice) error {
	account, err := s.accountForCustomer(ctx, invoice.Customer)
	if err != nil || account == nil {
		return err
	}

	account.SubscriptionStatus = models.SubscriptionPastDue
	if err := s.accounts.Update(ctx, account); err != nil {
		return err
	}

	s.logger.Warn("invoice payment failed", slog.String("account_id", account.ID.String()))
	return nil
}

// accountForCustomer resolves the account owning a provider customer.
// An unknown customer is a no-op, not an error: the provider would otherwise
// retry an event we can never apply.
func (s *BillingService) accountForCustomer(ctx context.Context, customer *stripe.Customer) (*models.Account, error) {
	if customer == nil || customer.ID == "" {
		s.logger.Warn("billing event without customer id")
		return nil, nil
	}

	account, err := s.accounts.GetByCustomerID(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		s.logger.Warn("no account for billing customer", slog.String("customer_id", customer.ID))
		return nil, nil
	}
	return account, nil
}

// CreateCheckout starts a provider checkout session for the premium plan.
// The account ID travels in the session metadata so the completed-checkout
// event can find its way back.
func (s *BillingService) CreateCheckout(ctx context.Context, account *models.Account, origin string) (*CheckoutResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(account.ID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.PremiumPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(origin + "/dashboard?upgrade=success"),
		CancelURL:           stripe.String(origin + "/dashboard?upgrade=canceled"),
		AllowPromotionCodes: stripe.Bool(true),
	}
	if account.Email != "" {
		params.CustomerEmail = stripe.String(account.Email)
	}
	params.AddMetadata("user_id", account.ID.String())
	params.AddMetadata("customer_email", account.Email)
	params.AddMetadata("customer_name", account.Name)
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating checkout session: %w", err)
	}
	return &CheckoutResult{CheckoutURL: sess.URL}, nil
}

// trackBilling appends a billing analytics event, best effort.
func (s *BillingService) trackBilling(ctx context.Context, accountID *models.ULID, eventType models.AnalyticsEventType, metadata map[string]any) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		payload = []byte("{}")
	}
	if err := s.analytics.Create(ctx, &models.AnalyticsEvent{
		AccountID: accountID,
		EventType: eventType,
		Metadata:  string(payload),
	}); err != nil {
		s.logger.Warn("recording billing analytics failed", slog.String("error", err.Error()))
	}
}
