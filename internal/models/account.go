package models

// Role controls access to the admin surface.
type Role string

const (
	// RoleUser is the default role for every account.
	RoleUser Role = "user"
	// RoleAdmin grants access to the admin read models.
	RoleAdmin Role = "admin"
)

// SubscriptionTier determines quota and conversion priority.
type SubscriptionTier string

const (
	// TierFree accounts are limited to a fixed number of conversions per month.
	TierFree SubscriptionTier = "free"
	// TierPremium accounts have unlimited conversions at elevated priority.
	TierPremium SubscriptionTier = "premium"
)

// SubscriptionStatus mirrors the billing provider's subscription status.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	// SubscriptionNone is the zero value for accounts that never subscribed.
	SubscriptionNone SubscriptionStatus = ""
)

// Account represents a user of the conversion service. Accounts are upserted
// from the fronting auth proxy on first authenticated request.
type Account struct {
	BaseModel

	// OpenID is the stable subject identifier from the identity provider.
	OpenID string `gorm:"not null;size:255;uniqueIndex" json:"open_id"`

	Name        string `gorm:"size:255" json:"name"`
	Email       string `gorm:"size:320;index" json:"email"`
	LoginMethod string `gorm:"size:50" json:"login_method"`

	Role Role `gorm:"not null;default:'user';size:20" json:"role"`

	SubscriptionTier   SubscriptionTier   `gorm:"not null;default:'free';size:20" json:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `gorm:"size:20" json:"subscription_status"`

	// StripeCustomerID links this account to the billing provider's customer.
	StripeCustomerID     string `gorm:"size:255;index" json:"-"`
	StripeSubscriptionID string `gorm:"size:255" json:"-"`

	SubscriptionStart *Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *Time `json:"subscription_end,omitempty"`

	LastSignedIn *Time `json:"last_signed_in,omitempty"`
}

// TableName returns the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// IsAdmin returns true if the account has the admin role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsPremium returns true if the account is on the premium tier.
func (a *Account) IsPremium() bool {
	return a.SubscriptionTier == TierPremium
}

// TierForStatus derives the subscription tier from a billing status.
// Only active and trialing subscriptions grant premium access.
func TierForStatus(status SubscriptionStatus) SubscriptionTier {
	switch status {
	case SubscriptionActive, SubscriptionTrialing:
		return TierPremium
	default:
		return TierFree
	}
}

// ApplySubscription recomputes the subscription fields from billing state.
// Callers always pass the full state from the provider event, never a delta,
// so applying the same event twice is a no-op.
func (a *Account) ApplySubscription(subscriptionID string, status SubscriptionStatus, start, end *Time) {
	a.StripeSubscriptionID = subscriptionID
	a.SubscriptionStatus = status
	a.SubscriptionTier = TierForStatus(status)
	a.SubscriptionStart = start
	a.SubscriptionEnd = end
}

// ClearSubscription resets the account to the free tier after a subscription
// is deleted.
func (a *Account) ClearSubscription() {
	a.StripeSubscriptionID = ""
	a.SubscriptionStatus = SubscriptionCanceled
	a.SubscriptionTier = TierFree
	a.SubscriptionStart = nil
	a.SubscriptionEnd = nil
}
