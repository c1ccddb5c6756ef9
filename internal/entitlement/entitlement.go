// Package entitlement decides what an account may do based on its
// subscription tier and current usage.
package entitlement

import (
	"github.com/cadrelay/cadrelay/internal/models"
)

// Checker evaluates quota and priority rules. The rules are pure functions of
// account state so callers can evaluate them without touching the database.
type Checker struct {
	freeTierLimit   int
	premiumPriority int
}

// NewChecker creates a Checker with the configured limits.
func NewChecker(freeTierLimit, premiumPriority int) *Checker {
	return &Checker{
		freeTierLimit:   freeTierLimit,
		premiumPriority: premiumPriority,
	}
}

// FreeTierLimit returns the monthly conversion limit for free accounts.
func (c *Checker) FreeTierLimit() int {
	return c.freeTierLimit
}

// CanStartConversion reports whether the account may start another
// conversion this month. Premium accounts are unlimited; free accounts are
// capped at the configured monthly limit. usedThisMonth is the count of
// conversions already started in the current period.
func (c *Checker) CanStartConversion(account *models.Account, usedThisMonth int) error {
	if account.IsPremium() {
		return nil
	}
	if usedThisMonth >= c.freeTierLimit {
		return models.ErrQuotaExceeded
	}
	return nil
}

// Remaining returns how many conversions the account may still start this
// month. Premium accounts return -1, meaning unlimited.
func (c *Checker) Remaining(account *models.Account, usedThisMonth int) int {
	if account.IsPremium() {
		return -1
	}
	remaining := c.freeTierLimit - usedThisMonth
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PriorityFor returns the queue priority for the account's conversions.
// Premium conversions jump the queue; free conversions run at the default.
func (c *Checker) PriorityFor(account *models.Account) int {
	if account.IsPremium() {
		return c.premiumPriority
	}
	return 0
}
