// SPDX-License-Identifier: MIT

// Package registry implements the push-token registry: registration,
// exchange (with push delivery and audit log), revocation and validation.
package registry

import "time"

// Record is one registered push token.
type Record struct {
	Token       string            `json:"token"`
	UserID      string            `json:"userId"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Invalidated bool              `json:"invalidated"`
}

// ExchangeEntry is one audit-log entry for a token exchange. Tokens
// themselves are not stored in the log; owners are.
type ExchangeEntry struct {
	ID         string    `json:"id"`
	SourceUser string    `json:"sourceUser"`
	TargetUser string    `json:"targetUser"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// VerifyResult is the outcome of a validity check.
type VerifyResult struct {
	Valid   bool              `json:"valid"`
	Reasons []string          `json:"reasons"`
	Details map[string]string `json:"details,omitempty"`
}

// Validation failure reasons.
const (
	ReasonInvalidFormat = "invalid_format"
	ReasonBlacklisted   = "blacklisted"
	ReasonNotRegistered = "not_registered"
	ReasonInvalidated   = "invalidated"
	ReasonExpired       = "expired"
)

// Token format bounds.
const (
	MinTokenLength = 50
	MaxTokenLength = 500
)
