// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when a token has no record.
var ErrNotFound = errors.New("token not registered")

// Store persists token records and the exchange audit log.
type Store interface {
	// Put inserts or replaces a record keyed by its token.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for token, or ErrNotFound.
	Get(ctx context.Context, token string) (*Record, error)

	// MarkInvalidated flips the invalidated flag, keeping the record
	// for audit. Returns ErrNotFound for unknown tokens.
	MarkInvalidated(ctx context.Context, token string) error

	// AppendExchange appends one audit entry.
	AppendExchange(ctx context.Context, entry *ExchangeEntry) error

	// Exchanges returns all audit entries in append order.
	Exchanges(ctx context.Context) ([]ExchangeEntry, error)

	Close() error
}
