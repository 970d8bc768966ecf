// Package store persists sessions behind a common interface with an
// in-memory implementation for single-node deployments and a Redis
// implementation for shared state.
package store

import (
	"context"
	"time"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

// Store is the session persistence contract. Get on a missing session
// returns (nil, nil) and on an expired one types.ErrSessionExpired;
// Update and Delete on a missing session return
// types.ErrSessionNotFound. Backends that expire entries natively (the
// Redis TTL) report long-expired sessions as absent.
type Store interface {
	// Create persists a new session and returns it with ID and
	// timestamps populated.
	Create(ctx context.Context, data types.SessionData) (*types.Session, error)

	// Get returns the session or (nil, nil) when absent or expired.
	Get(ctx context.Context, id string) (*types.Session, error)

	// Update merges data into an existing session.
	Update(ctx context.Context, id string, data types.SessionData) (*types.Session, error)

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// List returns sessions, optionally filtered by user ID.
	List(ctx context.Context, userID string) ([]*types.Session, error)

	// Touch bumps LastActivityAt and extends expiry by ttl.
	Touch(ctx context.Context, id string, ttl time.Duration) error

	// DeleteExpired removes expired sessions and returns how many.
	DeleteExpired(ctx context.Context) (int, error)

	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

func applyData(s *types.Session, data types.SessionData) {
	if data.UserID != "" {
		s.UserID = data.UserID
	}
	if data.Username != "" {
		s.Username = data.Username
	}
	if len(data.Roles) > 0 {
		s.Roles = append([]string(nil), data.Roles...)
	}
	if data.Metadata != nil {
		if s.Metadata == nil {
			s.Metadata = make(map[string]string, len(data.Metadata))
		}
		for k, v := range data.Metadata {
			s.Metadata[k] = v
		}
	}
	if data.TTL > 0 {
		s.ExpiresAt = time.Now().Add(data.TTL)
	}
}
