package store

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
)

// New builds the session store configured by SESSION_STORE_TYPE. A
// remote store that cannot connect falls back to memory so the server
// still starts, at the cost of per-node session state.
func New(ctx context.Context, cfg *config.Config) Store {
	if cfg.SessionStoreType == "remote" {
		s, err := NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTimeout, cfg.MaxSessions)
		if err == nil {
			return s
		}
		log.Warn().Err(err).Msg("Remote session store unavailable, falling back to memory")
	}
	return NewMemoryStore(cfg.SessionTimeout, cfg.SessionCleanupInterval, cfg.MaxSessions)
}
