package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trialforge-ai/platform/pkg/common/logger"
)

// ClauseCache memoizes extraction-service output in Redis keyed by a digest
// of the protocol text. The extraction service is the only non-deterministic
// collaborator, so caching its output keeps re-parses of the same protocol
// structurally identical.
type ClauseCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClauseCache(client *redis.Client, ttl time.Duration) *ClauseCache {
	return &ClauseCache{client: client, ttl: ttl}
}

func (c *ClauseCache) Get(ctx context.Context, protocolText string) ([]Clause, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, cacheKey(protocolText)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.WithError(err).Warn("clause cache lookup failed")
		}
		return nil, false
	}

	var clauses []Clause
	if err := json.Unmarshal(payload, &clauses); err != nil {
		logger.Log.WithError(err).Warn("clause cache entry corrupt, ignoring")
		return nil, false
	}
	return clauses, true
}

func (c *ClauseCache) Put(ctx context.Context, protocolText string, clauses []Clause) {
	if c == nil || c.client == nil || len(clauses) == 0 {
		return
	}
	payload, err := json.Marshal(clauses)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(protocolText), payload, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Warn("clause cache write failed")
	}
}

func cacheKey(protocolText string) string {
	digest := sha256.Sum256([]byte(protocolText))
	return "trialforge:protocol:clauses:" + hex.EncodeToString(digest[:])
}
