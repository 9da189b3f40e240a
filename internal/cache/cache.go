// Package cache memoizes calculation reports by request digest. Entries
// expire after a TTL and are never a source of truth: a miss simply means
// the engine runs again.
//
// Implementations: in-process (patrickmn/go-cache) and Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eupholio/costbasis/internal/engine"
	"github.com/eupholio/costbasis/internal/model"
)

// ErrMiss is returned by Get when no report is cached under the key.
var ErrMiss = errors.New("cache: miss")

// Cache stores finished reports.
type Cache interface {
	// Get returns the report cached under key or ErrMiss.
	Get(ctx context.Context, key string) (*model.Report, error)

	// Set caches r under key for the implementation's TTL.
	Set(ctx context.Context, key string, r *model.Report) error
}

// Key derives the cache key of a request from its canonical JSON encoding.
// Equal requests, including event order, map to the same key.
func Key(req engine.Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("cache: encode request: %w", err)
	}
	sum := sha256.Sum256(data)
	return reportKey(hex.EncodeToString(sum[:])), nil
}

func reportKey(digest string) string { return fmt.Sprintf("costbasis:report:%s", digest) }
