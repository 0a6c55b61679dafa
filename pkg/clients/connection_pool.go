// Package clients manages connections to the destination store: the shared
// pool registry, connection retry, dedicated handles and the statement
// executors the write path runs on.
package clients

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// PoolRegistry shares one *sql.DB per distinct store configuration. Pools are
// reference counted and closed when the last holder releases them.
type PoolRegistry struct {
	logger *zap.Logger

	pools map[string]*pooledDB
	mu    sync.Mutex
}

type pooledDB struct {
	// ready is closed once db or err is set
	ready     chan struct{}
	err       error
	db        *sql.DB
	refs      int
	createdAt time.Time
	acquired  int64
}

// PoolStats describes one registered pool.
type PoolStats struct {
	Key             string        `json:"key"`
	Refs            int           `json:"refs"`
	TotalAcquired   int64         `json:"total_acquired"`
	Age             time.Duration `json:"age"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
}

// NewPoolRegistry creates an empty registry.
func NewPoolRegistry(l *zap.Logger) *PoolRegistry {
	return &PoolRegistry{
		logger: logger.OrGlobal(l).With(zap.String("component", "pool_registry")),
		pools:  make(map[string]*pooledDB),
	}
}

// PoolKey hashes the normalized store configuration. Configurations that
// differ only in letter case of the dialect or host, or in param order,
// share a key.
func PoolKey(cfg config.StoreConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%s|%s|%s|%s|%s",
		strings.ToLower(cfg.Dialect),
		strings.ToLower(cfg.Host),
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		strings.ToLower(cfg.Charset),
		strings.ToLower(cfg.Collate))

	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, cfg.Params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Acquire returns the pool registered under key, creating it with open when
// absent. open runs outside the registry lock; concurrent callers for the
// same key wait for its result. Each successful Acquire must be paired with
// Release.
func (r *PoolRegistry) Acquire(key string, open func() (*sql.DB, error)) (*sql.DB, error) {
	r.mu.Lock()
	if p, ok := r.pools[key]; ok {
		p.refs++
		p.acquired++
		refs := p.refs
		r.mu.Unlock()

		<-p.ready
		if p.err != nil {
			return nil, p.err
		}
		r.logger.Debug("reusing pool",
			zap.String("key", short(key)),
			zap.Int("refs", refs))
		return p.db, nil
	}

	p := &pooledDB{ready: make(chan struct{}), refs: 1, acquired: 1, createdAt: time.Now()}
	r.pools[key] = p
	r.mu.Unlock()

	db, err := open()

	r.mu.Lock()
	p.db, p.err = db, err
	if err != nil {
		delete(r.pools, key)
	}
	r.mu.Unlock()
	close(p.ready)

	if err != nil {
		return nil, err
	}
	r.logger.Debug("created pool", zap.String("key", short(key)))
	return db, nil
}

// Release drops one reference to the pool under key and closes it when none
// remain.
func (r *PoolRegistry) Release(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[key]
	if !ok {
		return sinkerrors.New(sinkerrors.ErrorTypeInternal, "release of unknown pool").
			WithDetail("key", short(key))
	}
	p.refs--
	if p.refs > 0 {
		return nil
	}

	delete(r.pools, key)
	r.logger.Debug("closing pool",
		zap.String("key", short(key)),
		zap.Duration("age", time.Since(p.createdAt)))
	return p.db.Close()
}

// Stats returns a snapshot of every registered pool.
func (r *PoolRegistry) Stats() []PoolStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PoolStats, 0, len(r.pools))
	for key, p := range r.pools {
		if p.db == nil {
			continue
		}
		s := p.db.Stats()
		out = append(out, PoolStats{
			Key:             key,
			Refs:            p.refs,
			TotalAcquired:   p.acquired,
			Age:             time.Since(p.createdAt),
			OpenConnections: s.OpenConnections,
			InUse:           s.InUse,
			Idle:            s.Idle,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of registered pools.
func (r *PoolRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
