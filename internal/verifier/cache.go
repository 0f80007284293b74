package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/zeebo/blake3"

	"github.com/lattice-labs/bmde-go/internal/platform/env"
	"github.com/lattice-labs/bmde-go/internal/provenance"
)

// Cache remembers verification outcomes. An outcome depends only on the
// design bytes, the envelope bytes and the key, so those form the key.
type Cache interface {
	Get(key []byte) (Outcome, bool, error)
	Put(key []byte, outcome Outcome) error
	Close() error
}

// Outcome is the cacheable result of one verification.
type Outcome struct {
	Reason        Reason              `json:"reason,omitempty"`
	Message       string              `json:"message,omitempty"`
	History       *provenance.History `json:"history,omitempty"`
	InitialDesign string              `json:"initialDesign,omitempty"`
}

type CacheConfig struct {
	// Path is the badger directory. Empty keeps the cache in memory.
	Path string
	TTL  time.Duration
	// Disabled turns caching off entirely.
	Disabled bool
}

func CacheConfigFromEnv() (CacheConfig, error) {
	ttl, err := env.Duration("PROVIDER_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return CacheConfig{}, err
	}
	disabled, err := env.Bool("PROVIDER_CACHE_DISABLED", false)
	if err != nil {
		return CacheConfig{}, err
	}
	cfg := CacheConfig{
		Path:     env.String("PROVIDER_CACHE_PATH", ""),
		TTL:      ttl,
		Disabled: disabled,
	}
	if err := cfg.Validate(); err != nil {
		return CacheConfig{}, err
	}
	return cfg, nil
}

func (c CacheConfig) Validate() error {
	if !c.Disabled && c.TTL <= 0 {
		return errors.New("PROVIDER_CACHE_TTL must be positive")
	}
	return nil
}

type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerCache opens the cache, or returns nil when cfg.Disabled.
func OpenBadgerCache(cfg CacheConfig, logger *slog.Logger) (*BadgerCache, error) {
	if cfg.Disabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerCache{db: db, ttl: cfg.TTL}, nil
}

func (c *BadgerCache) Get(key []byte) (Outcome, bool, error) {
	var out Outcome
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("cache get: %w", err)
	}
	return out, true, nil
}

func (c *BadgerCache) Put(key []byte, outcome Outcome) error {
	val, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, val).WithTTL(c.ttl))
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (c *BadgerCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// cacheKey hashes the operation, the key fingerprint and both file contents.
// Lengths are framed so no two distinct inputs share an encoding.
func cacheKey(operation, fingerprint string, design, sealed []byte) []byte {
	h := blake3.New()
	for _, part := range [][]byte{[]byte(operation), []byte(fingerprint), design, sealed} {
		var n [8]byte
		l := uint64(len(part))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		_, _ = h.Write(n[:])
		_, _ = h.Write(part)
	}
	return h.Sum(nil)
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "cache")
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "cache")
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "cache")
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "cache")
}
