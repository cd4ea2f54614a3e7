// Package identity keeps the stable per-profile player identifier. The id is
// independent of the display name and survives restarts for as long as its
// backing store does.
package identity

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageKey is the single key the client persists.
const StorageKey = "playerId"

// Store is a minimal key/value store, the moral equivalent of browser local
// storage.
type Store interface {
	Load(ctx context.Context, key string) (value string, ok bool, err error)
	Save(ctx context.Context, key, value string) error
}

type Provider struct {
	store Store
	log   *zap.Logger
	gen   func() (uuid.UUID, error)
	now   func() time.Time

	mu       sync.Mutex
	volatile string // in-memory id used once the store has failed
}

type Option func(*Provider)

func WithLogger(l *zap.Logger) Option { return func(p *Provider) { p.log = l } }

// WithGenerator replaces the UUID source, mostly so tests can force the
// fallback scheme.
func WithGenerator(gen func() (uuid.UUID, error)) Option {
	return func(p *Provider) { p.gen = gen }
}

func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

func NewProvider(store Store, opts ...Option) *Provider {
	p := &Provider{
		store: store,
		log:   zap.NewNop(),
		gen:   uuid.NewRandom,
		now:   time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// GetOrCreatePlayerID returns the stored id, generating and persisting one on
// first use. Storage errors are logged and answered with an id that lives only
// as long as this Provider.
func (p *Provider) GetOrCreatePlayerID(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.volatile != "" {
		return p.volatile
	}

	id, ok, err := p.store.Load(ctx, StorageKey)
	if err != nil {
		p.volatile = p.newID()
		p.log.Warn("player id storage unreadable, using volatile id", zap.Error(err))
		return p.volatile
	}
	if ok && id != "" {
		return id
	}

	id = p.newID()
	if err := p.store.Save(ctx, StorageKey, id); err != nil {
		p.volatile = id
		p.log.Warn("player id not persisted, using volatile id", zap.Error(err))
		return id
	}
	p.log.Info("created player id", zap.String("player_id", id))
	return id
}

func (p *Provider) newID() string {
	u, err := p.gen()
	if err == nil {
		return u.String()
	}
	p.log.Debug("uuid unavailable, using fallback id", zap.Error(err))
	return FallbackID(p.now())
}

// FallbackID builds "player_<unix millis>_<base36 suffix>".
func FallbackID(now time.Time) string {
	suffix := strconv.FormatUint(rand.Uint64(), 36)
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	return fmt.Sprintf("player_%d_%s", now.UnixMilli(), suffix)
}

// MemoryStore is a Store that forgets everything on exit.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Clear drops every key.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
}
