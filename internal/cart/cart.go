// Package cart stores per-session carts. POS and storefront carts live
// under different keys so the same session id never shares a cart across
// channels.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"matchapos/backend/internal/domain"
)

var (
	ErrInvalidQty = errors.New("quantity must be positive")
	ErrLineLimit  = fmt.Errorf("cart line cannot exceed %d", domain.MaxLineQty)
)

type Key struct {
	Channel   domain.Channel
	SessionID string
}

func (k Key) String() string {
	return "cart:" + string(k.Channel) + ":" + k.SessionID
}

type Provider interface {
	Get(ctx context.Context, key Key) (domain.Cart, error)
	Set(ctx context.Context, key Key, cart domain.Cart) error
	// Add returns ErrLineLimit, leaving the cart unchanged, when the line
	// would grow past domain.MaxLineQty.
	Add(ctx context.Context, key Key, variantID string, qty int) (domain.Cart, error)
	// RemoveOne decrements a line and drops it when it reaches zero.
	RemoveOne(ctx context.Context, key Key, variantID string) (domain.Cart, error)
	Clear(ctx context.Context, key Key) error
}

type memoryEntry struct {
	cart      domain.Cart
	expiresAt time.Time
}

// MemoryProvider keeps carts in process. Entries expire after ttl of
// inactivity; a zero ttl keeps them forever.
type MemoryProvider struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryProvider(ttl time.Duration) *MemoryProvider {
	return &MemoryProvider{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (p *MemoryProvider) load(key Key) domain.Cart {
	entry, ok := p.entries[key.String()]
	if !ok {
		return domain.Cart{}
	}
	if p.ttl > 0 && p.now().After(entry.expiresAt) {
		delete(p.entries, key.String())
		return domain.Cart{}
	}
	return entry.cart
}

func (p *MemoryProvider) store(key Key, c domain.Cart) {
	if len(c) == 0 {
		delete(p.entries, key.String())
		return
	}
	p.entries[key.String()] = memoryEntry{cart: c, expiresAt: p.now().Add(p.ttl)}
}

func (p *MemoryProvider) Get(_ context.Context, key Key) (domain.Cart, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(key).Clone(), nil
}

func (p *MemoryProvider) Set(_ context.Context, key Key, c domain.Cart) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store(key, c.Normalize())
	return nil
}

func (p *MemoryProvider) Add(_ context.Context, key Key, variantID string, qty int) (domain.Cart, error) {
	if qty < 1 || variantID == "" {
		return nil, ErrInvalidQty
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.load(key).Clone()
	if qty > domain.MaxLineQty-c[variantID] {
		return nil, ErrLineLimit
	}
	c[variantID] += qty
	p.store(key, c)
	return c.Clone(), nil
}

func (p *MemoryProvider) RemoveOne(_ context.Context, key Key, variantID string) (domain.Cart, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.load(key).Clone()
	if qty, ok := c[variantID]; ok {
		if qty <= 1 {
			delete(c, variantID)
		} else {
			c[variantID] = qty - 1
		}
	}
	p.store(key, c)
	return c.Clone(), nil
}

func (p *MemoryProvider) Clear(_ context.Context, key Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key.String())
	return nil
}
