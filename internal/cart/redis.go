package cart

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"matchapos/backend/internal/domain"
)

// addScript increments one field unless that would take it past the line
// limit, in which case it returns -1 and writes nothing.
var addScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if current + tonumber(ARGV[2]) > tonumber(ARGV[3]) then
	return -1
end
local qty = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return qty
`)

// removeOneScript decrements one field, deletes it at zero and refreshes
// the key's TTL, atomically.
var removeOneScript = redis.NewScript(`
local left = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if left <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
if tonumber(ARGV[2]) > 0 and redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return left
`)

// RedisProvider keeps each cart in a hash of variant id to quantity.
type RedisProvider struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProvider(addr string, password string, db int, ttl time.Duration) *RedisProvider {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProvider{client: client, ttl: ttl}
}

func (p *RedisProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisProvider) Close() error {
	return p.client.Close()
}

func (p *RedisProvider) Get(ctx context.Context, key Key) (domain.Cart, error) {
	raw, err := p.client.HGetAll(ctx, key.String()).Result()
	if err != nil {
		return nil, err
	}
	return decodeCart(raw)
}

func (p *RedisProvider) Set(ctx context.Context, key Key, c domain.Cart) error {
	c = c.Normalize()
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key.String())
		if len(c) == 0 {
			return nil
		}
		fields := make(map[string]any, len(c))
		for id, qty := range c {
			fields[id] = qty
		}
		pipe.HSet(ctx, key.String(), fields)
		if p.ttl > 0 {
			pipe.Expire(ctx, key.String(), p.ttl)
		}
		return nil
	})
	return err
}

func (p *RedisProvider) Add(ctx context.Context, key Key, variantID string, qty int) (domain.Cart, error) {
	if qty < 1 || variantID == "" {
		return nil, ErrInvalidQty
	}
	qtyAfter, err := addScript.Run(ctx, p.client, []string{key.String()},
		variantID, qty, domain.MaxLineQty, p.ttl.Milliseconds()).Int64()
	if err != nil {
		return nil, err
	}
	if qtyAfter < 0 {
		return nil, ErrLineLimit
	}
	return p.Get(ctx, key)
}

func (p *RedisProvider) RemoveOne(ctx context.Context, key Key, variantID string) (domain.Cart, error) {
	err := removeOneScript.Run(ctx, p.client, []string{key.String()}, variantID, p.ttl.Milliseconds()).Err()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return p.Get(ctx, key)
}

func (p *RedisProvider) Clear(ctx context.Context, key Key) error {
	return p.client.Del(ctx, key.String()).Err()
}

func decodeCart(raw map[string]string) (domain.Cart, error) {
	c := make(domain.Cart, len(raw))
	for id, val := range raw {
		qty, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("cart field %s: %w", id, err)
		}
		if qty > 0 {
			c[id] = qty
		}
	}
	return c, nil
}
