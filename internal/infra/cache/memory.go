package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristrettostore "github.com/eko/gocache/store/ristretto/v4"

	"minitwitter/internal/domain"
)

// MemoryCache хранит снимок ленты в памяти процесса. Подходит для одного инстанса API.
type MemoryCache struct {
	client  *ristretto.Cache
	manager *cache.Cache[[]byte]
	key     string
}

var _ domain.FeedCache = (*MemoryCache)(nil)

// NewMemory создаёт in-process кэш на базе ristretto.
func NewMemory(key string) (*MemoryCache, error) {
	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{
		client:  client,
		manager: cache.New[[]byte](ristrettostore.NewRistretto(client)),
		key:     key,
	}, nil
}

// Get возвращает снимок. Ristretto сам не отдаёт записи с истёкшим TTL.
func (c *MemoryCache) Get(ctx context.Context) ([]byte, error) {
	data, err := c.manager.Get(ctx, c.key)
	if err != nil || data == nil {
		return nil, domain.ErrCacheMiss
	}
	return data, nil
}

// Set сохраняет снимок и дожидается применения записи.
func (c *MemoryCache) Set(ctx context.Context, snapshot []byte, ttl time.Duration) error {
	err := c.manager.Set(ctx, c.key, snapshot, store.WithExpiration(ttl), store.WithCost(int64(len(snapshot))))
	c.client.Wait()
	return err
}

// Delete удаляет снимок.
func (c *MemoryCache) Delete(ctx context.Context) error {
	err := c.manager.Delete(ctx, c.key)
	c.client.Wait()
	return err
}

// Close освобождает ресурсы ristretto.
func (c *MemoryCache) Close() {
	c.client.Close()
}
