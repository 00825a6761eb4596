package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Probe holds decoder-reported stream facts for one video.
type Probe struct {
	TotalFrames int     `json:"total_frames"`
	FPS         float64 `json:"fps"`
}

// ProbeCache remembers probes keyed by media ID (path + size + mtime hash),
// so counting packets on variable-frame-rate files happens once per file version.
type ProbeCache interface {
	Get(ctx context.Context, mediaID string) (Probe, bool)
	Set(ctx context.Context, mediaID string, p Probe)
}

// MemoryProbeCache is a process-local ProbeCache.
type MemoryProbeCache struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

func NewMemoryProbeCache() *MemoryProbeCache {
	return &MemoryProbeCache{probes: make(map[string]Probe)}
}

func (c *MemoryProbeCache) Get(_ context.Context, mediaID string) (Probe, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.probes[mediaID]
	return p, ok
}

func (c *MemoryProbeCache) Set(_ context.Context, mediaID string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[mediaID] = p
}

const probeTTL = 7 * 24 * time.Hour

// RedisProbeCache shares probes between mirage processes.
// Redis failures degrade to cache misses.
type RedisProbeCache struct {
	client *redis.Client
}

// NewRedisProbeCache connects to addr and verifies the connection.
func NewRedisProbeCache(ctx context.Context, addr, password string, db int) (*RedisProbeCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisProbeCache{client: client}, nil
}

func (c *RedisProbeCache) Close() error {
	return c.client.Close()
}

func probeKey(mediaID string) string {
	return fmt.Sprintf("probe:%s", mediaID)
}

func (c *RedisProbeCache) Get(ctx context.Context, mediaID string) (Probe, bool) {
	data, err := c.client.Get(ctx, probeKey(mediaID)).Bytes()
	if err != nil {
		return Probe{}, false
	}
	var p Probe
	if err := json.Unmarshal(data, &p); err != nil {
		return Probe{}, false
	}
	return p, true
}

func (c *RedisProbeCache) Set(ctx context.Context, mediaID string, p Probe) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	c.client.Set(ctx, probeKey(mediaID), data, probeTTL)
}
