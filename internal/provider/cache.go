package provider

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
)

// Cached serves repeated identical generations from an in-process cache.
// Keys hash the backend name, options and prompt.
type Cached struct {
	inner Provider
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

// NewCached wraps inner with a ristretto cache. maxCostBytes bounds the total
// size of cached generations.
func NewCached(inner Provider, maxCostBytes int64, ttl time.Duration) (*Cached, error) {
	if maxCostBytes < 1<<10 {
		maxCostBytes = 1 << 10
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        max(maxCostBytes/100*10, 1000),
		MaxCost:            maxCostBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create generation cache: %w", err)
	}
	return &Cached{inner: inner, cache: c, ttl: ttl}, nil
}

// Name implements Provider.
func (c *Cached) Name() string { return c.inner.Name() }

// Available implements Provider.
func (c *Cached) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Generate returns a cached generation when one exists, otherwise calls the
// wrapped provider and caches a successful result.
func (c *Cached) Generate(ctx context.Context, prompt string, opts Options) (*Generation, error) {
	key := c.key(prompt, opts)

	if data, ok := c.cache.Get(key); ok {
		var g Generation
		if err := json.Unmarshal(data, &g); err == nil {
			g.Cached = true
			g.Latency = 0
			return &g, nil
		}
		c.cache.Del(key)
	}

	g, err := c.inner.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(g); err == nil {
		c.cache.SetWithTTL(key, data, int64(len(data)), c.ttl)
		c.cache.Wait()
	}
	return g, nil
}

// Close releases cache resources.
func (c *Cached) Close() {
	c.cache.Close()
}

func (c *Cached) key(prompt string, opts Options) string {
	d := xxhash.New()
	_, _ = d.WriteString(c.inner.Name())
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(opts.System)
	_, _ = d.Write([]byte{0})

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(opts.MaxTokens))
	_, _ = d.Write(buf[:])
	temp := math.NaN()
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(temp))
	_, _ = d.Write(buf[:])

	_, _ = d.WriteString(prompt)
	return strconv.FormatUint(d.Sum64(), 16)
}
