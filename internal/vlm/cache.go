package vlm

// cache.go reuses a stage's system prompt and few-shot exemplar turns across
// every item of a run through Gemini context caching. The exemplar prefix is
// identical for all items of a stage, so one cache per (run, stage) is enough.

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultCacheTTL is the time-to-live for cached exemplar prefixes.
const DefaultCacheTTL = 1 * time.Hour

// CacheManager tracks Gemini cached content entries keyed by
// "<runID>:<cacheKey>". It is safe for concurrent use.
type CacheManager struct {
	client *genai.Client
	runID  string
	ttl    time.Duration

	mu     sync.Mutex
	caches map[string]*genai.CachedContent
	// failed remembers keys whose creation failed so each stage only tries once.
	failed map[string]bool
}

// NewCacheManager creates a CacheManager scoped to one run. A zero ttl uses
// DefaultCacheTTL.
func NewCacheManager(client *genai.Client, runID string, ttl time.Duration) *CacheManager {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &CacheManager{
		client: client,
		runID:  runID,
		ttl:    ttl,
		caches: make(map[string]*genai.CachedContent),
		failed: make(map[string]bool),
	}
}

func (cm *CacheManager) key(cacheKey string) string {
	return cm.runID + ":" + cacheKey
}

// GetOrCreate returns the cache name for cacheKey, creating the cache on first
// use. It returns "" when caching is unavailable; the caller then sends the
// prefix inline.
func (cm *CacheManager) GetOrCreate(
	ctx context.Context,
	cacheKey string,
	modelName string,
	systemInstruction *genai.Content,
	contents []*genai.Content,
) string {
	key := cm.key(cacheKey)

	cm.mu.Lock()
	if cached, ok := cm.caches[key]; ok {
		cm.mu.Unlock()
		return cached.Name
	}
	if cm.failed[key] {
		cm.mu.Unlock()
		return ""
	}
	cm.mu.Unlock()

	log.Info().
		Str("cache_key", key).
		Str("model", modelName).
		Dur("ttl", cm.ttl).
		Int("turns", len(contents)).
		Msg("Creating Gemini context cache")

	createStart := time.Now()
	cached, err := cm.client.Caches.Create(ctx, modelName, &genai.CreateCachedContentConfig{
		SystemInstruction: systemInstruction,
		Contents:          contents,
		TTL:               cm.ttl,
		DisplayName:       key,
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("cache_key", key).
			Dur("duration", time.Since(createStart)).
			Msg("Failed to create Gemini context cache, sending exemplars inline")
		cm.mu.Lock()
		cm.failed[key] = true
		cm.mu.Unlock()
		return ""
	}

	log.Info().
		Str("cache_key", key).
		Str("cache_name", cached.Name).
		Dur("duration", time.Since(createStart)).
		Msg("Gemini context cache created")

	cm.mu.Lock()
	defer cm.mu.Unlock()
	// Another worker may have won the race; keep the first entry.
	if existing, ok := cm.caches[key]; ok {
		go cm.deleteRemote(context.WithoutCancel(ctx), key, cached.Name)
		return existing.Name
	}
	cm.caches[key] = cached
	return cached.Name
}

// DeleteAll removes every cache created for the run.
func (cm *CacheManager) DeleteAll(ctx context.Context) {
	prefix := cm.runID + ":"
	cm.mu.Lock()
	type entry struct{ key, name string }
	var toDelete []entry
	for k, v := range cm.caches {
		if strings.HasPrefix(k, prefix) {
			toDelete = append(toDelete, entry{k, v.Name})
			delete(cm.caches, k)
		}
	}
	cm.mu.Unlock()

	for _, e := range toDelete {
		cm.deleteRemote(ctx, e.key, e.name)
	}
}

func (cm *CacheManager) deleteRemote(ctx context.Context, key, name string) {
	if _, err := cm.client.Caches.Delete(ctx, name, nil); err != nil {
		log.Warn().Err(err).Str("cache_key", key).Str("cache_name", name).Msg("Failed to delete Gemini context cache")
		return
	}
	log.Debug().Str("cache_key", key).Str("cache_name", name).Msg("Gemini context cache deleted")
}
