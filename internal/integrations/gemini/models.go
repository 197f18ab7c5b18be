package gemini

import (
	"sync"
	"time"
)

// preferredModels is the fixed preference table, fastest and cheapest
// first. Discovered models missing from it rank after, in discovery order,
// so nothing discovered is ever silently excluded.
var preferredModels = []string{
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
	"gemini-1.5-flash",
	"gemini-1.5-flash-8b",
	"gemini-1.5-pro",
	"gemini-pro",
}

// ModelCache is the process-local model catalog and sticky pin. It is
// constructed once at startup and injected into the client rather than
// living in package globals. First-populate races are benign: either
// writer's discovery result is acceptable and the last write wins.
type ModelCache struct {
	mu           sync.RWMutex
	models       []string
	discoveredAt time.Time
	pinned       string
}

// NewModelCache creates an empty cache.
func NewModelCache() *ModelCache {
	return &ModelCache{}
}

// Discovered returns the cached catalog, and whether discovery has run.
func (c *ModelCache) Discovered() ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.discoveredAt.IsZero() {
		return nil, false
	}
	out := make([]string, len(c.models))
	copy(out, c.models)
	return out, true
}

// SetDiscovered stores a discovery result for the process lifetime.
func (c *ModelCache) SetDiscovered(models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = make([]string, len(models))
	copy(c.models, models)
	c.discoveredAt = time.Now()
}

// Pin records the first model that completed successfully; subsequent calls
// try it first.
func (c *ModelCache) Pin(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = model
}

// Pinned returns the sticky model, or "" when none is pinned.
func (c *ModelCache) Pinned() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pinned
}

// Unpin clears the pin only if it still points at model, so a concurrent
// successful call's fresher pin is not discarded.
func (c *ModelCache) Unpin(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned == model {
		c.pinned = ""
	}
}

// rankModels orders discovered models by the preference table, appending
// discovered-but-unlisted models at the end in discovery order.
func rankModels(discovered []string) []string {
	available := make(map[string]bool, len(discovered))
	for _, m := range discovered {
		available[m] = true
	}

	ranked := make([]string, 0, len(discovered))
	seen := make(map[string]bool, len(discovered))
	for _, m := range preferredModels {
		if available[m] && !seen[m] {
			ranked = append(ranked, m)
			seen[m] = true
		}
	}
	for _, m := range discovered {
		if !seen[m] {
			ranked = append(ranked, m)
			seen[m] = true
		}
	}
	return ranked
}
