package engine

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// branchCacheCapacity bounds the number of cached working directories.
// Eviction is FIFO: monitoring a fleet rarely exceeds a few dozen checkouts,
// so recency bookkeeping is not worth the extra state.
const branchCacheCapacity = 50

// branchCacheTTL expires entries regardless of eviction pressure, so a
// checkout that switches branches shows up within seconds.
const branchCacheTTL = 15 * time.Second

type branchEntry struct {
	branch   string
	storedAt time.Time
}

// branchCache memoizes working-dir → branch lookups. Owned by the engine
// instance, never process-global, so tests can run engines side by side.
type branchCache struct {
	mu      sync.Mutex
	entries map[string]branchEntry
	order   []string
	now     func() time.Time
}

func newBranchCache() *branchCache {
	return &branchCache{
		entries: make(map[string]branchEntry, branchCacheCapacity),
		now:     time.Now,
	}
}

func (c *branchCache) get(dir string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[dir]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.storedAt) > branchCacheTTL {
		delete(c.entries, dir)
		return "", false
	}
	return e.branch, true
}

func (c *branchCache) put(dir, branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[dir]; !exists {
		c.order = append(c.order, dir)
		if len(c.order) > branchCacheCapacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[dir] = branchEntry{branch: branch, storedAt: c.now()}
}

// resolveBranch returns the branch for a working dir, preferring the value
// the event itself carried, then the cache, then a direct .git/HEAD read.
func (c *branchCache) resolveBranch(dir, fromPayload string) string {
	if fromPayload != "" {
		if dir != "" {
			c.put(dir, fromPayload)
		}
		return fromPayload
	}
	if dir == "" {
		return ""
	}
	if b, ok := c.get(dir); ok {
		return b
	}
	b := readGitHead(dir)
	c.put(dir, b)
	return b
}

// readGitHead reads the checked-out branch from .git/HEAD without spawning
// a git process. Detached HEADs and non-repos yield "".
func readGitHead(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	const prefix = "ref: refs/heads/"
	if strings.HasPrefix(line, prefix) {
		return strings.TrimPrefix(line, prefix)
	}
	return ""
}
