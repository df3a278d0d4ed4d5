package service

import (
	"sync"
	"time"

	"github.com/coachdesk/coachd/internal/llm"
)

// EphemeralSession is a snapshot of one in-memory conversation. History
// is the bot transcript in arrival order, capped at the cache's history
// limit with the oldest entries dropped first.
type EphemeralSession struct {
	History []llm.Message
	Stage   string
	UILang  *string
}

type ephemeralEntry struct {
	session   EphemeralSession
	updatedAt time.Time
}

// EphemeralCache keeps transient conversation state for bots that are
// never persisted. Entries expire after the TTL since last touch and
// the oldest entry is evicted under capacity pressure.
type EphemeralCache struct {
	mu         sync.RWMutex
	entries    map[string]*ephemeralEntry
	ttl        time.Duration
	maxHistory int
	maxEntries int
	now        func() time.Time
}

func NewEphemeralCache(ttl time.Duration, maxHistory, maxEntries int) *EphemeralCache {
	return &EphemeralCache{
		entries:    make(map[string]*ephemeralEntry),
		ttl:        ttl,
		maxHistory: maxHistory,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// EphemeralKey identifies one session per bot and caller. Anonymous
// callers share a placeholder identity.
func EphemeralKey(botID, email string) string {
	if email == "" {
		email = "anonymous"
	}
	return botID + ":" + email
}

func (c *EphemeralCache) expired(e *ephemeralEntry) bool {
	return c.now().Sub(e.updatedAt) > c.ttl
}

// Get returns a copy of the live session for the key. An expired entry
// reads as absent so the next turn starts fresh.
func (c *EphemeralCache) Get(key string) (EphemeralSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		return EphemeralSession{}, false
	}
	return snapshot(e.session), true
}

func snapshot(s EphemeralSession) EphemeralSession {
	out := s
	out.History = append([]llm.Message(nil), s.History...)
	return out
}

// Commit records one completed turn: both messages appended, stage and
// language replaced wholesale (last writer wins), the entry's TTL
// refreshed. A missing or expired entry is created fresh.
func (c *EphemeralCache) Commit(key, userMessage, assistantReply, stage string, uiLang *string) EphemeralSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expired(e) {
		e = &ephemeralEntry{}
		c.entries[key] = e
	}

	e.session.History = append(e.session.History,
		llm.Message{Role: llm.RoleUser, Content: userMessage},
		llm.Message{Role: llm.RoleAssistant, Content: assistantReply},
	)
	if over := len(e.session.History) - c.maxHistory; over > 0 {
		e.session.History = append([]llm.Message(nil), e.session.History[over:]...)
	}
	e.session.Stage = stage
	e.session.UILang = uiLang
	e.updatedAt = c.now()

	c.evictLocked(key)
	return snapshot(e.session)
}

// evictLocked drops expired entries, then the stalest live ones until
// the cache fits its capacity. keep is never evicted.
func (c *EphemeralCache) evictLocked(keep string) {
	for k, e := range c.entries {
		if k != keep && c.expired(e) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if k == keep {
				continue
			}
			if oldestKey == "" || e.updatedAt.Before(oldest) {
				oldestKey = k
				oldest = e.updatedAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

// Len reports live (unexpired) entries.
func (c *EphemeralCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if !c.expired(e) {
			n++
		}
	}
	return n
}
