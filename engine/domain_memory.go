package engine

import (
	"sync"
	"time"
)

// domainEntry stores the preferred engine for a domain with a TTL.
type domainEntry struct {
	engineName string
	expiresAt  time.Time
}

// DomainMemory remembers which engine won the last race for each domain,
// so later pages of the same directory skip straight to it. A nil
// *DomainMemory remembers nothing.
type DomainMemory struct {
	mu        sync.Mutex
	entries   map[string]domainEntry
	ttl       time.Duration
	lastPrune time.Time
}

// NewDomainMemory creates a DomainMemory whose entries live for ttl.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	return &DomainMemory{
		entries:   make(map[string]domainEntry),
		ttl:       ttl,
		lastPrune: time.Now(),
	}
}

// Get returns the remembered engine name for a domain, or "" if not found / expired.
func (dm *DomainMemory) Get(domain string) string {
	if dm == nil {
		return ""
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	entry, ok := dm.entries[domain]
	if !ok {
		return ""
	}
	if time.Now().After(entry.expiresAt) {
		delete(dm.entries, domain)
		return ""
	}
	return entry.engineName
}

// Set records which engine succeeded for a domain. Expired entries are
// pruned at most once per TTL.
func (dm *DomainMemory) Set(domain, engineName string) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	now := time.Now()
	if now.Sub(dm.lastPrune) >= dm.ttl {
		for d, e := range dm.entries {
			if now.After(e.expiresAt) {
				delete(dm.entries, d)
			}
		}
		dm.lastPrune = now
	}
	dm.entries[domain] = domainEntry{engineName: engineName, expiresAt: now.Add(dm.ttl)}
}

// Delete removes the memory for a domain (e.g. after the remembered engine fails).
func (dm *DomainMemory) Delete(domain string) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	delete(dm.entries, domain)
	dm.mu.Unlock()
}

// Len reports the number of remembered domains, expired ones included.
func (dm *DomainMemory) Len() int {
	if dm == nil {
		return 0
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.entries)
}
