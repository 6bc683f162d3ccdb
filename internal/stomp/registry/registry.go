// Package registry indexes subscriptions of all sessions by destination pattern.
package registry

import (
	"slices"
	"strings"
	"sync"

	"github.com/fujin-io/stompbridge/public/stomp/destination"
)

// Entry is one subscription of one session.
type Entry struct {
	SessionID string
	SubID     string
}

type Registry struct {
	mu        sync.RWMutex
	byPattern map[string]map[Entry]struct{}
	bySession map[string]map[string]string // session id -> sub id -> pattern
}

func New() *Registry {
	return &Registry{
		byPattern: make(map[string]map[Entry]struct{}),
		bySession: make(map[string]map[string]string),
	}
}

// Add records a subscription. It returns false if the session already has
// a subscription with the same id.
func (r *Registry) Add(sessionID, subID, pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.bySession[sessionID]
	if !ok {
		subs = make(map[string]string)
		r.bySession[sessionID] = subs
	}
	if _, ok := subs[subID]; ok {
		return false
	}
	subs[subID] = pattern

	entries, ok := r.byPattern[pattern]
	if !ok {
		entries = make(map[Entry]struct{})
		r.byPattern[pattern] = entries
	}
	entries[Entry{SessionID: sessionID, SubID: subID}] = struct{}{}
	return true
}

func (r *Registry) Remove(sessionID, subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	pattern, ok := subs[subID]
	if !ok {
		return false
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(r.bySession, sessionID)
	}
	r.unindex(pattern, Entry{SessionID: sessionID, SubID: subID})
	return true
}

// RemoveSession drops every subscription of the session and returns how
// many there were.
func (r *Registry) RemoveSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.bySession[sessionID]
	for subID, pattern := range subs {
		r.unindex(pattern, Entry{SessionID: sessionID, SubID: subID})
	}
	delete(r.bySession, sessionID)
	return len(subs)
}

func (r *Registry) unindex(pattern string, e Entry) {
	entries := r.byPattern[pattern]
	delete(entries, e)
	if len(entries) == 0 {
		delete(r.byPattern, pattern)
	}
}

// Match returns the subscriptions whose pattern matches the concrete
// destination, ordered by session and subscription id.
func (r *Registry) Match(dest string) []Entry {
	r.mu.RLock()
	var out []Entry
	for pattern, entries := range r.byPattern {
		if !destination.Match(pattern, dest) {
			continue
		}
		for e := range entries {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := strings.Compare(a.SessionID, b.SessionID); c != 0 {
			return c
		}
		return strings.Compare(a.SubID, b.SubID)
	})
	return out
}

// Count returns the total number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, subs := range r.bySession {
		n += len(subs)
	}
	return n
}
