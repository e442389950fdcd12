// Package snapshot persists resolved pages: one mutable Snapshot per URL
// hash, overwritten in place, plus an append-only version history. The
// Service in front of the store deduplicates concurrent regenerations and
// degrades failed revalidations to the last good copy.
package snapshot

import "time"

// Triggers record why a version was created.
const (
	TriggerInitial    = "initial"    // first resolve of this URL
	TriggerRevalidate = "revalidate" // explicit refresh request
	TriggerRedo       = "redo"       // forced re-extraction of a bad copy
)

// ValidTrigger reports whether t is a known trigger value.
func ValidTrigger(t string) bool {
	switch t {
	case TriggerInitial, TriggerRevalidate, TriggerRedo:
		return true
	}
	return false
}

// Snapshot is the current markdown copy of one URL. Exactly one row exists
// per URL hash; every overwrite pairs with one new Version row.
type Snapshot struct {
	URLHash       string    `json:"urlHash"`
	NormalizedURL string    `json:"normalizedUrl"`
	DisplayURL    string    `json:"displayUrl"`
	Title         string    `json:"title"`
	Markdown      string    `json:"markdown"`
	MarkdownHash  string    `json:"markdownHash"`
	SourceEngine  string    `json:"sourceEngine"`
	TokenEstimate int64     `json:"tokenEstimate"`
	LastError     string    `json:"lastError,omitempty"`
	Version       int64     `json:"version"`
	FetchedAt     time.Time `json:"fetchedAt"`
	// StaleAt is advisory metadata for clients. The server never acts on
	// it: refresh happens only on explicit revalidate calls.
	StaleAt time.Time `json:"staleAt"`
}

// Version is one immutable history entry. Rows are never updated or
// deleted.
type Version struct {
	ID            string    `json:"id"`
	URLHash       string    `json:"urlHash"`
	Version       int64     `json:"version"`
	NormalizedURL string    `json:"normalizedUrl"`
	Markdown      string    `json:"markdown,omitempty"`
	MarkdownHash  string    `json:"markdownHash"`
	SourceEngine  string    `json:"sourceEngine"`
	Trigger       string    `json:"trigger"`
	CreatedAt     time.Time `json:"createdAt"`
}
