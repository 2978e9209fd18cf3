// Package memory implements the FTS5-indexed Memory Store (C3): a
// single sqlite database holding both long-term and short-term items,
// searchable by full text, tag, type, and time range, with soft-delete
// and TTL-based expiry. Rewritten from the teacher's vector/embedding
// oriented internal/memory (sqlite-vec/pgvector/lancedb backends) since
// the spec calls for lexical search, not similarity search — the
// schema and query logic here are new, grounded on
// original_source/crates/tools/src/memory.rs for field names and
// guardrail semantics, while the backend.Backend interface shape
// (Upsert/Query/Delete-ish verbs, context-first, one struct per op) and
// the modernc.org/sqlite driver dependency are kept from the teacher.
package memory

import "time"

// Scope distinguishes durable memory from session-lifetime notes.
type Scope string

const (
	ScopeLongTerm  Scope = "long_term"
	ScopeShortTerm Scope = "short_term"
)

// ItemType classifies a memory item's content.
type ItemType string

const (
	TypeFact       ItemType = "fact"
	TypePreference ItemType = "preference"
	TypeProject    ItemType = "project"
	TypeTask       ItemType = "task"
	TypeGlossary   ItemType = "glossary"
	TypeContact    ItemType = "contact"
	TypeSnippet    ItemType = "snippet"
	TypePolicy     ItemType = "policy"
	TypeSummary    ItemType = "summary"
	TypeNote       ItemType = "note"
)

// Item is one stored memory row.
type Item struct {
	ID         string
	Scope      Scope
	Type       ItemType
	Title      string
	Content    string
	Summary    string
	Tags       []string
	Source     string
	Channel    string
	SessionKey string
	Importance float64
	DedupKey   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
	DeletedAt  *time.Time
}

// IsDeleted reports whether the item is soft-deleted.
func (i *Item) IsDeleted() bool { return i.DeletedAt != nil }

// UpsertParams describes a memory_upsert call. When DedupKey is set and
// an existing item shares the same (Scope, DedupKey), that item is
// updated in place instead of a new row being inserted.
type UpsertParams struct {
	Scope      Scope
	Type       ItemType
	Title      string
	Content    string
	Summary    string
	Tags       []string
	Source     string
	Channel    string
	SessionKey string
	Importance float64
	DedupKey   string
	ExpiresAt  *time.Time
}

// QueryParams describes a memory_query call.
type QueryParams struct {
	Query          string
	Scope          Scope // empty searches all scopes
	Type           ItemType
	Tags           []string // any-match
	TimeRangeDays  int      // only items created within the last N days; 0 = no filter
	TopK           int
	IncludeDeleted bool
}

// BatchDeleteParams describes a memory_forget batch_delete call.
type BatchDeleteParams struct {
	Scope      Scope
	Type       ItemType
	Tags       []string
	BeforeDays int
}

// Stats summarizes the store's contents.
type Stats struct {
	TotalItems     int
	LongTermItems  int
	ShortTermItems int
	DeletedItems   int
	ExpiringSoon   int // expires within 24h, not yet deleted
}

// RankWeights combine FTS relevance, importance, and recency into a
// single ordering. See DESIGN.md Open Question (c): fixed tunable
// defaults, not learned.
type RankWeights struct {
	FTS        float64
	Importance float64
	Recency    float64
}

// DefaultRankWeights matches internal/config's default.
var DefaultRankWeights = RankWeights{FTS: 0.5, Importance: 0.3, Recency: 0.2}
