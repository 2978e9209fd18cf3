package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, same dependency the teacher uses for sqlitevec
)

// Store is the FTS5-indexed memory store. One Store owns one sqlite
// database file (or ":memory:" for tests), matching the teacher's
// sqlitevec.Backend connection idiom.
type Store struct {
	db      *sql.DB
	weights RankWeights
}

// Open creates or attaches to the memory database at path and ensures
// its schema exists.
func Open(path string, weights RankWeights) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	if weights == (RankWeights{}) {
		weights = DefaultRankWeights
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite write-serialization, matches the teacher's single-writer backends

	s := &Store{db: db, weights: weights}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_items (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			scope TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			session_key TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0.5,
			dedup_key TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			expires_at DATETIME,
			deleted_at DATETIME
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_dedup
			ON memory_items(scope, dedup_key) WHERE dedup_key IS NOT NULL AND dedup_key != ''`,
		`CREATE INDEX IF NOT EXISTS idx_memory_scope_type ON memory_items(scope, type)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_created ON memory_items(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_expires ON memory_items(expires_at)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			title, content, tags, summary,
			content='memory_items', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memory_items_ai AFTER INSERT ON memory_items BEGIN
			INSERT INTO memory_fts(rowid, title, content, tags, summary)
			VALUES (new.rowid, new.title, new.content, new.tags, new.summary);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_items_ad AFTER DELETE ON memory_items BEGIN
			INSERT INTO memory_fts(memory_fts, rowid, title, content, tags, summary)
			VALUES ('delete', old.rowid, old.title, old.content, old.tags, old.summary);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memory_items_au AFTER UPDATE ON memory_items BEGIN
			INSERT INTO memory_fts(memory_fts, rowid, title, content, tags, summary)
			VALUES ('delete', old.rowid, old.title, old.content, old.tags, old.summary);
			INSERT INTO memory_fts(rowid, title, content, tags, summary)
			VALUES (new.rowid, new.title, new.content, new.tags, new.summary);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("memory schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts a new item, or updates the existing item sharing
// (Scope, DedupKey) when DedupKey is non-empty.
func (s *Store) Upsert(ctx context.Context, p UpsertParams) (*Item, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("memory upsert: content is required")
	}
	if p.Scope == "" {
		p.Scope = ScopeShortTerm
	}
	if p.Type == "" {
		p.Type = TypeNote
	}
	if p.Importance == 0 {
		p.Importance = 0.5
	}

	now := time.Now().UTC()
	tagsCol := strings.Join(p.Tags, ",")

	if p.DedupKey != "" {
		existing, err := s.findByDedupKey(ctx, p.Scope, p.DedupKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			_, err := s.db.ExecContext(ctx, `
				UPDATE memory_items
				SET type=?, title=?, content=?, summary=?, tags=?, source=?, channel=?,
					session_key=?, importance=?, updated_at=?, expires_at=?, deleted_at=NULL
				WHERE id=?
			`, string(p.Type), p.Title, p.Content, p.Summary, tagsCol, p.Source, p.Channel,
				p.SessionKey, p.Importance, now, nullTime(p.ExpiresAt), existing.ID)
			if err != nil {
				return nil, fmt.Errorf("memory upsert (update): %w", err)
			}
			return s.Get(ctx, existing.ID, true)
		}
	}

	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_items
			(id, scope, type, title, content, summary, tags, source, channel, session_key,
			 importance, dedup_key, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, string(p.Scope), string(p.Type), p.Title, p.Content, p.Summary, tagsCol,
		p.Source, p.Channel, p.SessionKey, p.Importance, nullString(p.DedupKey),
		now, now, nullTime(p.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("memory upsert (insert): %w", err)
	}
	return s.Get(ctx, id, true)
}

func (s *Store) findByDedupKey(ctx context.Context, scope Scope, dedupKey string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM memory_items WHERE scope = ? AND dedup_key = ? LIMIT 1
	`, string(scope), dedupKey)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s.Get(ctx, id, true)
}

// Get fetches one item by id.
func (s *Store) Get(ctx context.Context, id string, includeDeleted bool) (*Item, error) {
	query := `SELECT id, scope, type, title, content, summary, tags, source, channel,
		session_key, importance, dedup_key, created_at, updated_at, expires_at, deleted_at
		FROM memory_items WHERE id = ?`
	args := []any{id}
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	row := s.db.QueryRowContext(ctx, query, args...)
	item, err := scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// Query searches items by full text and structured filters, ranked by
// a weighted combination of FTS relevance, importance, and recency.
func (s *Store) Query(ctx context.Context, p QueryParams) ([]*Item, error) {
	if p.TopK <= 0 {
		p.TopK = 20
	}
	if p.TopK > 50 {
		p.TopK = 50
	}

	var (
		fromClause  string
		whereParts  []string
		args        []any
		selectExtra = ", 0.0 AS fts_score"
	)

	if strings.TrimSpace(p.Query) != "" {
		fromClause = "memory_items JOIN memory_fts ON memory_items.rowid = memory_fts.rowid"
		whereParts = append(whereParts, "memory_fts MATCH ?")
		args = append(args, ftsQuery(p.Query))
		selectExtra = ", bm25(memory_fts) AS fts_score"
	} else {
		fromClause = "memory_items"
	}

	if !p.IncludeDeleted {
		whereParts = append(whereParts, "memory_items.deleted_at IS NULL")
	}
	if p.Scope != "" {
		whereParts = append(whereParts, "memory_items.scope = ?")
		args = append(args, string(p.Scope))
	}
	if p.Type != "" {
		whereParts = append(whereParts, "memory_items.type = ?")
		args = append(args, string(p.Type))
	}
	if p.TimeRangeDays > 0 {
		whereParts = append(whereParts, "memory_items.created_at >= ?")
		args = append(args, time.Now().UTC().AddDate(0, 0, -p.TimeRangeDays))
	}
	if len(p.Tags) > 0 {
		var tagParts []string
		for _, tag := range p.Tags {
			tagParts = append(tagParts, "memory_items.tags LIKE ?")
			args = append(args, "%"+tag+"%")
		}
		whereParts = append(whereParts, "("+strings.Join(tagParts, " OR ")+")")
	}

	where := ""
	if len(whereParts) > 0 {
		where = "WHERE " + strings.Join(whereParts, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT memory_items.id, memory_items.scope, memory_items.type, memory_items.title,
			memory_items.content, memory_items.summary, memory_items.tags, memory_items.source,
			memory_items.channel, memory_items.session_key, memory_items.importance,
			memory_items.dedup_key, memory_items.created_at, memory_items.updated_at,
			memory_items.expires_at, memory_items.deleted_at %s
		FROM %s %s
	`, selectExtra, fromClause, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		item  *Item
		score float64
	}
	var all []scored
	now := time.Now().UTC()
	for rows.Next() {
		item, ftsScore, err := scanItemWithScore(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, scored{item: item, score: s.rank(item, ftsScore, now)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := 0; i < len(all)-1; i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].score > all[i].score {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	if len(all) > p.TopK {
		all = all[:p.TopK]
	}

	out := make([]*Item, len(all))
	for i, sc := range all {
		out[i] = sc.item
	}
	return out, nil
}

// rank combines normalized FTS relevance (bm25 is lower-is-better in
// sqlite, so it is inverted), importance, and an exponential recency
// decay with a 14-day half-life into a single descending score.
func (s *Store) rank(item *Item, ftsScore float64, now time.Time) float64 {
	normalizedFTS := 0.0
	if ftsScore != 0 {
		normalizedFTS = math.Abs(ftsScore) / (1.0 + math.Abs(ftsScore))
	}
	ageDays := now.Sub(item.CreatedAt).Hours() / 24
	recency := math.Exp(-ageDays / 14.0)
	return s.weights.FTS*normalizedFTS + s.weights.Importance*item.Importance + s.weights.Recency*recency
}

// SoftDelete marks an item deleted without removing it, reporting
// whether an active item was found.
func (s *Store) SoftDelete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Restore clears a soft-delete marker, reporting whether a deleted item was found.
func (s *Store) Restore(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// BatchSoftDelete soft-deletes every active item matching the filters,
// returning the number affected.
func (s *Store) BatchSoftDelete(ctx context.Context, p BatchDeleteParams) (int, error) {
	whereParts := []string{"deleted_at IS NULL"}
	args := []any{time.Now().UTC()}

	if p.Scope != "" {
		whereParts = append(whereParts, "scope = ?")
		args = append(args, string(p.Scope))
	}
	if p.Type != "" {
		whereParts = append(whereParts, "type = ?")
		args = append(args, string(p.Type))
	}
	if p.BeforeDays > 0 {
		whereParts = append(whereParts, "created_at < ?")
		args = append(args, time.Now().UTC().AddDate(0, 0, -p.BeforeDays))
	}
	if len(p.Tags) > 0 {
		var tagParts []string
		for _, tag := range p.Tags {
			tagParts = append(tagParts, "tags LIKE ?")
			args = append(args, "%"+tag+"%")
		}
		whereParts = append(whereParts, "("+strings.Join(tagParts, " OR ")+")")
	}

	query := "UPDATE memory_items SET deleted_at = ? WHERE " + strings.Join(whereParts, " AND ")
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SweepExpired soft-deletes every active item whose expires_at has
// passed, returning the number affected. Intended to run on a ticker,
// matching the teacher's background-sweep goroutine idiom
// (internal/jobs/store.go).
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items SET deleted_at = ?
		WHERE deleted_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats summarizes the store's current contents.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_items WHERE deleted_at IS NULL`)
	if err := row.Scan(&st.TotalItems); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_items WHERE deleted_at IS NULL AND scope = ?`, string(ScopeLongTerm))
	if err := row.Scan(&st.LongTermItems); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_items WHERE deleted_at IS NULL AND scope = ?`, string(ScopeShortTerm))
	if err := row.Scan(&st.ShortTermItems); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_items WHERE deleted_at IS NOT NULL`)
	if err := row.Scan(&st.DeletedItems); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_items
		WHERE deleted_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().UTC().Add(24*time.Hour))
	if err := row.Scan(&st.ExpiringSoon); err != nil {
		return st, err
	}
	return st, nil
}

func ftsQuery(q string) string {
	// Quote the raw query so user text containing FTS5 operators
	// (AND, OR, NOT, -, *, etc.) is treated as a literal phrase match
	// per token rather than parsed as query syntax.
	fields := strings.Fields(q)
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	item, _, err := scanRow(row, false)
	return item, err
}

func scanItemWithScore(row rowScanner) (*Item, float64, error) {
	return scanRow(row, true)
}

func scanRow(row rowScanner, withScore bool) (*Item, float64, error) {
	var (
		item                                    Item
		scope, itemType                         string
		tagsCol, dedupKey                       sql.NullString
		expiresAt, deletedAt                    sql.NullTime
		ftsScore                                float64
	)
	dest := []any{
		&item.ID, &scope, &itemType, &item.Title, &item.Content, &item.Summary,
		&tagsCol, &item.Source, &item.Channel, &item.SessionKey, &item.Importance,
		&dedupKey, &item.CreatedAt, &item.UpdatedAt, &expiresAt, &deletedAt,
	}
	if withScore {
		dest = append(dest, &ftsScore)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	item.Scope = Scope(scope)
	item.Type = ItemType(itemType)
	if tagsCol.String != "" {
		item.Tags = strings.Split(tagsCol.String, ",")
	}
	item.DedupKey = dedupKey.String
	if expiresAt.Valid {
		t := expiresAt.Time
		item.ExpiresAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		item.DeletedAt = &t
	}
	return &item, ftsScore, nil
}
