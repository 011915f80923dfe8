package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/vectormath"
)

// Store provides durable storage for records, edges, centroids,
// entities, mentions and feedback using SQLite, plus one sqlite-vec KNN
// index per embedding tier.
type Store struct {
	db      *sql.DB
	dataDir string
	logger  *zap.Logger

	richIdx *vecIndex
	fastIdx *vecIndex
}

// NewStore opens (or creates) the store under ENGRAM_DATA_DIR, defaulting
// to ~/.engram.
func NewStore(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dataDir := os.Getenv("ENGRAM_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".engram")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "engram.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dataDir: dataDir, logger: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	store.richIdx = newVecIndex(db, "rich", RichDimensions, logger)
	store.fastIdx = newVecIndex(db, "fast", FastDimensions, logger)

	logger.Info("store opened", zap.String("path", dbPath))
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		kind TEXT NOT NULL,
		topic TEXT,
		sentiment TEXT,
		hashtags TEXT,
		importance REAL DEFAULT 0,
		connection_count INTEGER DEFAULT 0,
		conversation_id TEXT,
		cluster_id TEXT,
		enrichment TEXT,
		rich_embedding TEXT,
		fast_embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_records_cluster ON records(cluster_id);

	CREATE TABLE IF NOT EXISTS edges (
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		weight REAL NOT NULL,
		kind TEXT NOT NULL,
		visual_priority INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_id, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

	CREATE TABLE IF NOT EXISTS centroids (
		cluster_id TEXT PRIMARY KEY,
		coordinate TEXT NOT NULL,
		node_count INTEGER NOT NULL,
		avg_importance REAL NOT NULL,
		last_updated DATETIME
	);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		properties TEXT,
		first_mention_record_id TEXT,
		last_mention_record_id TEXT,
		mention_count INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_name_type ON entities(lower(name), type);

	CREATE TABLE IF NOT EXISTS entity_mentions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		record_id TEXT NOT NULL,
		mention_text TEXT NOT NULL,
		context TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_mentions_entity ON entity_mentions(entity_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		action TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_node ON feedback(node_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func generateID() string {
	return uuid.NewString()
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// InsertRecord stores a new record and indexes both embedding tiers.
func (s *Store) InsertRecord(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = generateID()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	tagsJSON, _ := json.Marshal(rec.Hashtags)
	richJSON, _ := json.Marshal(rec.RichVector)
	fastJSON, _ := json.Marshal(rec.FastVector)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, content, kind, topic, sentiment, hashtags, importance,
			connection_count, conversation_id, cluster_id, enrichment,
			rich_embedding, fast_embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Content, string(rec.Kind), rec.Topic, rec.Sentiment, string(tagsJSON),
		rec.Importance, rec.ConnectionCount, nullable(rec.ConversationID), nullable(rec.ClusterID),
		nullableRaw(rec.Enrichment), string(richJSON), string(fastJSON), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &PersistenceError{Op: "insert record", Err: err}
	}

	s.indexRecord(rec)
	return nil
}

// CreateRecordWithLink inserts a record and a weak edge pair to matchID
// in one transaction (the CREATE_NEW related-band outcome).
func (s *Store) CreateRecordWithLink(ctx context.Context, rec *Record, matchID string, weight float64) error {
	if rec.ID == "" {
		rec.ID = generateID()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	tagsJSON, _ := json.Marshal(rec.Hashtags)
	richJSON, _ := json.Marshal(rec.RichVector)
	fastJSON, _ := json.Marshal(rec.FastVector)
	vp := int(weight*100 + 0.5)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin create-with-link", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (id, content, kind, topic, sentiment, hashtags, importance,
			connection_count, conversation_id, cluster_id, enrichment,
			rich_embedding, fast_embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Content, string(rec.Kind), rec.Topic, rec.Sentiment, string(tagsJSON),
		rec.Importance, rec.ConnectionCount, nullable(rec.ConversationID), nullable(rec.ClusterID),
		nullableRaw(rec.Enrichment), string(richJSON), string(fastJSON), rec.CreatedAt, rec.UpdatedAt); err != nil {
		return &PersistenceError{Op: "insert record", Err: err}
	}

	for _, pair := range [][2]string{{rec.ID, matchID}, {matchID, rec.ID}} {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO edges (source_id, target_id, weight, kind, visual_priority, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, pair[0], pair[1], weight, string(EdgeWeak), vp, now); err != nil {
			return &PersistenceError{Op: "insert weak edge", Err: err}
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE records SET connection_count = connection_count + 1 WHERE id IN (?, ?)
	`, rec.ID, matchID); err != nil {
		return &PersistenceError{Op: "bump connection count", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit create-with-link", Err: err}
	}

	s.indexRecord(rec)
	return nil
}

func (s *Store) indexRecord(rec *Record) {
	if err := s.richIdx.Insert(rec.ID, rec.RichVector); err != nil {
		s.logger.Warn("rich index insert failed", zap.String("id", rec.ID), zap.Error(err))
	}
	if err := s.fastIdx.Insert(rec.ID, rec.FastVector); err != nil {
		s.logger.Warn("fast index insert failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

// GetRecord returns a record by id, or nil if not found.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE id = ?`, id)
	if err != nil {
		return nil, &PersistenceError{Op: "get record", Err: err}
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return s.scanRecord(rows)
}

// TouchRecord bumps updated_at only (the KEEP_OLD outcome).
func (s *Store) TouchRecord(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE records SET updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return &PersistenceError{Op: "touch record", Err: err}
	}
	return nil
}

// UpdateRecordTags replaces the hashtag set (the MERGE_TAGS outcome).
// A single UPDATE, so the change is atomic.
func (s *Store) UpdateRecordTags(ctx context.Context, id string, tags []string, now time.Time) error {
	tagsJSON, _ := json.Marshal(tags)
	_, err := s.db.ExecContext(ctx, `UPDATE records SET hashtags = ?, updated_at = ? WHERE id = ?`,
		string(tagsJSON), now, id)
	if err != nil {
		return &PersistenceError{Op: "update tags", Err: err}
	}
	return nil
}

// ReplaceRecordContent swaps content, tags and both embeddings in place
// (REPLACE and MERGE_CONTENT outcomes). The row update is a single
// statement; the KNN indexes are refreshed after it commits.
func (s *Store) ReplaceRecordContent(ctx context.Context, id, content string, tags []string, rich vectormath.Rich, fast vectormath.Fast, now time.Time) error {
	tagsJSON, _ := json.Marshal(tags)
	richJSON, _ := json.Marshal(rich)
	fastJSON, _ := json.Marshal(fast)
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET content = ?, hashtags = ?, rich_embedding = ?, fast_embedding = ?, updated_at = ?
		WHERE id = ?
	`, content, string(tagsJSON), string(richJSON), string(fastJSON), now, id)
	if err != nil {
		return &PersistenceError{Op: "replace content", Err: err}
	}
	s.indexRecord(&Record{ID: id, RichVector: rich, FastVector: fast})
	return nil
}

// SetEnrichment attaches the opaque enrichment payload to a record.
func (s *Store) SetEnrichment(ctx context.Context, id string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `UPDATE records SET enrichment = ? WHERE id = ?`, string(payload), id)
	if err != nil {
		return &PersistenceError{Op: "set enrichment", Err: err}
	}
	return nil
}

// SetConnectionCount overwrites a record's derived connection count.
func (s *Store) SetConnectionCount(ctx context.Context, id string, n int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE records SET connection_count = ? WHERE id = ?`, n, id)
	if err != nil {
		return &PersistenceError{Op: "set connection count", Err: err}
	}
	return nil
}

// IncrementConnectionCount bumps a record's derived connection count.
func (s *Store) IncrementConnectionCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE records SET connection_count = connection_count + 1 WHERE id = ?`, id)
	if err != nil {
		return &PersistenceError{Op: "increment connection count", Err: err}
	}
	return nil
}

// ListRecent returns the most recently updated records.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list records", Err: err}
	}
	defer rows.Close()
	return s.collectRecords(rows)
}

// KeywordCandidates returns records whose content or hashtags contain any
// of the given lowercase keywords, most recently updated first. Backs the
// ambient fast path; no embedding work involved.
func (s *Store) KeywordCandidates(ctx context.Context, keywords []string, limit int) ([]*Record, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	conds := make([]string, 0, len(keywords))
	args := make([]interface{}, 0, len(keywords)*2+1)
	for _, kw := range keywords {
		conds = append(conds, `(instr(lower(content), ?) > 0 OR instr(lower(hashtags), ?) > 0)`)
		args = append(args, kw, kw)
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		selectRecord+` WHERE `+strings.Join(conds, " OR ")+` ORDER BY updated_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "keyword candidates", Err: err}
	}
	defer rows.Close()
	return s.collectRecords(rows)
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// Size returns the database file size as a human-readable string.
func (s *Store) Size() (string, error) {
	info, err := os.Stat(filepath.Join(s.dataDir, "engram.db"))
	if err != nil {
		return "unknown", err
	}
	size := info.Size()
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size), nil
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024), nil
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024)), nil
	}
}

// LastActivity returns the newest updated_at across all records, or the
// zero time for an empty store.
func (s *Store) LastActivity(ctx context.Context) (time.Time, error) {
	var raw sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM records`).Scan(&raw)
	if err != nil {
		return time.Time{}, &PersistenceError{Op: "last activity", Err: err}
	}
	if !raw.Valid {
		return time.Time{}, nil
	}
	return raw.Time, nil
}

// DecayImportance reduces importance for records not touched within the
// staleness window, clamped at a floor. Returns how many rows changed.
func (s *Store) DecayImportance(ctx context.Context, olderThan time.Time, factor, floor float64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET importance = MAX(importance * ?, ?)
		WHERE updated_at < ? AND importance > ?
	`, factor, floor, olderThan, floor)
	if err != nil {
		return 0, &PersistenceError{Op: "decay importance", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---------------------------------------------------------------------------
// Nearest-neighbor search
// ---------------------------------------------------------------------------

// SearchRich queries the rich-tier KNN index. Index failure falls back to
// a linear scan; if both paths fail the caller gets an IndexQueryError
// and is expected to fail open.
func (s *Store) SearchRich(ctx context.Context, query vectormath.Rich, k int) ([]Neighbor, error) {
	if s.richIdx.available {
		results, err := s.richIdx.Search(query, k)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("rich vec query failed, falling back to scan", zap.Error(err))
	}
	return s.linearScan(ctx, "rich", []float32(query), k)
}

// SearchFast queries the fast-tier KNN index, same contract as SearchRich.
func (s *Store) SearchFast(ctx context.Context, query vectormath.Fast, k int) ([]Neighbor, error) {
	if s.fastIdx.available {
		results, err := s.fastIdx.Search(query, k)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("fast vec query failed, falling back to scan", zap.Error(err))
	}
	return s.linearScan(ctx, "fast", []float32(query), k)
}

func (s *Store) linearScan(ctx context.Context, tier string, query []float32, k int) ([]Neighbor, error) {
	column := tier + "_embedding"
	rows, err := s.db.QueryContext(ctx, `SELECT id, `+column+` FROM records`)
	if err != nil {
		return nil, &IndexQueryError{Tier: tier, Err: err}
	}
	defer rows.Close()

	var results []Neighbor
	for rows.Next() {
		var id, vecJSON string
		if err := rows.Scan(&id, &vecJSON); err != nil {
			continue
		}
		var v []float32
		if err := json.Unmarshal([]byte(vecJSON), &v); err != nil || len(v) != len(query) {
			continue
		}
		sim := vectormath.CosineFull(query, v)
		results = append(results, Neighbor{ID: id, ApproxDistance: 1.0 - sim})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ApproxDistance < results[j].ApproxDistance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// AddEdge idempotently inserts one directed edge. Returns true when the
// row was actually created, false when it already existed.
func (s *Store) AddEdge(ctx context.Context, e Edge) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges (source_id, target_id, weight, kind, visual_priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SourceID, e.TargetID, e.Weight, string(e.Kind), e.VisualPriority, e.CreatedAt)
	if err != nil {
		return false, &PersistenceError{Op: "insert edge", Err: err}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EdgesFrom returns edges originating from the given record.
func (s *Store) EdgesFrom(ctx context.Context, recordID string) ([]Edge, error) {
	return s.queryEdges(ctx, `source_id`, recordID)
}

// EdgesTo returns edges pointing at the given record.
func (s *Store) EdgesTo(ctx context.Context, recordID string) ([]Edge, error) {
	return s.queryEdges(ctx, `target_id`, recordID)
}

func (s *Store) queryEdges(ctx context.Context, column, recordID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, weight, kind, visual_priority, created_at
		FROM edges WHERE `+column+` = ? ORDER BY weight DESC
	`, recordID)
	if err != nil {
		return nil, &PersistenceError{Op: "query edges", Err: err}
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var kind string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Weight, &kind, &e.VisualPriority, &e.CreatedAt); err != nil {
			continue
		}
		e.Kind = EdgeKind(kind)
		edges = append(edges, e)
	}
	return edges, nil
}

// ---------------------------------------------------------------------------
// Centroids
// ---------------------------------------------------------------------------

// UpsertCentroid writes a fully recomputed centroid, last writer wins.
func (s *Store) UpsertCentroid(ctx context.Context, c Centroid) error {
	coordJSON, _ := json.Marshal(c.Coordinate)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO centroids (cluster_id, coordinate, node_count, avg_importance, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`, c.ClusterID, string(coordJSON), c.NodeCount, c.AvgImportance, c.LastUpdated)
	if err != nil {
		return &PersistenceError{Op: "upsert centroid", Err: err}
	}
	return nil
}

// GetCentroid returns a cluster's centroid, or nil if none exists.
func (s *Store) GetCentroid(ctx context.Context, clusterID string) (*Centroid, error) {
	var c Centroid
	var coordJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT cluster_id, coordinate, node_count, avg_importance, last_updated
		FROM centroids WHERE cluster_id = ?
	`, clusterID).Scan(&c.ClusterID, &coordJSON, &c.NodeCount, &c.AvgImportance, &c.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get centroid", Err: err}
	}
	json.Unmarshal([]byte(coordJSON), &c.Coordinate)
	return &c, nil
}

// ClusterMembers returns every record in a cluster.
func (s *Store) ClusterMembers(ctx context.Context, clusterID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, &PersistenceError{Op: "cluster members", Err: err}
	}
	defer rows.Close()
	return s.collectRecords(rows)
}

// ---------------------------------------------------------------------------
// Entities & mentions
// ---------------------------------------------------------------------------

// GetEntity looks up an entity by case-insensitive name and type.
func (s *Store) GetEntity(ctx context.Context, name string, typ EntityType) (*Entity, error) {
	rows, err := s.db.QueryContext(ctx, selectEntity+` WHERE lower(name) = lower(?) AND type = ?`, name, string(typ))
	if err != nil {
		return nil, &PersistenceError{Op: "get entity", Err: err}
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return scanEntity(rows)
}

// InsertEntity stores a new entity with mention count 1.
func (s *Store) InsertEntity(ctx context.Context, e *Entity) error {
	if e.ID == "" {
		e.ID = generateID()
	}
	propsJSON, _ := json.Marshal(e.Properties)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, type, properties, first_mention_record_id,
			last_mention_record_id, mention_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Name, string(e.Type), string(propsJSON), e.FirstMentionRecordID,
		e.LastMentionRecordID, e.MentionCount, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return &PersistenceError{Op: "insert entity", Err: err}
	}
	return nil
}

// UpdateEntityOnMention applies an upsert hit: merged properties, mention
// count +1, new last-mention pointer.
func (s *Store) UpdateEntityOnMention(ctx context.Context, id string, mergedProps map[string]any, lastMentionRecordID string, now time.Time) error {
	propsJSON, _ := json.Marshal(mergedProps)
	_, err := s.db.ExecContext(ctx, `
		UPDATE entities SET properties = ?, mention_count = mention_count + 1,
			last_mention_record_id = ?, updated_at = ?
		WHERE id = ?
	`, string(propsJSON), lastMentionRecordID, now, id)
	if err != nil {
		return &PersistenceError{Op: "update entity", Err: err}
	}
	return nil
}

// AddMention appends one surface-form occurrence.
func (s *Store) AddMention(ctx context.Context, m *Mention) error {
	if m.ID == "" {
		m.ID = generateID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_mentions (id, entity_id, record_id, mention_text, context)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.EntityID, m.RecordID, m.MentionText, m.Context)
	if err != nil {
		return &PersistenceError{Op: "insert mention", Err: err}
	}
	return nil
}

// ListEntities returns entities ordered by mention count.
func (s *Store) ListEntities(ctx context.Context, limit int) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, selectEntity+` ORDER BY mention_count DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list entities", Err: err}
	}
	defer rows.Close()
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// MentionsFor returns all mentions of an entity, oldest first.
func (s *Store) MentionsFor(ctx context.Context, entityID string) ([]Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, record_id, mention_text, COALESCE(context, '')
		FROM entity_mentions WHERE entity_id = ? ORDER BY created_at
	`, entityID)
	if err != nil {
		return nil, &PersistenceError{Op: "list mentions", Err: err}
	}
	defer rows.Close()
	var out []Mention
	for rows.Next() {
		var m Mention
		if err := rows.Scan(&m.ID, &m.EntityID, &m.RecordID, &m.MentionText, &m.Context); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Feedback
// ---------------------------------------------------------------------------

// AddFeedback durably records a feedback signal.
func (s *Store) AddFeedback(ctx context.Context, f Feedback) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, node_id, action, created_at) VALUES (?, ?, ?, ?)
	`, generateID(), f.NodeID, string(f.Action), f.Timestamp)
	if err != nil {
		return &PersistenceError{Op: "insert feedback", Err: err}
	}
	return nil
}

// RecentFeedback returns the newest feedback signals, newest first.
func (s *Store) RecentFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, action, created_at FROM feedback ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list feedback", Err: err}
	}
	defer rows.Close()
	var out []Feedback
	for rows.Next() {
		var f Feedback
		var action string
		if err := rows.Scan(&f.NodeID, &action, &f.Timestamp); err != nil {
			continue
		}
		f.Action = FeedbackAction(action)
		out = append(out, f)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

const selectRecord = `SELECT id, content, kind, COALESCE(topic, ''), COALESCE(sentiment, ''),
	COALESCE(hashtags, '[]'), importance, connection_count,
	COALESCE(conversation_id, ''), COALESCE(cluster_id, ''), COALESCE(enrichment, ''),
	COALESCE(rich_embedding, '[]'), COALESCE(fast_embedding, '[]'), created_at, updated_at
	FROM records`

func (s *Store) scanRecord(rows *sql.Rows) (*Record, error) {
	var rec Record
	var kind, tagsJSON, enrichment, richJSON, fastJSON string
	err := rows.Scan(&rec.ID, &rec.Content, &kind, &rec.Topic, &rec.Sentiment,
		&tagsJSON, &rec.Importance, &rec.ConnectionCount,
		&rec.ConversationID, &rec.ClusterID, &enrichment,
		&richJSON, &fastJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	json.Unmarshal([]byte(tagsJSON), &rec.Hashtags)
	json.Unmarshal([]byte(richJSON), &rec.RichVector)
	json.Unmarshal([]byte(fastJSON), &rec.FastVector)
	if enrichment != "" {
		rec.Enrichment = json.RawMessage(enrichment)
	}
	return &rec, nil
}

func (s *Store) collectRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectEntity = `SELECT id, name, type, COALESCE(properties, '{}'),
	COALESCE(first_mention_record_id, ''), COALESCE(last_mention_record_id, ''),
	mention_count, created_at, updated_at
	FROM entities`

func scanEntity(rows *sql.Rows) (*Entity, error) {
	var e Entity
	var typ, propsJSON string
	err := rows.Scan(&e.ID, &e.Name, &typ, &propsJSON, &e.FirstMentionRecordID,
		&e.LastMentionRecordID, &e.MentionCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = EntityType(typ)
	json.Unmarshal([]byte(propsJSON), &e.Properties)
	return &e, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableRaw(r json.RawMessage) interface{} {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}
