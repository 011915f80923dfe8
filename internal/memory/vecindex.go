package memory

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"go.uber.org/zap"
)

func init() {
	sqlite_vec.Auto()
}

// vecIndex wraps one sqlite-vec vec0 virtual table. The store keeps two
// independent instances, one per embedding tier; a query never mixes
// tiers. If the extension fails to load all operations are no-ops and
// lookups fall back to a linear scan over stored vectors.
type vecIndex struct {
	db         *sql.DB
	table      string // vec0 virtual table name
	idTable    string // rowid <-> record id mapping table
	dimensions int
	available  bool
	logger     *zap.Logger
}

// Neighbor is a KNN result: record id plus the index's approximate
// distance (smaller is closer; the metric is cosine but callers re-score
// precisely before acting on it).
type Neighbor struct {
	ID             string
	ApproxDistance float64
}

func newVecIndex(db *sql.DB, tier string, dimensions int, logger *zap.Logger) *vecIndex {
	vi := &vecIndex{
		db:         db,
		table:      "vec_" + tier,
		idTable:    "vec_" + tier + "_ids",
		dimensions: dimensions,
		logger:     logger,
	}
	if err := vi.ensureSchema(); err != nil {
		logger.Warn("sqlite-vec unavailable, falling back to linear scan",
			zap.String("tier", tier), zap.Error(err))
		vi.available = false
	} else {
		vi.available = true
	}
	return vi
}

func (vi *vecIndex) ensureSchema() error {
	var vecVersion string
	if err := vi.db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		return fmt.Errorf("vec_version() failed: %w", err)
	}

	// vec0 requires integer rowids; records use uuid strings
	if _, err := vi.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		vec_id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT UNIQUE NOT NULL
	)`, vi.idTable)); err != nil {
		return fmt.Errorf("failed to create vec ID mapping: %w", err)
	}

	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d] distance_metric=cosine)`,
		vi.table, vi.dimensions,
	)
	if _, err := vi.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}
	return nil
}

// Insert adds or replaces a record's embedding in the index.
func (vi *vecIndex) Insert(recordID string, embedding []float32) error {
	if !vi.available || len(embedding) != vi.dimensions {
		return nil
	}

	var vecID int64
	err := vi.db.QueryRow(fmt.Sprintf(`SELECT vec_id FROM %s WHERE record_id = ?`, vi.idTable), recordID).Scan(&vecID)
	if err == sql.ErrNoRows {
		result, err := vi.db.Exec(fmt.Sprintf(`INSERT INTO %s (record_id) VALUES (?)`, vi.idTable), recordID)
		if err != nil {
			return fmt.Errorf("failed to create vec ID mapping: %w", err)
		}
		vecID, _ = result.LastInsertId()
	} else if err != nil {
		return err
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	// vec0 has no ON CONFLICT; delete first
	vi.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, vi.table), vecID)
	if _, err := vi.db.Exec(fmt.Sprintf(`INSERT INTO %s (rowid, embedding) VALUES (?, ?)`, vi.table), vecID, blob); err != nil {
		return fmt.Errorf("failed to insert into vec0: %w", err)
	}
	return nil
}

// Search performs a KNN query, returning record ids ordered by ascending
// distance.
func (vi *vecIndex) Search(queryEmbedding []float32, limit int) ([]Neighbor, error) {
	if !vi.available {
		return nil, fmt.Errorf("vec index not available")
	}

	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query: %w", err)
	}

	rows, err := vi.db.Query(fmt.Sprintf(`
		SELECT rowid, distance
		FROM %s
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, vi.table), blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type rowResult struct {
		rowID    int64
		distance float64
	}
	var rowResults []rowResult
	for rows.Next() {
		var r rowResult
		if err := rows.Scan(&r.rowID, &r.distance); err != nil {
			continue
		}
		rowResults = append(rowResults, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rowResults) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(rowResults))
	args := make([]interface{}, len(rowResults))
	for i, rr := range rowResults {
		placeholders[i] = "?"
		args[i] = rr.rowID
	}
	mapRows, err := vi.db.Query(
		fmt.Sprintf(`SELECT vec_id, record_id FROM %s WHERE vec_id IN (%s)`, vi.idTable, strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer mapRows.Close()

	idMap := make(map[int64]string)
	for mapRows.Next() {
		var vecID int64
		var recID string
		if err := mapRows.Scan(&vecID, &recID); err != nil {
			continue
		}
		idMap[vecID] = recID
	}

	var results []Neighbor
	for _, rr := range rowResults {
		if recID, ok := idMap[rr.rowID]; ok {
			results = append(results, Neighbor{ID: recID, ApproxDistance: rr.distance})
		}
	}
	return results, nil
}

// Delete removes a record from the index.
func (vi *vecIndex) Delete(recordID string) error {
	if !vi.available {
		return nil
	}
	var vecID int64
	if err := vi.db.QueryRow(fmt.Sprintf(`SELECT vec_id FROM %s WHERE record_id = ?`, vi.idTable), recordID).Scan(&vecID); err != nil {
		return nil
	}
	vi.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, vi.table), vecID)
	vi.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE vec_id = ?`, vi.idTable), vecID)
	return nil
}
