// Package summary provides the append-only summary log backing the
// engine's metric and histogram emission. Records are keyed by a
// monotonic step or episode index and are consumable by external
// monitoring tools through the query API.
package summary

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
)

// Store is a SQLite-backed append-only summary log.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Open opens (or creates) the summary database at the given path and
// initializes the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			tag TEXT NOT NULL,
			step INTEGER NOT NULL,
			value REAL,
			payload BLOB,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_summaries_tag ON summaries(tag, step);
		CREATE INDEX IF NOT EXISTS idx_summaries_kind ON summaries(kind);
		CREATE INDEX IF NOT EXISTS idx_summaries_step ON summaries(step);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create summary schema: %w", err)
	}
	return nil
}

// WriteScalar appends one scalar record.
func (s *Store) WriteScalar(tag string, step int64, value float64) error {
	return s.append(domainPolicy.SummaryRecord{
		Kind:  domainPolicy.SummaryScalar,
		Tag:   tag,
		Step:  step,
		Value: value,
	})
}

// WriteHistogram appends one histogram record. The raw values are
// stored as a JSON payload; binning is left to the consumer.
func (s *Store) WriteHistogram(tag string, step int64, values []float64) error {
	return s.append(domainPolicy.SummaryRecord{
		Kind:   domainPolicy.SummaryHistogram,
		Tag:    tag,
		Step:   step,
		Values: values,
	})
}

// WriteText appends one text record.
func (s *Store) WriteText(tag string, step int64, text string) error {
	return s.append(domainPolicy.SummaryRecord{
		Kind: domainPolicy.SummaryText,
		Tag:  tag,
		Step: step,
		Text: text,
	})
}

func (s *Store) append(rec domainPolicy.SummaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domainPolicy.ErrStoreClosed
	}

	var payload []byte
	switch rec.Kind {
	case domainPolicy.SummaryHistogram:
		var err error
		payload, err = json.Marshal(rec.Values)
		if err != nil {
			return fmt.Errorf("failed to marshal histogram payload: %w", err)
		}
	case domainPolicy.SummaryText:
		payload = []byte(rec.Text)
	}

	_, err := s.db.Exec(`
		INSERT INTO summaries (id, kind, tag, step, value, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), string(rec.Kind), rec.Tag, rec.Step, rec.Value, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append summary record: %w", err)
	}
	return nil
}

// Query returns records matching the given criteria in step order.
func (s *Store) Query(ctx context.Context, q domainPolicy.SummaryQuery) ([]domainPolicy.SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domainPolicy.ErrStoreClosed
	}

	sqlQuery := `
		SELECT id, kind, tag, step, value, payload, created_at
		FROM summaries WHERE 1=1
	`
	args := make([]interface{}, 0)

	if q.Tag != "" {
		sqlQuery += " AND tag = ?"
		args = append(args, q.Tag)
	}
	if q.Kind != "" {
		sqlQuery += " AND kind = ?"
		args = append(args, string(q.Kind))
	}
	if q.FromStep > 0 {
		sqlQuery += " AND step >= ?"
		args = append(args, q.FromStep)
	}
	if q.ToStep > 0 {
		sqlQuery += " AND step <= ?"
		args = append(args, q.ToStep)
	}

	sqlQuery += " ORDER BY step ASC, created_at ASC"

	if q.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domainPolicy.SummaryRecord, 0)
	for rows.Next() {
		var (
			rec       domainPolicy.SummaryRecord
			kind      string
			value     sql.NullFloat64
			payload   []byte
			createdMs int64
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.Tag, &rec.Step, &value, &payload, &createdMs); err != nil {
			return nil, err
		}

		rec.Kind = domainPolicy.SummaryKind(kind)
		rec.CreatedAt = time.UnixMilli(createdMs)
		if value.Valid {
			rec.Value = value.Float64
		}

		switch rec.Kind {
		case domainPolicy.SummaryHistogram:
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &rec.Values); err != nil {
					return nil, fmt.Errorf("failed to unmarshal histogram payload: %w", err)
				}
			}
		case domainPolicy.SummaryText:
			rec.Text = string(payload)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, domainPolicy.ErrStoreClosed
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries`).Scan(&count)
	return count, err
}

// Close closes the store. Further writes return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
