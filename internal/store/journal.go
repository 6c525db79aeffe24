package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/tasksync/internal/model"
)

// RecordMutation journals a mutation as it goes in flight.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate ids are
// silently ignored.
func (s *Store) RecordMutation(ctx context.Context, rec model.MutationRecord) error {
	patch, err := marshalPatch(rec.Patch)
	if err != nil {
		return fmt.Errorf("record mutation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mutations
		(id, seq, kind, op, target, patch, status, temp_id, server_id, error_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Seq,
		string(rec.Kind),
		string(rec.Op),
		rec.Target,
		patch,
		string(rec.Status),
		rec.TempID,
		rec.ServerID,
		string(rec.ErrorCode),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record mutation: %w", err)
	}
	return nil
}

// RecordSettlement journals a mutation's terminal state. A mutation rejected
// before it went in flight has no row yet and is inserted whole.
func (s *Store) RecordSettlement(ctx context.Context, rec model.MutationRecord) error {
	patch, err := marshalPatch(rec.Patch)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mutations
		(id, seq, kind, op, target, patch, status, temp_id, server_id, error_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			temp_id = excluded.temp_id,
			server_id = excluded.server_id,
			error_code = excluded.error_code,
			error = excluded.error
	`,
		rec.ID,
		rec.Seq,
		string(rec.Kind),
		string(rec.Op),
		rec.Target,
		patch,
		string(rec.Status),
		rec.TempID,
		rec.ServerID,
		string(rec.ErrorCode),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record settlement: %w", err)
	}
	return nil
}

// JournalFilter narrows a journal read. Zero fields match everything.
type JournalFilter struct {
	Kind   model.Kind
	Status model.MutationStatus
	// Limit keeps only the newest Limit matches.
	Limit int
}

// ReadJournal returns every journaled mutation.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ReadJournal(ctx context.Context) ([]model.MutationRecord, error) {
	return s.QueryJournal(ctx, JournalFilter{})
}

// QueryJournal returns the mutations matching f in the same order as
// ReadJournal. The (kind, status, seq) index serves the filtered reads.
func (s *Store) QueryJournal(ctx context.Context, f JournalFilter) ([]model.MutationRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `
		SELECT id, seq, kind, op, target, patch, status, temp_id, server_id, error_code, error
		FROM mutations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		// Take the newest rows, then restore ascending order.
		query = `SELECT * FROM (` + query + `
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT ?)`
		args = append(args, f.Limit)
	}
	query += `
		ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	out := []model.MutationRecord{}
	for rows.Next() {
		rec, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return out, nil
}

// MaxSeq returns the highest journaled seq, or 0. An engine resumes its
// clock from here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM mutations`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

func scanMutation(rows *sql.Rows) (model.MutationRecord, error) {
	var (
		rec                          model.MutationRecord
		kind, op, status, code, data string
	)
	err := rows.Scan(&rec.ID, &rec.Seq, &kind, &op, &rec.Target, &data, &status,
		&rec.TempID, &rec.ServerID, &code, &rec.Error)
	if err != nil {
		return model.MutationRecord{}, fmt.Errorf("scan mutation: %w", err)
	}
	patch, err := unmarshalPatch(data)
	if err != nil {
		return model.MutationRecord{}, fmt.Errorf("mutation %s: %w", rec.ID, err)
	}
	rec.Kind = model.Kind(kind)
	rec.Op = model.Op(op)
	rec.Status = model.MutationStatus(status)
	rec.ErrorCode = model.ErrorCode(code)
	rec.Patch = patch
	return rec, nil
}
