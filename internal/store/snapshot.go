package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
)

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
	Seq    int64  `json:"seq"`
}

// SaveSnapshot stores s under name as canonical JSON with its digest,
// replacing any previous snapshot of that name. seq records the journal
// position the snapshot reflects. Saving identical content is a no-op
// write. Returns the digest.
func (s *Store) SaveSnapshot(ctx context.Context, name string, st *entity.State, seq int64) (string, error) {
	if name == "" {
		return "", model.NewValidationError("", "", "snapshot name is required")
	}
	body, err := st.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", name, err)
	}
	digest, err := st.Digest()
	if err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", name, err)
	}

	// The WHERE clause skips the write when nothing changed, which keeps
	// repeated saves of an unchanged state off the WAL.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (name, digest, body, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			digest = excluded.digest,
			body = excluded.body,
			seq = excluded.seq
		WHERE snapshots.digest != excluded.digest OR snapshots.seq != excluded.seq
	`, name, digest, string(body), seq)
	if err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", name, err)
	}

	slog.Debug("snapshot saved",
		"name", name,
		"digest", digest,
		"lists", st.Lists().Len(),
		"tasks", st.Tasks().Len(),
	)
	return digest, nil
}

// LoadSnapshot hydrates the snapshot stored under name. A missing snapshot
// is a NOT_FOUND error; a body that no longer matches its digest is
// reported as corrupt.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (*entity.State, SnapshotInfo, error) {
	info := SnapshotInfo{Name: name}
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, body, seq FROM snapshots WHERE name = ?
	`, name).Scan(&info.Digest, &body, &info.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, info, &model.Error{Code: model.ErrCodeNotFound, Message: fmt.Sprintf("snapshot %q not found", name)}
	}
	if err != nil {
		return nil, info, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	st, err := entity.DecodeSnapshot([]byte(body))
	if err != nil {
		return nil, info, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	digest, err := st.Digest()
	if err != nil {
		return nil, info, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	if digest != info.Digest {
		return nil, info, fmt.Errorf("load snapshot %s: corrupt: digest %s, stored %s", name, digest, info.Digest)
	}
	return st, info, nil
}

// ListSnapshots returns every stored snapshot, by name.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, digest, seq FROM snapshots
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := []SnapshotInfo{}
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Name, &info.Digest, &info.Seq); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes name. Removing an absent snapshot is a no-op.
func (s *Store) DeleteSnapshot(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	return nil
}
