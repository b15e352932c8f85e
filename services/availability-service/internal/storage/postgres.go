package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/freeslots/libs/db"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
)

// snapshotRowID is the id of the row holding the document.
const snapshotRowID = "default"

// PostgresSnapshots stores the same document FileSnapshots writes, as JSONB.
type PostgresSnapshots struct {
	pool *db.Pool
	key  string
}

func NewPostgresSnapshots(pool *db.Pool) *PostgresSnapshots {
	return &PostgresSnapshots{pool: pool, key: snapshotRowID}
}

func (p *PostgresSnapshots) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS student_busy_snapshots (
			id         text PRIMARY KEY,
			payload    jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (p *PostgresSnapshots) Load(ctx context.Context) (model.Snapshot, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `
		SELECT payload
		FROM student_busy_snapshots
		WHERE id = $1
	`, p.key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, nil
		}
		return nil, err
	}
	return decodeSnapshot(payload)
}

func (p *PostgresSnapshots) Save(ctx context.Context, snap model.Snapshot) error {
	payload, err := encodeSnapshot(snap, false)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO student_busy_snapshots (id, payload)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload,
			updated_at = now()
	`, p.key, string(payload))
	return err
}
