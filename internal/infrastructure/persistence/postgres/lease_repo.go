package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// LeasePool implements leasepool.Pool on PostgreSQL. Each lease and release
// is one UPDATE statement, so the capacity check and the increment can never
// be split by a concurrent caller.
type LeasePool struct {
	conn *Connection
}

// NewLeasePool creates a new lease pool.
func NewLeasePool(conn *Connection) *LeasePool {
	return &LeasePool{conn: conn}
}

var _ leasepool.Pool = (*LeasePool)(nil)

// Lease takes a slot on the least loaded enabled key. Rows locked by a
// concurrent lease are skipped instead of waited on.
func (p *LeasePool) Lease(ctx context.Context, now time.Time) (*leasepool.Lease, error) {
	query := `
		UPDATE api_key_leases
		SET active_leases = active_leases + 1,
			last_leased_at = $1
		WHERE id = (
			SELECT id
			FROM api_key_leases
			WHERE is_enabled AND active_leases < max_leases
			ORDER BY active_leases, last_leased_at NULLS FIRST, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, label`

	var id, label string
	if err := p.conn.QueryRow(ctx, query, now).Scan(&id, &label); err != nil {
		if IsNoRows(err) {
			return nil, leasepool.ErrNoCapacity
		}
		return nil, fmt.Errorf("failed to lease api key: %w", err)
	}

	return &leasepool.Lease{
		KeyID:    leasepool.KeyID(id),
		Label:    label,
		LeasedAt: now,
	}, nil
}

// Release returns a slot. The counter never drops below zero.
func (p *LeasePool) Release(ctx context.Context, id leasepool.KeyID) error {
	tag, err := p.conn.Exec(ctx, `
		UPDATE api_key_leases
		SET active_leases = GREATEST(active_leases - 1, 0)
		WHERE id = $1`,
		id.String())
	if err != nil {
		return fmt.Errorf("failed to release api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrKeyNotFound
	}
	return nil
}

// List returns all keys ordered by ID.
func (p *LeasePool) List(ctx context.Context) ([]leasepool.Key, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT id, label, active_leases, max_leases, is_enabled, last_leased_at
		FROM api_key_leases
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []leasepool.Key
	for rows.Next() {
		var (
			k  leasepool.Key
			id string
		)
		if err := rows.Scan(&id, &k.Label, &k.ActiveLeases, &k.MaxLeases, &k.IsEnabled, &k.LastLeasedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		k.ID = leasepool.KeyID(id)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Seed registers keys that do not exist yet and updates the capacity and
// label of the ones that do. Active lease counters are left untouched;
// lowering max below the current count is clamped so the bounds hold.
func (p *LeasePool) Seed(ctx context.Context, keys []leasepool.Key) error {
	return p.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		for _, k := range keys {
			_, err := tx.Exec(ctx, `
				INSERT INTO api_key_leases (id, label, max_leases, is_enabled)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET
					label = EXCLUDED.label,
					max_leases = EXCLUDED.max_leases,
					is_enabled = EXCLUDED.is_enabled,
					active_leases = LEAST(api_key_leases.active_leases, EXCLUDED.max_leases)`,
				k.ID.String(), k.Label, k.MaxLeases, k.IsEnabled)
			if err != nil {
				return fmt.Errorf("failed to seed api key %s: %w", k.ID, err)
			}
		}
		return nil
	})
}
