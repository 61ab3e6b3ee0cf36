package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/campusops/qrgate/internal/db"
	"github.com/campusops/qrgate/internal/qrgate/store"
)

// DedupGuard stores claims in scan_claims. The check and the insert run in
// one Worker transaction, so concurrent claims for a key are serialised.
type DedupGuard struct {
	writer *dbpkg.Worker
}

func NewDedupGuard(writer *dbpkg.Worker) *DedupGuard {
	return &DedupGuard{writer: writer}
}

var errClaimHeld = errors.New("claim held")

func (g *DedupGuard) Claim(ctx context.Context, key string, window time.Duration, now time.Time) (store.Claim, bool, error) {
	c := store.Claim{Key: key, Token: uuid.NewString()}

	err := g.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var expiresMs int64
		err := tx.QueryRowContext(ctx, `SELECT expires_at_ms FROM scan_claims WHERE claim_key = ?;`, key).Scan(&expiresMs)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("Claim select: %w", err)
		case ms(now) < expiresMs:
			return errClaimHeld
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO scan_claims(claim_key, token, expires_at_ms) VALUES (?, ?, ?)
ON CONFLICT(claim_key) DO UPDATE SET token = excluded.token, expires_at_ms = excluded.expires_at_ms;
`, key, c.Token, ms(now.Add(window))); err != nil {
			return fmt.Errorf("Claim upsert: %w", err)
		}
		return nil
	})
	if errors.Is(err, errClaimHeld) {
		return store.Claim{}, false, nil
	}
	if err != nil {
		return store.Claim{}, false, err
	}
	return c, true, nil
}

func (g *DedupGuard) Release(ctx context.Context, c store.Claim) error {
	return g.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scan_claims WHERE claim_key = ? AND token = ?;`, c.Key, c.Token); err != nil {
			return fmt.Errorf("Release: %w", err)
		}
		return nil
	})
}

// PurgeExpired drops claims whose window has passed.
func (g *DedupGuard) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := g.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM scan_claims WHERE expires_at_ms <= ?;`, ms(now))
		if err != nil {
			return fmt.Errorf("PurgeExpired: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
