package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerforge/wagerd/internal/domain"
)

// WagerStore implements domain.WagerStore using PostgreSQL. Every state
// transition is a conditional UPDATE whose WHERE clause encodes the
// precondition; RowsAffected distinguishes a won claim from a lost one.
type WagerStore struct {
	pool *pgxpool.Pool
}

// NewWagerStore creates a WagerStore backed by the given connection pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool}
}

const wagerSelectCols = `row_id, wager_id, kind, creator_id, creator_address,
	acceptor_id, acceptor_address, amount, status,
	creator_position, opponent_position, escrow_address,
	token_symbol, direction, target_price,
	sport, home_team, away_team, deadline,
	winner_id, winner_position, resolution_value, is_draw,
	settlement_ref, simulated, resolved_at,
	payout, platform_fee, network_fee,
	expiry_processed, refund_processed, resolution_status, refund_ref,
	meta, archived, created_at, updated_at`

func scanWager(row pgx.Row) (domain.Wager, error) {
	var w domain.Wager
	var kind, status, resStatus string

	err := row.Scan(
		&w.RowID, &w.ID, &kind, &w.CreatorID, &w.CreatorAddress,
		&w.AcceptorID, &w.AcceptorAddress, &w.Amount, &status,
		&w.CreatorPosition, &w.OpponentPosition, &w.EscrowAddress,
		&w.TokenSymbol, &w.Direction, &w.TargetPrice,
		&w.Sport, &w.HomeTeam, &w.AwayTeam, &w.Deadline,
		&w.WinnerID, &w.WinnerPosition, &w.ResolutionValue, &w.IsDraw,
		&w.SettlementRef, &w.Simulated, &w.ResolvedAt,
		&w.Payout, &w.PlatformFee, &w.NetworkFee,
		&w.ExpiryProcessed, &w.RefundProcessed, &resStatus, &w.RefundRef,
		&w.Meta, &w.Archived, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return domain.Wager{}, err
	}
	w.Kind = domain.WagerKind(kind)
	w.Status = domain.WagerStatus(status)
	w.ResolutionStatus = domain.ResolutionStatus(resStatus)
	return w, nil
}

func collectWagers(rows pgx.Rows) ([]domain.Wager, error) {
	defer rows.Close()
	var wagers []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

// Create inserts a new open wager and returns it with the assigned row id
// and timestamps.
func (s *WagerStore) Create(ctx context.Context, w domain.Wager) (domain.Wager, error) {
	const query = `
		INSERT INTO wagers (
			wager_id, kind, creator_id, creator_address,
			amount, status, creator_position, escrow_address,
			token_symbol, direction, target_price,
			sport, home_team, away_team, deadline,
			resolution_status, meta
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15,
			$16, $17
		)
		RETURNING row_id, created_at, updated_at`

	meta := w.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	err := s.pool.QueryRow(ctx, query,
		w.ID, string(w.Kind), w.CreatorID, w.CreatorAddress,
		w.Amount, string(domain.WagerStatusOpen), w.CreatorPosition, w.EscrowAddress,
		w.TokenSymbol, w.Direction, w.TargetPrice,
		w.Sport, w.HomeTeam, w.AwayTeam, w.Deadline,
		string(domain.ResolutionNone), meta,
	).Scan(&w.RowID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("postgres: create wager %s: %w", w.ID, err)
	}

	w.Status = domain.WagerStatusOpen
	w.ResolutionStatus = domain.ResolutionNone
	return w, nil
}

// GetByID retrieves a wager by its external identifier.
func (s *WagerStore) GetByID(ctx context.Context, id string) (domain.Wager, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE wager_id = $1`, id)

	w, err := scanWager(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wager{}, domain.ErrNotFound
		}
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s: %w", id, err)
	}
	return w, nil
}

// MarkActive transitions an open wager to active with the acceptor fields.
func (s *WagerStore) MarkActive(ctx context.Context, id, acceptorID, acceptorAddress, opponentPosition, acceptRef string, simulated bool) (bool, error) {
	const query = `
		UPDATE wagers SET
			status            = 'active',
			acceptor_id       = $2,
			acceptor_address  = $3,
			opponent_position = $4,
			meta              = meta || jsonb_build_object('accept_ref', $5::text, 'accept_simulated', $6::boolean),
			updated_at        = NOW()
		WHERE wager_id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, acceptorID, acceptorAddress, opponentPosition, acceptRef, simulated)
	if err != nil {
		return false, fmt.Errorf("postgres: mark wager %s active: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCancelled flips an open wager to cancelled, recording the actor and
// timestamp in the metadata bag.
func (s *WagerStore) MarkCancelled(ctx context.Context, id, cancelledBy string, at time.Time) (bool, error) {
	const query = `
		UPDATE wagers SET
			status     = 'cancelled',
			meta       = meta || jsonb_build_object('cancelled_by', $2::text, 'cancelled_at', $3::text),
			updated_at = NOW()
		WHERE wager_id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, cancelledBy, at.UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("postgres: mark wager %s cancelled: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimProcessing atomically takes the exclusive right to settle the wager.
func (s *WagerStore) ClaimProcessing(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE wagers SET
			resolution_status = 'processing',
			updated_at        = NOW()
		WHERE wager_id = $1
		  AND resolution_status = 'none'
		  AND status IN ('open', 'active', 'cancelled')
		  AND NOT expiry_processed
		  AND NOT refund_processed`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim wager %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseProcessing reverts a held claim after a retryable failure.
func (s *WagerStore) ReleaseProcessing(ctx context.Context, id string) error {
	const query = `
		UPDATE wagers SET
			resolution_status = 'none',
			updated_at        = NOW()
		WHERE wager_id = $1 AND resolution_status = 'processing'`

	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("postgres: release wager %s: %w", id, err)
	}
	return nil
}

// MarkResolved applies the terminal settlement write under the held claim.
func (s *WagerStore) MarkResolved(ctx context.Context, rec domain.SettlementRecord) (bool, error) {
	const query = `
		UPDATE wagers SET
			status            = 'resolved',
			resolution_status = 'completed',
			expiry_processed  = TRUE,
			winner_id         = $2,
			winner_position   = $3,
			resolution_value  = $4,
			is_draw           = $5,
			settlement_ref    = $6,
			simulated         = $7,
			payout            = $8,
			platform_fee      = $9,
			network_fee       = $10,
			resolved_at       = $11,
			updated_at        = NOW()
		WHERE wager_id = $1 AND resolution_status = 'processing'`

	tag, err := s.pool.Exec(ctx, query,
		rec.WagerID, rec.WinnerID, rec.WinnerPosition, rec.ResolutionValue,
		rec.IsDraw, rec.SettlementRef, rec.Simulated,
		rec.Payout, rec.PlatformFee, rec.NetworkFee, rec.ResolvedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: mark wager %s resolved: %w", rec.WagerID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRefunded completes the refund path under the held claim. A wager still
// open at this point (manually expired before the coarse freeze touched it)
// is frozen to cancelled in the same write, so a refunded record is always
// terminal.
func (s *WagerStore) MarkRefunded(ctx context.Context, id, refundRef string, simulated bool) (bool, error) {
	const query = `
		UPDATE wagers SET
			status            = 'cancelled',
			refund_processed  = TRUE,
			resolution_status = 'completed',
			refund_ref        = $2,
			simulated         = $3,
			updated_at        = NOW()
		WHERE wager_id = $1 AND resolution_status = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, refundRef, simulated)
	if err != nil {
		return false, fmt.Errorf("postgres: mark wager %s refunded: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetRefundProcessed is the externally-driven idempotency flag setter. It
// applies the same open-to-cancelled freeze as MarkRefunded so the flag never
// lands on a non-terminal record.
func (s *WagerStore) SetRefundProcessed(ctx context.Context, id, refundRef string) (bool, error) {
	const query = `
		UPDATE wagers SET
			status            = CASE WHEN status = 'open' THEN 'cancelled' ELSE status END,
			refund_processed  = TRUE,
			resolution_status = 'completed',
			refund_ref        = $2,
			updated_at        = NOW()
		WHERE wager_id = $1 AND NOT refund_processed`

	tag, err := s.pool.Exec(ctx, query, id, refundRef)
	if err != nil {
		return false, fmt.Errorf("postgres: set refund processed %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpiryProcessed excludes a handled wager from future sweeps.
func (s *WagerStore) MarkExpiryProcessed(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE wagers SET
			expiry_processed = TRUE,
			updated_at       = NOW()
		WHERE wager_id = $1 AND NOT expiry_processed`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("postgres: mark expiry processed %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// FreezeExpired bulk-flips live wagers past the deadline to cancelled and
// returns them. The previous status is preserved in the metadata bag so the
// dispatch pass can tell matched from unmatched.
func (s *WagerStore) FreezeExpired(ctx context.Context, now time.Time) ([]domain.Wager, error) {
	query := `
		UPDATE wagers SET
			status     = 'cancelled',
			meta       = meta || jsonb_build_object('frozen_from', status),
			updated_at = NOW()
		WHERE status IN ('open', 'active')
		  AND deadline < $1
		  AND NOT expiry_processed
		  AND NOT refund_processed
		RETURNING ` + wagerSelectCols

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: freeze expired wagers: %w", err)
	}

	wagers, err := collectWagers(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan frozen wagers: %w", err)
	}
	return wagers, nil
}

// ListFrozenUnprocessed returns cancelled wagers still awaiting their
// expiry/refund bookkeeping and not currently claimed.
func (s *WagerStore) ListFrozenUnprocessed(ctx context.Context, limit int) ([]domain.Wager, error) {
	query := `
		SELECT ` + wagerSelectCols + ` FROM wagers
		WHERE status = 'cancelled'
		  AND NOT expiry_processed
		  AND NOT refund_processed
		  AND resolution_status = 'none'
		ORDER BY deadline ASC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list frozen wagers: %w", err)
	}

	wagers, err := collectWagers(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan frozen wagers: %w", err)
	}
	return wagers, nil
}

// ListExpiringCrypto returns unclaimed active crypto wagers whose deadline
// falls inside [from, to].
func (s *WagerStore) ListExpiringCrypto(ctx context.Context, from, to time.Time) ([]domain.Wager, error) {
	query := `
		SELECT ` + wagerSelectCols + ` FROM wagers
		WHERE kind = 'crypto'
		  AND status = 'active'
		  AND acceptor_id <> ''
		  AND resolution_status = 'none'
		  AND deadline BETWEEN $1 AND $2
		ORDER BY deadline ASC`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expiring crypto wagers: %w", err)
	}

	wagers, err := collectWagers(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expiring wagers: %w", err)
	}
	return wagers, nil
}

// ListArchivable returns unarchived fully-settled wagers last touched before
// the cutoff.
func (s *WagerStore) ListArchivable(ctx context.Context, before time.Time, limit int) ([]domain.Wager, error) {
	query := `
		SELECT ` + wagerSelectCols + ` FROM wagers
		WHERE NOT archived
		  AND (status = 'resolved' OR expiry_processed OR refund_processed)
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list archivable wagers: %w", err)
	}

	wagers, err := collectWagers(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan archivable wagers: %w", err)
	}
	return wagers, nil
}

// MarkArchived flags the given wagers after a successful blob write.
func (s *WagerStore) MarkArchived(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE wagers SET archived = TRUE, updated_at = NOW() WHERE wager_id = ANY($1)`,
		ids,
	); err != nil {
		return fmt.Errorf("postgres: mark archived: %w", err)
	}
	return nil
}

// StatusCounts returns the number of wagers per status.
func (s *WagerStore) StatusCounts(ctx context.Context) (map[domain.WagerStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM wagers GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.WagerStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan status counts: %w", err)
		}
		counts[domain.WagerStatus(status)] = n
	}
	return counts, rows.Err()
}

// Compile-time interface check.
var _ domain.WagerStore = (*WagerStore)(nil)
