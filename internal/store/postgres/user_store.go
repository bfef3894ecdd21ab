package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerforge/wagerd/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL. The worker reads
// user records for authorization and address lookups only.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, wallet_address, username, created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Username, &u.CreatedAt)
	return u, err
}

// GetByID retrieves a user by identity.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// GetByWallet retrieves a user by wallet address.
func (s *UserStore) GetByWallet(ctx context.Context, wallet string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE wallet_address = $1`, wallet)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by wallet %s: %w", wallet, err)
	}
	return u, nil
}

// UserStatsStore implements domain.UserStatsStore using PostgreSQL.
type UserStatsStore struct {
	pool *pgxpool.Pool
}

// NewUserStatsStore creates a UserStatsStore backed by the given pool.
func NewUserStatsStore(pool *pgxpool.Pool) *UserStatsStore {
	return &UserStatsStore{pool: pool}
}

// Get retrieves a wallet's aggregates.
func (s *UserStatsStore) Get(ctx context.Context, wallet string) (domain.UserStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT wallet_address, total_wagered, total_won, total_lost, win_rate, streak, updated_at
		FROM user_stats WHERE wallet_address = $1`, wallet)

	var st domain.UserStats
	err := row.Scan(&st.WalletAddress, &st.TotalWagered, &st.TotalWon,
		&st.TotalLost, &st.WinRate, &st.Streak, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserStats{}, domain.ErrNotFound
		}
		return domain.UserStats{}, fmt.Errorf("postgres: get stats %s: %w", wallet, err)
	}
	return st, nil
}

// Upsert writes a wallet's aggregates, inserting on first touch.
func (s *UserStatsStore) Upsert(ctx context.Context, st domain.UserStats) error {
	const query = `
		INSERT INTO user_stats (
			wallet_address, total_wagered, total_won, total_lost, win_rate, streak, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (wallet_address) DO UPDATE SET
			total_wagered = EXCLUDED.total_wagered,
			total_won     = EXCLUDED.total_won,
			total_lost    = EXCLUDED.total_lost,
			win_rate      = EXCLUDED.win_rate,
			streak        = EXCLUDED.streak,
			updated_at    = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		st.WalletAddress, st.TotalWagered, st.TotalWon, st.TotalLost,
		st.WinRate, st.Streak, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert stats %s: %w", st.WalletAddress, err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.UserStore      = (*UserStore)(nil)
	_ domain.UserStatsStore = (*UserStatsStore)(nil)
)
