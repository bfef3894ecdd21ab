package stats

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/wagerforge/wagerd/internal/domain"
)

type fakeStatsStore struct {
	byWallet map[string]domain.UserStats
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{byWallet: make(map[string]domain.UserStats)}
}

func (f *fakeStatsStore) Get(_ context.Context, wallet string) (domain.UserStats, error) {
	s, ok := f.byWallet[wallet]
	if !ok {
		return domain.UserStats{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeStatsStore) Upsert(_ context.Context, s domain.UserStats) error {
	f.byWallet[s.WalletAddress] = s
	return nil
}

func testAccumulator(store domain.UserStatsStore) *Accumulator {
	return NewAccumulator(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordAcceptance(t *testing.T) {
	store := newFakeStatsStore()
	acc := testAccumulator(store)

	if err := acc.RecordAcceptance(context.Background(), "0xaaa", "0xbbb", 2.5); err != nil {
		t.Fatalf("RecordAcceptance: %v", err)
	}

	for _, wallet := range []string{"0xaaa", "0xbbb"} {
		s := store.byWallet[wallet]
		if s.TotalWagered != 2.5 {
			t.Errorf("%s TotalWagered = %v, want 2.5", wallet, s.TotalWagered)
		}
		if s.Streak != 0 || s.TotalWon != 0 || s.TotalLost != 0 {
			t.Errorf("%s acceptance touched outcome fields: %+v", wallet, s)
		}
	}
}

func TestRecordSettlement(t *testing.T) {
	store := newFakeStatsStore()
	store.byWallet["0xwin"] = domain.UserStats{WalletAddress: "0xwin", Streak: 2, TotalWon: 3}
	store.byWallet["0xlose"] = domain.UserStats{WalletAddress: "0xlose", Streak: 5}
	acc := testAccumulator(store)

	if err := acc.RecordSettlement(context.Background(), "0xwin", "0xlose", 1.0); err != nil {
		t.Fatalf("RecordSettlement: %v", err)
	}

	winner := store.byWallet["0xwin"]
	if winner.TotalWon != 4 {
		t.Errorf("winner TotalWon = %v, want 4", winner.TotalWon)
	}
	if winner.Streak != 3 {
		t.Errorf("winner Streak = %d, want 3", winner.Streak)
	}
	if winner.WinRate != 100 {
		t.Errorf("winner WinRate = %v, want 100", winner.WinRate)
	}

	loser := store.byWallet["0xlose"]
	if loser.TotalLost != 1 {
		t.Errorf("loser TotalLost = %v, want 1", loser.TotalLost)
	}
	if loser.Streak != 0 {
		t.Errorf("loser Streak = %d, want 0", loser.Streak)
	}
	if loser.WinRate != 0 {
		t.Errorf("loser WinRate = %v, want 0", loser.WinRate)
	}
}

func TestRecordSettlement_NewWallets(t *testing.T) {
	store := newFakeStatsStore()
	acc := testAccumulator(store)

	if err := acc.RecordSettlement(context.Background(), "0x1", "0x2", 0.5); err != nil {
		t.Fatalf("RecordSettlement: %v", err)
	}

	if got := store.byWallet["0x1"].TotalWon; got != 0.5 {
		t.Errorf("new winner TotalWon = %v, want 0.5", got)
	}
	if got := store.byWallet["0x2"].TotalLost; got != 0.5 {
		t.Errorf("new loser TotalLost = %v, want 0.5", got)
	}
}

func TestWinRate(t *testing.T) {
	tests := []struct {
		won, lost, want float64
	}{
		{0, 0, 0},
		{1, 0, 100},
		{0, 1, 0},
		{1, 1, 50},
		{3, 1, 75},
	}
	for _, tt := range tests {
		if got := winRate(tt.won, tt.lost); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("winRate(%v, %v) = %v, want %v", tt.won, tt.lost, got, tt.want)
		}
	}
}
