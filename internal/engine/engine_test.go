package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/fees"
	"github.com/wagerforge/wagerd/internal/stats"
)

// memWagerStore is an in-memory WagerStore with the same conditional-write
// semantics as the Postgres implementation.
type memWagerStore struct {
	mu     sync.Mutex
	rows   map[string]*domain.Wager
	nextID int64
}

func newMemWagerStore() *memWagerStore {
	return &memWagerStore{rows: make(map[string]*domain.Wager)}
}

func (s *memWagerStore) put(w domain.Wager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.Meta == nil {
		w.Meta = map[string]any{}
	}
	if w.ResolutionStatus == "" {
		w.ResolutionStatus = domain.ResolutionNone
	}
	s.nextID++
	w.RowID = s.nextID
	s.rows[w.ID] = &w
}

func (s *memWagerStore) get(id string) domain.Wager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memWagerStore) Create(_ context.Context, w domain.Wager) (domain.Wager, error) {
	s.put(w)
	return s.get(w.ID), nil
}

func (s *memWagerStore) GetByID(_ context.Context, id string) (domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok {
		return domain.Wager{}, domain.ErrNotFound
	}
	return *w, nil
}

func (s *memWagerStore) MarkActive(_ context.Context, id, acceptorID, acceptorAddress, opponentPosition, acceptRef string, simulated bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok || w.Status != domain.WagerStatusOpen {
		return false, nil
	}
	w.Status = domain.WagerStatusActive
	w.AcceptorID = acceptorID
	w.AcceptorAddress = acceptorAddress
	w.OpponentPosition = opponentPosition
	w.Meta["accept_ref"] = acceptRef
	w.Meta["accept_simulated"] = simulated
	return true, nil
}

func (s *memWagerStore) MarkCancelled(_ context.Context, id, cancelledBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok || w.Status != domain.WagerStatusOpen {
		return false, nil
	}
	w.Status = domain.WagerStatusCancelled
	w.Meta["cancelled_by"] = cancelledBy
	w.Meta["cancelled_at"] = at.UTC().Format(time.RFC3339)
	return true, nil
}

func (s *memWagerStore) ClaimProcessing(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	live := w.Status == domain.WagerStatusOpen ||
		w.Status == domain.WagerStatusActive ||
		w.Status == domain.WagerStatusCancelled
	if w.ResolutionStatus != domain.ResolutionNone || !live || w.ExpiryProcessed || w.RefundProcessed {
		return false, nil
	}
	w.ResolutionStatus = domain.ResolutionProcessing
	return true, nil
}

func (s *memWagerStore) ReleaseProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.rows[id]; ok && w.ResolutionStatus == domain.ResolutionProcessing {
		w.ResolutionStatus = domain.ResolutionNone
	}
	return nil
}

func (s *memWagerStore) MarkResolved(_ context.Context, rec domain.SettlementRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[rec.WagerID]
	if !ok || w.ResolutionStatus != domain.ResolutionProcessing {
		return false, nil
	}
	w.Status = domain.WagerStatusResolved
	w.ResolutionStatus = domain.ResolutionCompleted
	w.ExpiryProcessed = true
	w.WinnerID = rec.WinnerID
	w.WinnerPosition = rec.WinnerPosition
	w.ResolutionValue = rec.ResolutionValue
	w.IsDraw = rec.IsDraw
	w.SettlementRef = rec.SettlementRef
	w.Simulated = rec.Simulated
	w.Payout = rec.Payout
	w.PlatformFee = rec.PlatformFee
	w.NetworkFee = rec.NetworkFee
	at := rec.ResolvedAt
	w.ResolvedAt = &at
	return true, nil
}

func (s *memWagerStore) MarkRefunded(_ context.Context, id, refundRef string, simulated bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok || w.ResolutionStatus != domain.ResolutionProcessing {
		return false, nil
	}
	w.Status = domain.WagerStatusCancelled
	w.RefundProcessed = true
	w.ResolutionStatus = domain.ResolutionCompleted
	w.RefundRef = refundRef
	w.Simulated = simulated
	return true, nil
}

func (s *memWagerStore) SetRefundProcessed(_ context.Context, id, refundRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok || w.RefundProcessed {
		return false, nil
	}
	if w.Status == domain.WagerStatusOpen {
		w.Status = domain.WagerStatusCancelled
	}
	w.RefundProcessed = true
	w.ResolutionStatus = domain.ResolutionCompleted
	w.RefundRef = refundRef
	return true, nil
}

func (s *memWagerStore) MarkExpiryProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[id]
	if !ok || w.ExpiryProcessed {
		return false, nil
	}
	w.ExpiryProcessed = true
	return true, nil
}

func (s *memWagerStore) FreezeExpired(_ context.Context, now time.Time) ([]domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wager
	for _, w := range s.rows {
		live := w.Status == domain.WagerStatusOpen || w.Status == domain.WagerStatusActive
		if live && w.Deadline.Before(now) && !w.ExpiryProcessed && !w.RefundProcessed {
			w.Meta["frozen_from"] = string(w.Status)
			w.Status = domain.WagerStatusCancelled
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *memWagerStore) ListFrozenUnprocessed(_ context.Context, limit int) ([]domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wager
	for _, w := range s.rows {
		if w.Status == domain.WagerStatusCancelled &&
			!w.ExpiryProcessed && !w.RefundProcessed &&
			w.ResolutionStatus == domain.ResolutionNone {
			out = append(out, *w)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memWagerStore) ListExpiringCrypto(_ context.Context, from, to time.Time) ([]domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wager
	for _, w := range s.rows {
		if w.Kind == domain.WagerKindCrypto &&
			w.Status == domain.WagerStatusActive &&
			w.AcceptorID != "" &&
			w.ResolutionStatus == domain.ResolutionNone &&
			!w.Deadline.Before(from) && !w.Deadline.After(to) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *memWagerStore) ListArchivable(context.Context, time.Time, int) ([]domain.Wager, error) {
	return nil, nil
}

func (s *memWagerStore) MarkArchived(context.Context, []string) error { return nil }

func (s *memWagerStore) StatusCounts(context.Context) (map[domain.WagerStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.WagerStatus]int64)
	for _, w := range s.rows {
		counts[w.Status]++
	}
	return counts, nil
}

type memUserStore struct {
	users map[string]domain.User
}

func (s *memUserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *memUserStore) GetByWallet(_ context.Context, wallet string) (domain.User, error) {
	for _, u := range s.users {
		if u.WalletAddress == wallet {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

type memStatsStore struct {
	mu       sync.Mutex
	byWallet map[string]domain.UserStats
}

func (s *memStatsStore) Get(_ context.Context, wallet string) (domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byWallet[wallet]
	if !ok {
		return domain.UserStats{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *memStatsStore) Upsert(_ context.Context, st domain.UserStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWallet[st.WalletAddress] = st
	return nil
}

// fakeExecutor records every instruction and returns sequential refs.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []domain.Instruction
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, ins domain.Instruction) (domain.ExecutorResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ExecutorResult{}, f.err
	}
	f.calls = append(f.calls, ins)
	return domain.ExecutorResult{Ref: fmt.Sprintf("ref-%d", len(f.calls))}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeQuotes struct {
	price float64
	err   error
}

func (f fakeQuotes) PriceOf(context.Context, string) (float64, error) {
	return f.price, f.err
}

type fakeResults struct {
	result string
	err    error
}

func (f fakeResults) ResultOf(context.Context, string, string, string) (string, error) {
	return f.result, f.err
}

type testRig struct {
	engine   *Engine
	store    *memWagerStore
	executor *fakeExecutor
	stats    *memStatsStore
}

func newTestRig(quotes domain.QuoteSource, results domain.ResultSource) *testRig {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemWagerStore()
	exec := &fakeExecutor{}
	statsStore := &memStatsStore{byWallet: make(map[string]domain.UserStats)}
	users := &memUserStore{users: map[string]domain.User{
		"alice": {ID: "alice", WalletAddress: "0xalice"},
		"bob":   {ID: "bob", WalletAddress: "0xbob"},
	}}

	e := New(Deps{
		Wagers:   store,
		Users:    users,
		Stats:    stats.NewAccumulator(statsStore, logger),
		Executor: exec,
		Quotes:   quotes,
		Results:  results,
		Fees:     fees.NewCalculator(400, 0.01),
		Logger:   logger,
	})
	return &testRig{engine: e, store: store, executor: exec, stats: statsStore}
}

func activeCryptoWager(id, direction string, target float64) domain.Wager {
	opp := domain.DirectionBelow
	if direction == domain.DirectionBelow {
		opp = domain.DirectionAbove
	}
	return domain.Wager{
		ID: id, Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		AcceptorID: "bob", AcceptorAddress: "0xbob",
		Amount: 10, Status: domain.WagerStatusActive,
		CreatorPosition: direction, OpponentPosition: opp,
		TokenSymbol: "BTC", Direction: direction, TargetPrice: target,
		Deadline: time.Now().Add(time.Hour),
	}
}

func activeSportsWager(id string) domain.Wager {
	return domain.Wager{
		ID: id, Kind: domain.WagerKindSports,
		CreatorID: "alice", CreatorAddress: "0xalice",
		AcceptorID: "bob", AcceptorAddress: "0xbob",
		Amount: 10, Status: domain.WagerStatusActive,
		CreatorPosition: "Lakers", OpponentPosition: "Celtics",
		Sport: "nba", HomeTeam: "Lakers", AwayTeam: "Celtics",
		Deadline: time.Now().Add(time.Hour),
	}
}

func TestResolveWagerCryptoCreatorWins(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)
	rig.store.put(activeCryptoWager("w1", domain.DirectionAbove, 100))

	res, err := rig.engine.ResolveWager(context.Background(), "w1", domain.WagerKindCrypto)
	if err != nil {
		t.Fatalf("ResolveWager: %v", err)
	}
	if res.WinnerID != "alice" {
		t.Errorf("winner = %q, want alice", res.WinnerID)
	}
	if res.ResolutionValue != "105" {
		t.Errorf("resolution value = %q, want 105", res.ResolutionValue)
	}

	w := rig.store.get("w1")
	if w.Status != domain.WagerStatusResolved {
		t.Errorf("status = %q, want resolved", w.Status)
	}
	if w.ResolutionStatus != domain.ResolutionCompleted {
		t.Errorf("resolution status = %q, want completed", w.ResolutionStatus)
	}

	// winnerPayout + platformFee + networkFee == 2a
	total := w.Payout + w.PlatformFee + w.NetworkFee
	if math.Abs(total-20) > 1e-9 {
		t.Errorf("payout conservation broken: %v != 20", total)
	}

	winner := rig.stats.byWallet["0xalice"]
	loser := rig.stats.byWallet["0xbob"]
	if winner.TotalWon != 10 || winner.Streak != 1 {
		t.Errorf("winner stats = %+v", winner)
	}
	if loser.TotalLost != 10 || loser.Streak != 0 {
		t.Errorf("loser stats = %+v", loser)
	}
}

func TestResolveWagerCryptoBelowAcceptorWins(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 110}, nil)
	rig.store.put(activeCryptoWager("w1", domain.DirectionBelow, 100))

	res, err := rig.engine.ResolveWager(context.Background(), "w1", domain.WagerKindCrypto)
	if err != nil {
		t.Fatalf("ResolveWager: %v", err)
	}
	if res.WinnerID != "bob" {
		t.Errorf("winner = %q, want bob", res.WinnerID)
	}
	if res.WinnerPosition != domain.DirectionAbove {
		t.Errorf("winner position = %q, want above", res.WinnerPosition)
	}
}

func TestResolveWagerIdempotentOnResolved(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)
	rig.store.put(activeCryptoWager("w1", domain.DirectionAbove, 100))

	if _, err := rig.engine.ResolveWager(context.Background(), "w1", ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	res, err := rig.engine.ResolveWager(context.Background(), "w1", "")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !res.NoOp {
		t.Error("second resolve should be a no-op")
	}
	if got := rig.executor.callCount(); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}
}

func TestResolveWagerAtMostOnceUnderConcurrency(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)
	rig.store.put(activeCryptoWager("w1", domain.DirectionAbove, 100))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rig.engine.ResolveWager(context.Background(), "w1", "")
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrAlreadyProcessed):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
	if lost != n-1 {
		t.Errorf("losers = %d, want %d", lost, n-1)
	}
	if got := rig.executor.callCount(); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}
}

func TestResolveWagerNotActive(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)
	w := activeCryptoWager("w1", domain.DirectionAbove, 100)
	w.Status = domain.WagerStatusOpen
	w.AcceptorID = ""
	rig.store.put(w)

	_, err := rig.engine.ResolveWager(context.Background(), "w1", "")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestResolveWagerQuoteUnavailableReleasesClaim(t *testing.T) {
	rig := newTestRig(fakeQuotes{err: fmt.Errorf("%w: feed down", domain.ErrQuoteUnavailable)}, nil)
	rig.store.put(activeCryptoWager("w1", domain.DirectionAbove, 100))

	_, err := rig.engine.ResolveWager(context.Background(), "w1", "")
	if !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}

	w := rig.store.get("w1")
	if w.Status != domain.WagerStatusActive {
		t.Errorf("status = %q, want active", w.Status)
	}
	if w.ResolutionStatus != domain.ResolutionNone {
		t.Errorf("claim not released: %q", w.ResolutionStatus)
	}
	if rig.executor.callCount() != 0 {
		t.Error("executor should not have been called")
	}
}

func TestResolveWagerExecutorFailureReleasesClaim(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)
	rig.executor.err = fmt.Errorf("%w: rpc timeout", domain.ErrExecutor)
	rig.store.put(activeCryptoWager("w1", domain.DirectionAbove, 100))

	_, err := rig.engine.ResolveWager(context.Background(), "w1", "")
	if !errors.Is(err, domain.ErrExecutor) {
		t.Fatalf("err = %v, want ErrExecutor", err)
	}

	w := rig.store.get("w1")
	if w.Status != domain.WagerStatusActive || w.ResolutionStatus != domain.ResolutionNone {
		t.Errorf("wager not left retryable: status=%q resolution=%q", w.Status, w.ResolutionStatus)
	}
}

func TestResolveWagerSportsDraw(t *testing.T) {
	rig := newTestRig(nil, fakeResults{result: domain.ResultDraw})
	rig.store.put(activeSportsWager("w1"))

	res, err := rig.engine.ResolveWager(context.Background(), "w1", domain.WagerKindSports)
	if err != nil {
		t.Fatalf("ResolveWager: %v", err)
	}
	if !res.IsDraw || res.WinnerID != "" {
		t.Errorf("draw result = %+v", res)
	}
	// a - networkFee/2
	if want := 10 - 0.01/2; math.Abs(res.Breakdown.PerSideRefund-want) > 1e-9 {
		t.Errorf("per-side refund = %v, want %v", res.Breakdown.PerSideRefund, want)
	}

	if _, ok := rig.executor.calls[0].(domain.DrawInstruction); !ok {
		t.Errorf("instruction = %T, want DrawInstruction", rig.executor.calls[0])
	}
	if len(rig.stats.byWallet) != 0 {
		t.Error("draw must not touch win/loss stats")
	}
}

func TestResolveWagerSportsWinner(t *testing.T) {
	rig := newTestRig(nil, fakeResults{result: "Celtics"})
	rig.store.put(activeSportsWager("w1"))

	res, err := rig.engine.ResolveWager(context.Background(), "w1", domain.WagerKindSports)
	if err != nil {
		t.Fatalf("ResolveWager: %v", err)
	}
	if res.WinnerID != "bob" || res.WinnerPosition != "Celtics" {
		t.Errorf("winner = %q position = %q", res.WinnerID, res.WinnerPosition)
	}
}

func TestResolveWagerKindMismatch(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)
	rig.store.put(activeCryptoWager("w1", domain.DirectionAbove, 100))

	_, err := rig.engine.ResolveWager(context.Background(), "w1", domain.WagerKindSports)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHandleExpiredUnmatchedRefund(t *testing.T) {
	rig := newTestRig(nil, nil)
	w := domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusOpen,
		CreatorPosition: domain.DirectionAbove,
		TokenSymbol:     "BTC", Direction: domain.DirectionAbove, TargetPrice: 100,
		Deadline: time.Now().Add(-time.Minute),
	}
	rig.store.put(w)

	res, err := rig.engine.HandleExpired(context.Background(), "w1", "")
	if err != nil {
		t.Fatalf("HandleExpired: %v", err)
	}
	if res.Outcome != fees.OutcomeExpire {
		t.Errorf("outcome = %v, want expire", res.Outcome)
	}
	// a - networkFee
	if want := 10 - 0.01; math.Abs(res.Breakdown.PerSideRefund-want) > 1e-9 {
		t.Errorf("refund = %v, want %v", res.Breakdown.PerSideRefund, want)
	}
	if _, ok := rig.executor.calls[0].(domain.RefundInstruction); !ok {
		t.Errorf("instruction = %T, want RefundInstruction", rig.executor.calls[0])
	}

	got := rig.store.get("w1")
	if !got.RefundProcessed {
		t.Error("refund_processed not set")
	}
	pending, _ := rig.store.ListFrozenUnprocessed(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("refunded wager still swept: %d pending", len(pending))
	}
}

// A refund driven directly on a still-open wager (never frozen by the coarse
// sweep) must leave a terminal record: cancelled status, Terminal() true, and
// a repeat call is a no-op instead of a claim-conflict error.
func TestHandleExpiredOpenRefundTerminal(t *testing.T) {
	rig := newTestRig(nil, nil)
	w := domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusOpen,
		CreatorPosition: domain.DirectionAbove,
		TokenSymbol:     "BTC", Direction: domain.DirectionAbove, TargetPrice: 100,
		Deadline: time.Now().Add(-time.Minute),
	}
	rig.store.put(w)

	if _, err := rig.engine.HandleExpired(context.Background(), "w1", ""); err != nil {
		t.Fatalf("HandleExpired: %v", err)
	}

	got := rig.store.get("w1")
	if got.Status != domain.WagerStatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if !got.Terminal() {
		t.Error("refunded wager not terminal")
	}

	again, err := rig.engine.HandleExpired(context.Background(), "w1", "")
	if err != nil {
		t.Fatalf("repeat HandleExpired: %v", err)
	}
	if !again.NoOp {
		t.Errorf("repeat result = %+v, want no-op", again)
	}
	if n := len(rig.executor.calls); n != 1 {
		t.Errorf("executor calls = %d, want 1", n)
	}
}

func TestHandleExpiredMatchedResolves(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)
	w := activeCryptoWager("w1", domain.DirectionAbove, 100)
	w.Deadline = time.Now().Add(-time.Minute)
	rig.store.put(w)

	res, err := rig.engine.HandleExpired(context.Background(), "w1", "")
	if err != nil {
		t.Fatalf("HandleExpired: %v", err)
	}
	if res.Outcome != fees.OutcomeWin || res.WinnerID != "alice" {
		t.Errorf("result = %+v, want win for alice", res)
	}
	if got := rig.store.get("w1"); got.Status != domain.WagerStatusResolved {
		t.Errorf("status = %q, want resolved", got.Status)
	}
}

func TestHandleExpiredNotYetExpired(t *testing.T) {
	rig := newTestRig(nil, nil)
	w := activeCryptoWager("w1", domain.DirectionAbove, 100)
	rig.store.put(w)

	_, err := rig.engine.HandleExpired(context.Background(), "w1", "")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestRunExpirySweep(t *testing.T) {
	rig := newTestRig(fakeQuotes{price: 105}, nil)

	matched := activeCryptoWager("matched", domain.DirectionAbove, 100)
	matched.Deadline = time.Now().Add(-time.Minute)
	rig.store.put(matched)

	unmatched := domain.Wager{
		ID: "unmatched", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 5, Status: domain.WagerStatusOpen,
		CreatorPosition: domain.DirectionAbove,
		TokenSymbol:     "BTC", Direction: domain.DirectionAbove, TargetPrice: 100,
		Deadline: time.Now().Add(-time.Minute),
	}
	rig.store.put(unmatched)

	live := activeCryptoWager("live", domain.DirectionAbove, 100)
	rig.store.put(live)

	report, err := rig.engine.RunExpirySweep(context.Background(), 100)
	if err != nil {
		t.Fatalf("RunExpirySweep: %v", err)
	}
	if report.Frozen != 2 {
		t.Errorf("frozen = %d, want 2", report.Frozen)
	}
	if report.Resolved != 1 || report.Refunded != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if w := rig.store.get("live"); w.Status != domain.WagerStatusActive {
		t.Errorf("live wager touched: %q", w.Status)
	}
}

func TestAcceptWager(t *testing.T) {
	rig := newTestRig(nil, nil)
	rig.store.put(domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusOpen,
		CreatorPosition: domain.DirectionAbove,
		TokenSymbol:     "BTC", Direction: domain.DirectionAbove, TargetPrice: 100,
		Deadline: time.Now().Add(time.Hour),
	})

	res, err := rig.engine.AcceptWager(context.Background(), "w1", "bob")
	if err != nil {
		t.Fatalf("AcceptWager: %v", err)
	}
	if res.Status != domain.WagerStatusActive || res.Ref == "" {
		t.Errorf("result = %+v", res)
	}

	w := rig.store.get("w1")
	if w.AcceptorID != "bob" || w.OpponentPosition != domain.DirectionBelow {
		t.Errorf("acceptor fields = %q/%q", w.AcceptorID, w.OpponentPosition)
	}
	ins, ok := rig.executor.calls[0].(domain.AcceptInstruction)
	if !ok || ins.Amount != 10 {
		t.Errorf("instruction = %#v", rig.executor.calls[0])
	}

	if got := rig.stats.byWallet["0xalice"].TotalWagered; got != 10 {
		t.Errorf("creator wagered = %v, want 10", got)
	}
	if got := rig.stats.byWallet["0xbob"].TotalWagered; got != 10 {
		t.Errorf("acceptor wagered = %v, want 10", got)
	}
}

func TestAcceptWagerSelfMatch(t *testing.T) {
	rig := newTestRig(nil, nil)
	rig.store.put(domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusOpen,
		Deadline: time.Now().Add(time.Hour),
	})

	_, err := rig.engine.AcceptWager(context.Background(), "w1", "alice")
	if !errors.Is(err, domain.ErrInvalidParticipant) {
		t.Errorf("err = %v, want ErrInvalidParticipant", err)
	}
	if rig.executor.callCount() != 0 {
		t.Error("executor must not run for a self-match")
	}
}

func TestAcceptWagerNotOpen(t *testing.T) {
	rig := newTestRig(nil, nil)
	rig.store.put(activeCryptoWager("w1", domain.DirectionAbove, 100))

	_, err := rig.engine.AcceptWager(context.Background(), "w1", "bob")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestCancelWagerUnauthorized(t *testing.T) {
	rig := newTestRig(nil, nil)
	rig.store.put(domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusOpen,
		Deadline: time.Now().Add(time.Hour),
	})

	err := rig.engine.CancelWager(context.Background(), "w1", "0xmallory")
	if !errors.Is(err, domain.ErrInvalidParticipant) {
		t.Fatalf("err = %v, want ErrInvalidParticipant", err)
	}
	if w := rig.store.get("w1"); w.Status != domain.WagerStatusOpen {
		t.Errorf("status changed to %q", w.Status)
	}
}

func TestCancelWagerIdempotent(t *testing.T) {
	rig := newTestRig(nil, nil)
	rig.store.put(domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusOpen,
		Deadline: time.Now().Add(time.Hour),
	})

	if err := rig.engine.CancelWager(context.Background(), "w1", "0xALICE"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := rig.engine.CancelWager(context.Background(), "w1", "0xalice"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if w := rig.store.get("w1"); w.Status != domain.WagerStatusCancelled {
		t.Errorf("status = %q, want cancelled", w.Status)
	}
}

func TestCancelledWagerRefundOutcome(t *testing.T) {
	rig := newTestRig(nil, nil)
	rig.store.put(domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusOpen,
		Deadline: time.Now().Add(time.Hour),
	})

	if err := rig.engine.CancelWager(context.Background(), "w1", "0xalice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res, err := rig.engine.HandleExpired(context.Background(), "w1", "")
	if err != nil {
		t.Fatalf("HandleExpired: %v", err)
	}
	if res.Outcome != fees.OutcomeCancel {
		t.Errorf("outcome = %v, want cancel", res.Outcome)
	}
}

func TestMarkRefundProcessed(t *testing.T) {
	rig := newTestRig(nil, nil)
	rig.store.put(domain.Wager{
		ID: "w1", Kind: domain.WagerKindCrypto,
		CreatorID: "alice", CreatorAddress: "0xalice",
		Amount: 10, Status: domain.WagerStatusCancelled,
		Deadline: time.Now().Add(-time.Hour),
	})

	if err := rig.engine.MarkRefundProcessed(context.Background(), "w1", "0xsig"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := rig.engine.MarkRefundProcessed(context.Background(), "w1", "0xsig")
	if !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Errorf("err = %v, want ErrAlreadyProcessed", err)
	}
	if w := rig.store.get("w1"); w.RefundRef != "0xsig" {
		t.Errorf("refund ref = %q", w.RefundRef)
	}
}

func TestCreateWagerValidation(t *testing.T) {
	rig := newTestRig(nil, nil)
	future := time.Now().Add(time.Hour)

	cases := []struct {
		name string
		in   CreateWagerInput
		ok   bool
	}{
		{"valid crypto", CreateWagerInput{
			Kind: domain.WagerKindCrypto, CreatorID: "alice", CreatorAddress: "0xalice",
			Amount: 1, Deadline: future,
			TokenSymbol: "btc", Direction: domain.DirectionAbove, TargetPrice: 100,
		}, true},
		{"valid sports", CreateWagerInput{
			Kind: domain.WagerKindSports, CreatorID: "alice", CreatorAddress: "0xalice",
			Amount: 1, Deadline: future,
			Sport: "nba", HomeTeam: "Lakers", AwayTeam: "Celtics", PredictedTeam: "Lakers",
		}, true},
		{"zero amount", CreateWagerInput{
			Kind: domain.WagerKindCrypto, CreatorID: "alice",
			Amount: 0, Deadline: future,
			TokenSymbol: "btc", Direction: domain.DirectionAbove, TargetPrice: 100,
		}, false},
		{"past deadline", CreateWagerInput{
			Kind: domain.WagerKindCrypto, CreatorID: "alice",
			Amount: 1, Deadline: time.Now().Add(-time.Hour),
			TokenSymbol: "btc", Direction: domain.DirectionAbove, TargetPrice: 100,
		}, false},
		{"bad direction", CreateWagerInput{
			Kind: domain.WagerKindCrypto, CreatorID: "alice",
			Amount: 1, Deadline: future,
			TokenSymbol: "btc", Direction: "sideways", TargetPrice: 100,
		}, false},
		{"predicted team not playing", CreateWagerInput{
			Kind: domain.WagerKindSports, CreatorID: "alice",
			Amount: 1, Deadline: future,
			Sport: "nba", HomeTeam: "Lakers", AwayTeam: "Celtics", PredictedTeam: "Knicks",
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := rig.engine.CreateWager(context.Background(), tc.in)
			if tc.ok {
				if err != nil {
					t.Fatalf("CreateWager: %v", err)
				}
				if w.ID == "" || w.Status != domain.WagerStatusOpen {
					t.Errorf("created = %+v", w)
				}
				if tc.in.Kind == domain.WagerKindCrypto && w.TokenSymbol != "BTC" {
					t.Errorf("token symbol = %q, want BTC", w.TokenSymbol)
				}
			} else if err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
