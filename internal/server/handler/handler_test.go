package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wagerforge/wagerd/internal/domain"
	"github.com/wagerforge/wagerd/internal/engine"
	"github.com/wagerforge/wagerd/internal/fees"
)

type fakeWagerService struct {
	createErr  error
	acceptErr  error
	resolveErr error
	cancelErr  error

	resolvedKind domain.WagerKind
	resolveRes   engine.SettleResult
}

func (f *fakeWagerService) CreateWager(_ context.Context, in engine.CreateWagerInput) (domain.Wager, error) {
	if f.createErr != nil {
		return domain.Wager{}, f.createErr
	}
	return domain.Wager{ID: "w1", Kind: in.Kind, Status: domain.WagerStatusOpen}, nil
}

func (f *fakeWagerService) AcceptWager(context.Context, string, string) (engine.AcceptResult, error) {
	if f.acceptErr != nil {
		return engine.AcceptResult{}, f.acceptErr
	}
	return engine.AcceptResult{WagerID: "w1", Status: domain.WagerStatusActive, Ref: "0xsig"}, nil
}

func (f *fakeWagerService) ResolveWager(_ context.Context, _ string, kind domain.WagerKind) (engine.SettleResult, error) {
	f.resolvedKind = kind
	if f.resolveErr != nil {
		return engine.SettleResult{}, f.resolveErr
	}
	return f.resolveRes, nil
}

func (f *fakeWagerService) CancelWager(context.Context, string, string) error {
	return f.cancelErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("response not JSON: %v\nbody: %s", err, rec.Body.String())
		}
	}
	return rec, parsed
}

func TestCreateWager(t *testing.T) {
	h := NewWagerHandler(&fakeWagerService{}, testLogger())

	rec, body := doJSON(t, h.CreateWager, http.MethodPost, "/create-wager",
		`{"wager_type":"crypto","wager_data":{"creator_id":"alice","amount":10,"token_symbol":"BTC","direction":"above","target_price":100,"deadline":"2030-01-01T00:00:00Z"}}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	if body["wager_id"] != "w1" || body["status"] != "open" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateWagerBadType(t *testing.T) {
	h := NewWagerHandler(&fakeWagerService{}, testLogger())

	rec, _ := doJSON(t, h.CreateWager, http.MethodPost, "/create-wager",
		`{"wager_type":"coinflip","wager_data":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAcceptWager(t *testing.T) {
	h := NewWagerHandler(&fakeWagerService{}, testLogger())

	rec, body := doJSON(t, h.AcceptWager, http.MethodPost, "/accept-wager",
		`{"wager_id":"w1","wager_type":"crypto","acceptor_id":"bob"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "active" || body["on_chain_signature"] != "0xsig" {
		t.Errorf("body = %v", body)
	}
}

func TestResolveCryptoWagerPassesKind(t *testing.T) {
	svc := &fakeWagerService{resolveRes: engine.SettleResult{
		WagerID: "w1", Outcome: fees.OutcomeWin,
		WinnerID: "alice", WinnerPosition: "above", ResolutionValue: "105",
		Ref: "0xsig",
		Breakdown: fees.Breakdown{WinnerPayout: 19.19},
	}}
	h := NewWagerHandler(svc, testLogger())

	rec, body := doJSON(t, h.ResolveCryptoWager, http.MethodPost, "/resolve-crypto-wager",
		`{"wager_id":"w1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.resolvedKind != domain.WagerKindCrypto {
		t.Errorf("kind = %q, want crypto", svc.resolvedKind)
	}
	if body["winner"] != "alice" || body["resolution_value"] != "105" {
		t.Errorf("body = %v", body)
	}
}

func TestResolveSportsWagerDraw(t *testing.T) {
	svc := &fakeWagerService{resolveRes: engine.SettleResult{
		WagerID: "w1", Outcome: fees.OutcomeDraw,
		IsDraw: true, ResolutionValue: "draw", Ref: "0xsig",
		Breakdown: fees.Breakdown{PerSideRefund: 9.995},
	}}
	h := NewWagerHandler(svc, testLogger())

	rec, body := doJSON(t, h.ResolveSportsWager, http.MethodPost, "/resolve-sports-wager",
		`{"wager_id":"w1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["is_draw"] != true {
		t.Errorf("body = %v", body)
	}
	if _, hasWinner := body["winner"]; hasWinner {
		t.Error("draw response must not name a winner")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidState, http.StatusConflict},
		{domain.ErrAlreadyProcessed, http.StatusConflict},
		{domain.ErrInvalidParticipant, http.StatusForbidden},
		{domain.ErrQuoteUnavailable, http.StatusBadGateway},
		{domain.ErrResultUnavailable, http.StatusBadGateway},
		{domain.ErrExecutor, http.StatusBadGateway},
		{domain.ErrStore, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", domain.ErrNotFound), http.StatusNotFound},
	}

	for _, tc := range cases {
		if got := errorStatus(tc.err); got != tc.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestResolveWagerErrorSurface(t *testing.T) {
	svc := &fakeWagerService{resolveErr: fmt.Errorf("%w: feed down", domain.ErrQuoteUnavailable)}
	h := NewWagerHandler(svc, testLogger())

	rec, body := doJSON(t, h.ResolveCryptoWager, http.MethodPost, "/resolve-crypto-wager",
		`{"wager_id":"w1"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if body["error"] == "" {
		t.Error("missing error message")
	}
}

type fakeSweepService struct {
	handleRes engine.SettleResult
	handleErr error
	report    engine.SweepReport
	markErr   error
}

func (f *fakeSweepService) HandleExpired(context.Context, string, domain.WagerKind) (engine.SettleResult, error) {
	return f.handleRes, f.handleErr
}

func (f *fakeSweepService) RunExpirySweep(context.Context, int) (engine.SweepReport, error) {
	return f.report, nil
}

func (f *fakeSweepService) MarkRefundProcessed(context.Context, string, string) error {
	return f.markErr
}

func TestProcessCancelled(t *testing.T) {
	svc := &fakeSweepService{report: engine.SweepReport{Frozen: 2, Resolved: 1, Refunded: 1}}
	h := NewSweepHandler(svc, 100, testLogger())

	rec, body := doJSON(t, h.ProcessCancelled, http.MethodPost, "/process-cancelled-wagers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["frozen"] != float64(2) || body["resolved"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func TestMarkRefundProcessedConflict(t *testing.T) {
	svc := &fakeSweepService{markErr: fmt.Errorf("%w: already recorded", domain.ErrAlreadyProcessed)}
	h := NewSweepHandler(svc, 100, testLogger())

	rec, _ := doJSON(t, h.MarkRefundProcessed, http.MethodPost, "/mark-refund-processed",
		`{"wager_id":"w1","refund_signature":"0xsig"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleExpiredRequiresWagerID(t *testing.T) {
	h := NewSweepHandler(&fakeSweepService{}, 100, testLogger())

	rec, _ := doJSON(t, h.HandleExpired, http.MethodPost, "/handle-expired-wager", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
