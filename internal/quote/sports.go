package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
)

// ResultClient fetches final sports fixture outcomes:
// GET {base}/results?sport=<s>&home=<h>&away=<a>
// -> {"completed": true, "winner": "<team>"} with winner "draw" on a tie.
type ResultClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewResultClient creates a ResultClient for the given base URL.
func NewResultClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *ResultClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResultClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "result_feed")),
	}
}

type resultResponse struct {
	Completed bool   `json:"completed"`
	Winner    string `json:"winner"`
}

// ResultOf returns the winning team's name, or domain.ResultDraw for a tie.
// An incomplete fixture surfaces as ErrResultUnavailable so the wager stays
// eligible for retry.
func (c *ResultClient) ResultOf(ctx context.Context, sport, homeTeam, awayTeam string) (string, error) {
	q := url.Values{}
	q.Set("sport", sport)
	q.Set("home", homeTeam)
	q.Set("away", awayTeam)

	u := fmt.Sprintf("%s/results?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", domain.ErrResultUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s vs %s: %v", domain.ErrResultUnavailable, sport, homeTeam, awayTeam, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrResultUnavailable, resp.StatusCode, string(body))
	}

	var payload resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrResultUnavailable, err)
	}

	if !payload.Completed {
		return "", fmt.Errorf("%w: fixture %s vs %s not completed", domain.ErrResultUnavailable, homeTeam, awayTeam)
	}

	winner := strings.TrimSpace(payload.Winner)
	if winner == "" {
		return "", fmt.Errorf("%w: fixture completed without winner", domain.ErrResultUnavailable)
	}
	if strings.EqualFold(winner, domain.ResultDraw) || strings.EqualFold(winner, "tie") {
		return domain.ResultDraw, nil
	}

	c.logger.DebugContext(ctx, "result fetched",
		slog.String("sport", sport),
		slog.String("winner", winner),
	)
	return winner, nil
}

// Compile-time interface check.
var _ domain.ResultSource = (*ResultClient)(nil)
