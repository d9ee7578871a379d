// Package gateway implements the thin, timeout-bounded clients the core
// substrate uses to reach the two external collaborators named in
// spec.md §6: the read-only market catalog and the order-entry gateway.
// Both are advisory/transactional boundaries only — no trading logic
// lives here.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

// CatalogTimeout is the fixed per-call timeout for catalog requests
// (spec.md §5: "catalog 5 s").
const CatalogTimeout = 5 * time.Second

// CatalogClient is the market catalog of spec.md §6.1: GET
// /markets?closed=false&limit=N. Its response is discovery input only,
// never an authoritative price source.
type CatalogClient struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewCatalogClient builds a CatalogClient against baseURL. requestsPerSec
// bounds outbound request pacing; a value <= 0 disables limiting.
func NewCatalogClient(baseURL string, requestsPerSec float64) *CatalogClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(CatalogTimeout).
		SetRetryCount(0)

	var limiter *rate.Limiter
	if requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
	}
	return &CatalogClient{http: c, limiter: limiter}
}

// ListMarkets fetches up to limit open markets.
func (c *CatalogClient) ListMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, CatalogTimeout)
	defer cancel()

	var wire []catalogMarketWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("closed", "false").
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&wire).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("gateway: catalog: %w", err)
	}
	if err := checkStatus(resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	out := make([]domain.Market, 0, len(wire))
	for _, m := range wire {
		out = append(out, toDomainMarket(m))
	}
	return out, nil
}

func toDomainMarket(w catalogMarketWire) domain.Market {
	end, _ := time.Parse(time.RFC3339, w.EndDateISO)
	tokens := make([]domain.MarketToken, 0, len(w.Tokens))
	for _, t := range w.Tokens {
		tokens = append(tokens, domain.MarketToken{TokenID: t.TokenID, Outcome: t.Outcome})
	}
	return domain.Market{
		ID:       w.ID,
		Question: w.Question,
		EndDate:  end,
		Volume:   w.Volume,
		Tokens:   tokens,
	}
}

func checkStatus(status int, body string) error {
	switch status {
	case 200:
		return nil
	case 404:
		return domain.ErrNotFound
	case 401, 403:
		return domain.ErrUnauthorized
	case 429:
		return domain.ErrRateLimited
	default:
		if status >= 200 && status < 300 {
			return nil
		}
		return fmt.Errorf("gateway: http %d: %s", status, body)
	}
}
