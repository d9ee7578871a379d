package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polymarketbot/internal/crypto"
	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

// OrderTimeout is the fixed per-call timeout for order submission
// (spec.md §5: "order submission 3 s").
const OrderTimeout = 3 * time.Second

// OrderGateway is the order-entry gateway of spec.md §6.2: submit and
// cancel. The core is agnostic to how the gateway encodes or settles
// orders; this client only shapes the wire contract and authenticates
// each request.
type OrderGateway struct {
	http    *resty.Client
	limiter *rate.Limiter
	hmac    *crypto.HMACAuth
	address string
}

// NewOrderGateway builds an OrderGateway against baseURL, authenticating
// every request with hmac on behalf of walletAddress.
func NewOrderGateway(baseURL string, hmac *crypto.HMACAuth, walletAddress string, requestsPerSec float64) *OrderGateway {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(OrderTimeout).
		SetRetryCount(0)

	var limiter *rate.Limiter
	if requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
	}
	return &OrderGateway{http: c, limiter: limiter, hmac: hmac, address: walletAddress}
}

// Submit places order and returns the gateway's fill outcome. Retrying a
// TEMPORARY-REJECTED response up to 3 times with jittered backoff is the
// ArbitrageAgent's concern (spec.md §6.2), not this client's: Submit makes
// exactly one attempt.
func (g *OrderGateway) Submit(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return domain.OrderResult{}, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, OrderTimeout)
	defer cancel()

	body := submitOrderWire{
		TokenID:        order.TokenID,
		Side:           string(order.Side),
		LimitPrice:     order.LimitPrice.String(),
		Size:           order.Size.String(),
		TimeInForce:    string(order.TimeInForce),
		MaxSlippageBps: order.MaxSlippageBps,
	}
	path := "/orders"
	bodyStr, err := marshalJSON(body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: order: encode: %w", err)
	}
	headers := g.hmac.L2Headers(g.address, "POST", path, bodyStr)

	var wire orderResultWire
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&wire).
		Post(path)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: order: %w", err)
	}
	if err := checkStatus(resp.StatusCode(), resp.String()); err != nil {
		return domain.OrderResult{}, err
	}

	return domain.OrderResult{
		OrderID:      wire.OrderID,
		Status:       domain.OrderStatus(wire.Status),
		FilledSize:   parseDecimalOrZero(wire.FilledSize),
		AvgPrice:     parseDecimalOrZero(wire.AvgPrice),
		RejectReason: domain.RejectReason(wire.RejectReason),
	}, nil
}

// Cancel requests cancellation of orderID.
func (g *OrderGateway) Cancel(ctx context.Context, orderID string) (domain.CancelResult, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return domain.CancelResult{}, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, OrderTimeout)
	defer cancel()

	path := "/orders/" + orderID
	headers := g.hmac.L2Headers(g.address, "DELETE", path, "")

	var wire cancelResultWire
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&wire).
		Delete(path)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("gateway: cancel: %w", err)
	}
	if err := checkStatus(resp.StatusCode(), resp.String()); err != nil {
		return domain.CancelResult{}, err
	}
	return domain.CancelResult{Status: domain.OrderStatus(wire.Status)}, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
