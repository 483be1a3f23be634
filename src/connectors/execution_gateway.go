package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"triggerexecutor/src/model"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// PlacementResult is the gateway's answer to every trading call. Success=false
// with an Error is a rejection by the exchange, not a transport failure.
type PlacementResult struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type OrderRequest struct {
	Asset   string
	Side    model.OrderSide
	SizeUSD decimal.Decimal
	IsSpot  bool
}

type TwapRequest struct {
	Asset           string
	Side            model.OrderSide
	SizeUSD         decimal.Decimal
	IsSpot          bool
	DurationMinutes int
	Randomize       bool
}

// ExecutionGateway talks to the signing/trading service that places orders on
// the exchange. Transport failures and 5xx answers trip the circuit breaker.
type ExecutionGateway struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	breaker   *gobreaker.CircuitBreaker[*PlacementResult]
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	return (code >= 500 && code <= 599) || code == 429 || code == 408
}

func NewExecutionGateway(config Config) *ExecutionGateway {
	httpClient := resty.New().
		SetBaseURL(config.GatewayURL).
		SetTimeout(config.GatewayTimeout).
		SetRetryCount(config.GatewayRetries).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return newExecutionGateway(config, httpClient)
}

func newExecutionGateway(config Config, httpClient *resty.Client) *ExecutionGateway {
	maxFailures := config.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[*PlacementResult](gobreaker.Settings{
		Name:     "executionGateway",
		Interval: config.BreakerInterval,
		Timeout:  config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]interface{}{
				"component": "ExecutionGateway",
				"breaker":   name,
				"from":      from.String(),
				"to":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ExecutionGateway{
		apiKey:    config.GatewayAPIKey,
		apiSecret: config.GatewayAPISecret,
		http:      httpClient,
		breaker:   breaker,
	}
}

// signRequest signs timestamp + method + path + body with HMAC-SHA256.
func signRequest(method, path, body string, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + method + path + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// SetLeverage sets cross or isolated leverage for an asset before a perpetual order.
func (g *ExecutionGateway) SetLeverage(ctx context.Context, asset string, leverage int, isCross bool) (*PlacementResult, error) {
	return g.post(ctx, "/v1/leverage", map[string]interface{}{
		"asset":    asset,
		"leverage": leverage,
		"is_cross": isCross,
	})
}

// PlaceOrder places a market order sized in USD.
func (g *ExecutionGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*PlacementResult, error) {
	return g.post(ctx, "/v1/orders", map[string]interface{}{
		"asset":           req.Asset,
		"is_buy":          req.Side.IsBuy(),
		"size_usd":        req.SizeUSD.String(),
		"is_spot":         req.IsSpot,
		"client_order_id": uuid.NewString(),
	})
}

// PlaceTwapOrder starts a TWAP execution over DurationMinutes.
func (g *ExecutionGateway) PlaceTwapOrder(ctx context.Context, req TwapRequest) (*PlacementResult, error) {
	return g.post(ctx, "/v1/twap", map[string]interface{}{
		"asset":            req.Asset,
		"is_buy":           req.Side.IsBuy(),
		"size_usd":         req.SizeUSD.String(),
		"is_spot":          req.IsSpot,
		"duration_minutes": req.DurationMinutes,
		"randomize":        req.Randomize,
		"client_order_id":  uuid.NewString(),
	})
}

func (g *ExecutionGateway) post(ctx context.Context, path string, payload map[string]interface{}) (*PlacementResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	result, err := g.breaker.Execute(func() (*PlacementResult, error) {
		return g.doRequest(ctx, path, body)
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "ExecutionGateway",
			"path":      path,
		}).WithError(err).Error("Execution gateway call failed")
		return nil, fmt.Errorf("execution gateway %s: %w", path, err)
	}

	if !result.Success {
		logger.WithFields(map[string]interface{}{
			"component": "ExecutionGateway",
			"path":      path,
			"reason":    result.Error,
		}).Warn("Execution gateway rejected request")
	}

	return result, nil
}

// doRequest returns an error only for transport failures and 5xx answers.
// Any other answer is decoded into a PlacementResult.
func (g *ExecutionGateway) doRequest(ctx context.Context, path string, body []byte) (*PlacementResult, error) {
	ts := time.Now().UnixMilli()
	sig := signRequest("POST", path, string(body), ts, g.apiSecret)

	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", g.apiKey).
		SetHeader("X-TIMESTAMP", strconv.FormatInt(ts, 10)).
		SetHeader("X-SIGNATURE", sig).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var result PlacementResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		if resp.IsError() {
			return &PlacementResult{Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), string(resp.Body()))}, nil
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.IsError() {
		result.Success = false
		if result.Error == "" {
			result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
	}

	return &result, nil
}
