// Package remote implements the backend API client: delta fetches per sync
// domain, idempotent operation submission, and the websocket price feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// rateLimitKey throttles all backend calls under one shared budget.
const rateLimitKey = "remote"

// ClientConfig holds connection parameters for the backend API.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the REST client for the backend API. It implements
// domain.RemoteClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates a backend API client. limiter may be nil, in which case
// calls are not throttled.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// FetchDeltas returns one domain's records changed since the given instant.
// A zero since fetches everything.
func (c *Client) FetchDeltas(ctx context.Context, d domain.SyncDomain, since time.Time) ([]domain.Delta, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	path := "/v1/sync/" + url.PathEscape(string(d))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch %s: %w", d, err)
	}

	deltas, err := decodeDeltas(d, body)
	if err != nil {
		return nil, fmt.Errorf("remote: decode %s: %w", d, err)
	}
	return deltas, nil
}

// Submit pushes one queued operation. The backend deduplicates on the
// transaction/entity id embedded in the payload, so resubmitting a lost
// acknowledgment is safe.
func (c *Client) Submit(ctx context.Context, item domain.QueueItem) (domain.Ack, error) {
	req := submitRequest{
		ID:            item.ID,
		OperationType: string(item.OperationType),
		Payload:       json.RawMessage(item.Payload),
		EnqueuedAt:    item.EnqueuedAt,
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/operations", req)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("remote: submit %s: %w", item.ID, err)
	}

	var resp ackResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Ack{}, fmt.Errorf("remote: decode ack %s: %w", item.ID, err)
	}
	return domain.Ack{
		ID:         resp.ID,
		Accepted:   resp.Accepted,
		Duplicate:  resp.Duplicate,
		ReceivedAt: resp.ReceivedAt,
	}, nil
}

func decodeDeltas(d domain.SyncDomain, body []byte) ([]domain.Delta, error) {
	switch d {
	case domain.DomainInstruments:
		var resp struct {
			Instruments []instrumentDTO `json:"instruments"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		deltas := make([]domain.Delta, 0, len(resp.Instruments))
		for _, dto := range resp.Instruments {
			ins := dto.toDomain()
			deltas = append(deltas, domain.Delta{Domain: d, Instrument: &ins})
		}
		return deltas, nil

	case domain.DomainTrades:
		var resp struct {
			Trades []tradeDTO `json:"trades"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		deltas := make([]domain.Delta, 0, len(resp.Trades))
		for _, dto := range resp.Trades {
			trade, err := dto.toDomain()
			if err != nil {
				return nil, fmt.Errorf("trade %s: %w", dto.TransactionID, err)
			}
			deltas = append(deltas, domain.Delta{Domain: d, Trade: &trade})
		}
		return deltas, nil

	case domain.DomainPositions:
		var resp struct {
			Positions []positionDTO `json:"positions"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		deltas := make([]domain.Delta, 0, len(resp.Positions))
		for _, dto := range resp.Positions {
			pos := dto.toDomain()
			deltas = append(deltas, domain.Delta{Domain: d, Position: &pos})
		}
		return deltas, nil

	case domain.DomainCandles:
		var resp struct {
			Candles []candleDTO `json:"candles"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		deltas := make([]domain.Delta, 0, len(resp.Candles))
		for _, dto := range resp.Candles {
			candle := dto.toDomain()
			deltas = append(deltas, domain.Delta{Domain: d, Candle: &candle})
		}
		return deltas, nil

	default:
		return nil, fmt.Errorf("unknown sync domain %q", d)
	}
}

// do builds, throttles, sends, and reads one HTTP request.
func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return nil, err
		}
	}

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx responses to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusConflict:
		return fmt.Errorf("conflict: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrAlreadyExists)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("unexpected status %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

var _ domain.RemoteClient = (*Client)(nil)
