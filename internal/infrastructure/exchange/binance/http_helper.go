package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"tradeguard/internal/domain/model"
)

// APIError is a non-2xx answer from the exchange.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance http %d: code=%d msg=%s", e.HTTPStatus, e.Code, e.Msg)
}

// transientCodes are exchange codes that describe load or clock skew rather
// than a problem with the request itself.
var transientCodes = map[int]struct{}{
	-1000: {}, // unknown error
	-1001: {}, // disconnected
	-1003: {}, // too many requests
	-1007: {}, // timeout waiting for backend
	-1021: {}, // timestamp outside recvWindow
}

func (e *APIError) temporary() bool {
	if e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus == http.StatusTeapot || e.HTTPStatus >= 500 {
		return true
	}
	_, ok := transientCodes[e.Code]
	return ok
}

// signedRequest is shared helper for signed REST calls. Failures that a retry
// may fix are wrapped as *model.TransientError; everything else is returned
// as *APIError or a plain error.
func (c *APIClient) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	op := method + " " + path
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	if params.Get("recvWindow") == "" {
		params.Set("recvWindow", "5000")
	}

	query := params.Encode()
	signature := c.credentials.Sign(query)
	endpoint := fmt.Sprintf("%s%s?%s&signature=%s", c.baseURL, path, query, signature)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.credentials.APIKey())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		// 超时（含单次尝试的 deadline）可重试
		return nil, model.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.Transient(op, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		if apiErr.temporary() {
			return nil, model.Transient(op, apiErr)
		}
		return nil, apiErr
	}

	return body, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
