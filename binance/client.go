// Package binance adapts the Binance REST API to the ingestion Feed and the
// price Oracle. Authentication, request signing, and venue error codes stay
// in here; callers only ever see canonical records and the shared throttle
// and permission sentinels.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/etnz/coinpnl"
)

const defaultBaseURL = "https://api.binance.com"

// Client is a minimal signed Binance REST client.
type Client struct {
	Key    string
	Secret string

	// Pairs are the instruments this account trades, in "BASE/QUOTE" form.
	// Binance has no endpoint listing pairs with activity, so the caller
	// names them.
	Pairs []coinpnl.Symbol

	// BaseURL overrides the production endpoint, for tests.
	BaseURL string
	// HTTP overrides the default client, for tests.
	HTTP *http.Client

	// now is stubbed in tests of request signing.
	now func() time.Time
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	return defaultBaseURL
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) timestamp() int64 {
	if c.now != nil {
		return c.now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// pair converts a "BASE/QUOTE" symbol to Binance's concatenated form.
func pair(s coinpnl.Symbol) string {
	return strings.ReplaceAll(string(s), "/", "")
}

// signedGet performs an authenticated GET on path, signing the query per
// Binance's HMAC-SHA256 scheme, and unmarshals the JSON response into data.
func (c *Client) signedGet(ctx context.Context, path string, params url.Values, data any) error {
	params.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()

	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.Key)

	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return mapAPIError(resp.StatusCode, body)
	}
	return json.Unmarshal(body, data)
}

// venueError carries Binance's error payload. It unwraps to the shared
// throttle or permission sentinel when the condition maps to one: code
// -1003 is the request-weight limit, which Binance also reports as HTTP
// 429 and 418; -2014 and -2015 are key and scope rejections.
type venueError struct {
	Status int
	Code   int
	Msg    string
}

func (e *venueError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("binance: http %d code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance: http %d", e.Status)
}

func (e *venueError) Unwrap() error {
	switch {
	case e.Status == 429 || e.Status == 418 || e.Code == -1003:
		return coinpnl.ErrThrottled
	case e.Status == 401 || e.Status == 403 || e.Code == -2014 || e.Code == -2015:
		return coinpnl.ErrPermission
	}
	return nil
}

func mapAPIError(status int, body []byte) error {
	e := &venueError{Status: status}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code, e.Msg = payload.Code, payload.Msg
	} else {
		e.Msg = strings.TrimSpace(string(body))
	}
	return e
}
