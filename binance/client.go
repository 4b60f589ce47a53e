// Package binance is the exchange transport adapter: signed REST requests
// plus market/user websocket streams. The engine core never imports this
// package directly; it sees only the broker interfaces.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/rustyeddy/futures/broker"
	"github.com/rustyeddy/futures/config"
)

const (
	// MainnetRESTURL is the production futures REST endpoint
	MainnetRESTURL = "https://fapi.binance.com"
	// TestnetRESTURL is the futures testnet REST endpoint
	TestnetRESTURL = "https://testnet.binancefuture.com"

	// MainnetWSURL is the production futures websocket endpoint
	MainnetWSURL = "wss://fstream.binance.com"
	// TestnetWSURL is the futures testnet websocket endpoint
	TestnetWSURL = "wss://stream.binancefuture.com"
)

// Venue error codes that mean "the thing you addressed no longer exists".
const (
	codeUnknownOrder  = -2011
	codeNoSuchOrder   = -2013
	codeUnknownSymbol = -1121
)

// Client is a signed Binance USD-M futures REST client.
type Client struct {
	restURL    string
	wsURL      string
	key        string
	secret     string
	httpClient *http.Client
}

// NewClient creates a futures REST/stream client. Endpoint overrides in cfg
// win over the testnet switch.
func NewClient(creds config.Credentials, cfg config.ExchangeConfig) *Client {
	restURL := MainnetRESTURL
	wsURL := MainnetWSURL
	if cfg.Testnet {
		restURL = TestnetRESTURL
		wsURL = TestnetWSURL
	}
	if cfg.RESTURL != "" {
		restURL = cfg.RESTURL
	}
	if cfg.WSURL != "" {
		wsURL = cfg.WSURL
	}

	return &Client{
		restURL: restURL,
		wsURL:   wsURL,
		key:     creds.APIKey,
		secret:  creds.APISecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// apiError is the venue's error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("binance: code=%d msg=%q", e.Code, e.Msg)
}

// do issues a request and decodes the response into out (out may be nil).
// Signed requests get timestamp + signature appended.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + c.sign(query)
	}

	u := c.restURL + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("binance: new request: %w", err)
	}
	if c.key != "" {
		req.Header.Set("X-MBX-APIKEY", c.key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := sonic.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
			switch apiErr.Code {
			case codeUnknownOrder, codeNoSuchOrder, codeUnknownSymbol:
				return fmt.Errorf("%w: %s", broker.ErrUnknownOrder, apiErr.Msg)
			}
			return apiErr
		}
		return fmt.Errorf("binance: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode response: %w", err)
	}
	return nil
}

// PlaceOrder submits an order per broker.OrderRequest semantics.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))

	if req.ClosePosition {
		params.Set("closePosition", "true")
	} else if req.Quantity > 0 {
		params.Set("quantity", formatFloat(req.Quantity))
	}
	if req.ReduceOnly && !req.ClosePosition {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	switch req.Type {
	case broker.Limit:
		params.Set("price", formatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	case broker.StopMarket:
		params.Set("stopPrice", formatFloat(req.StopPrice))
	case broker.TrailingStop:
		params.Set("activationPrice", formatFloat(req.ActivationPrice))
		params.Set("callbackRate", formatFloat(req.CallbackRate))
	}

	var resp wireOrder
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return broker.Order{}, err
	}
	return resp.order(), nil
}

// CancelOrder cancels one order by id. An unknown-order response surfaces
// as broker.ErrUnknownOrder.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, true, nil)
}

// CancelOrders cancels a batch of ids in one request.
func (c *Client) CancelOrders(ctx context.Context, symbol string, orderIDs []int64) error {
	if len(orderIDs) == 0 {
		return nil
	}
	ids := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderIdList", "["+strings.Join(ids, ",")+"]")
	return c.do(ctx, http.MethodDelete, "/fapi/v1/batchOrders", params, true, nil)
}

// CancelAllOrders cancels every open order for the symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true, nil)
}

// OpenOrders fetches the current open orders; used to seed the order cache
// before the user stream takes over.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []wireOrder
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true, &resp); err != nil {
		return nil, err
	}
	orders := make([]broker.Order, len(resp))
	for i, w := range resp {
		orders[i] = w.order()
	}
	return orders, nil
}

// Klines fetches historical candles to seed the kline series.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]broker.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]any
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, err
	}

	klines := make([]broker.Kline, 0, len(raw))
	for _, row := range raw {
		k, err := klineFromRow(row)
		if err != nil {
			return nil, err
		}
		klines = append(klines, k)
	}
	// The venue's last row is the still-forming candle.
	if n := len(klines); n > 0 {
		for i := 0; i < n-1; i++ {
			klines[i].Closed = true
		}
	}
	return klines, nil
}

// Account fetches a fresh account snapshot; used once at startup before the
// user stream takes over.
func (c *Client) Account(ctx context.Context) (broker.AccountSnapshot, error) {
	var resp wireAccount
	if err := c.do(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &resp); err != nil {
		return broker.AccountSnapshot{}, err
	}
	return resp.snapshot(), nil
}

// listenKey obtains the user-data stream key.
func (c *Client) listenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// keepAliveListenKey extends the user-data stream lease.
func (c *Client) keepAliveListenKey(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, false, nil)
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
