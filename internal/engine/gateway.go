package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/moxun/seatpool/internal/model"
)

// GatewayConfig identifies one external payment gateway.  Both gateways in
// use speak the same merchant protocol; they differ in base URL, merchant
// id and secret, and in which order kind they serve.
type GatewayConfig struct {
	Name       string // short name used in webhook routes ("credit", "purchase")
	BaseURL    string // e.g. https://pay.example.com
	MerchantID string // merchant identity field ("pid")
	Secret     string // shared signing secret
	NotifyURL  string // absolute URL the gateway POSTs notifications to
	ReturnURL  string // where the buyer's browser is redirected after payment
}

// TradeResult is the gateway's view of one trade, normalized from either a
// notification payload or an active-query response.
type TradeResult struct {
	OrderNo     string // our order number (out_trade_no)
	TradeNo     string // gateway-side trade reference
	Status      string // gateway trade status string
	AmountCents int64  // gateway-reported amount
	Raw         string // raw payload for the audit snapshot
}

// TradeStatusSuccess is the only status that drives a paid transition.
const TradeStatusSuccess = "TRADE_SUCCESS"

// Gateway is an HTTP client for one payment gateway.  Every call is
// bounded by the client timeout; gateway calls run inside locked critical
// sections on the query path, so an unbounded call would starve every other
// operation on the same order key.
type Gateway struct {
	cfg    GatewayConfig
	client *http.Client
}

// NewGateway builds a gateway client with a bounded HTTP timeout.
func NewGateway(cfg GatewayConfig) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Config exposes the gateway's configuration to the reconciler for
// signature verification.
func (g *Gateway) Config() GatewayConfig { return g.cfg }

// PayURL builds the signed checkout redirect for an order.  The buyer's
// browser is sent here; the gateway calls NotifyURL when the trade settles.
func (g *Gateway) PayURL(o *model.PaymentOrder) string {
	params := map[string]string{
		"pid":          g.cfg.MerchantID,
		"out_trade_no": o.OrderNo,
		"name":         o.Scene,
		"money":        FormatAmountCents(o.AmountCents),
		"notify_url":   g.cfg.NotifyURL,
		"return_url":   g.cfg.ReturnURL,
	}
	params["sign"] = Sign(params, g.cfg.Secret)
	params["sign_type"] = "MD5"

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return g.cfg.BaseURL + "/submit.php?" + q.Encode()
}

// queryResponse is the gateway's active-query JSON shape.
type queryResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	TradeNo string `json:"trade_no"`
	OutNo   string `json:"out_trade_no"`
	Status  int    `json:"status"`
	Money   string `json:"money"`
}

// QueryOrder asks the gateway for the current state of an order.  Non-2xx
// responses and malformed payloads surface as KindGateway errors; the
// caller retries on its own cooldown.
func (g *Gateway) QueryOrder(ctx context.Context, orderNo string) (*TradeResult, error) {
	q := url.Values{}
	q.Set("act", "order")
	q.Set("pid", g.cfg.MerchantID)
	q.Set("key", g.cfg.Secret)
	q.Set("out_trade_no", orderNo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.cfg.BaseURL+"/api.php?"+q.Encode(), nil)
	if err != nil {
		return nil, wrap(KindGateway, err, "build query request")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, wrap(KindGateway, err, "gateway query failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, wrap(KindGateway, err, "read gateway response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errf(KindGateway, "gateway query returned HTTP %d", resp.StatusCode)
	}
	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, wrap(KindGateway, err, "malformed gateway response")
	}
	if qr.Code != 1 {
		return nil, errf(KindGateway, "gateway query rejected: %s", qr.Msg)
	}
	amount, err := ParseAmountCents(qr.Money)
	if err != nil {
		return nil, wrap(KindGateway, err, "malformed gateway amount %q", qr.Money)
	}
	status := ""
	if qr.Status == 1 {
		status = TradeStatusSuccess
	}
	return &TradeResult{
		OrderNo:     orderNo,
		TradeNo:     qr.TradeNo,
		Status:      status,
		AmountCents: amount,
		Raw:         string(body),
	}, nil
}

// Refund asks the gateway to refund a settled trade.  Only called when
// server-side refunds are enabled in the engine config.
func (g *Gateway) Refund(ctx context.Context, tradeNo string, amountCents int64) error {
	form := url.Values{}
	form.Set("act", "refund")
	form.Set("pid", g.cfg.MerchantID)
	form.Set("key", g.cfg.Secret)
	form.Set("trade_no", tradeNo)
	form.Set("money", FormatAmountCents(amountCents))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/api.php", strings.NewReader(form.Encode()))
	if err != nil {
		return wrap(KindGateway, err, "build refund request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return wrap(KindGateway, err, "gateway refund failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return errf(KindGateway, "gateway refund returned HTTP %d", resp.StatusCode)
	}
	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return wrap(KindGateway, err, "malformed refund response")
	}
	if qr.Code != 1 {
		return errf(KindGateway, "gateway refund rejected: %s", qr.Msg)
	}
	return nil
}

// ParseAmountCents converts a gateway decimal amount ("10.00") to cents
// without going through floats.
func ParseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	return w*100 + f, nil
}

// FormatAmountCents renders cents as the gateway's decimal string.
func FormatAmountCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
