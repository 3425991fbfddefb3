package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/jetsetgo/group-checkout/internal/config"
	"github.com/jetsetgo/group-checkout/internal/metrics"
)

// maxQRBytes bounds how much of a QR response is read
const maxQRBytes = 8 << 20

// Client talks to the config/invoice/QR/status API
type Client struct {
	endpoint  string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	metrics   *metrics.Metrics

	// now stamps the QR cache-buster
	now func() time.Time
}

// NewClient creates a new upstream client
func NewClient(cfg config.UpstreamConfig, m *metrics.Metrics) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: cfg.UserAgent,
		metrics:   m,
		now:       time.Now,
	}
}

// FetchConfig issues the one uncached configuration fetch
func (c *Client) FetchConfig(ctx context.Context) (*ConfigPayload, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/config", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	body, _, err := c.do(req, "config", 0)
	if err != nil {
		return nil, err
	}

	var payload ConfigPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &payload, nil
}

// CreateInvoice posts a new invoice for the selected groups
func (c *Client) CreateInvoice(ctx context.Context, in InvoiceRequest) (*Invoice, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/invoice", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, _, err := c.do(req, "invoice", 0)
	if err != nil {
		return nil, err
	}

	var inv Invoice
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if inv.ID == "" {
		return nil, errors.New("invoice response has no invoice_id")
	}
	if inv.Amount == 0 {
		inv.Amount = in.Amount
	}
	return &inv, nil
}

// FetchQR downloads the QR image for an invoice. The bytes are not
// validated here.
func (c *Client) FetchQR(ctx context.Context, invoiceID string, amount int64) (*QRImage, error) {
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	path := "/api/qr/" + url.PathEscape(invoiceID) + ".png?" + q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	body, header, err := c.do(req, "qr", maxQRBytes)
	if err != nil {
		return nil, err
	}
	return &QRImage{Data: body, ContentType: header.Get("Content-Type")}, nil
}

// InvoiceStatus returns the invoice's status string as reported upstream
func (c *Client) InvoiceStatus(ctx context.Context, invoiceID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/invoice/"+url.PathEscape(invoiceID)+"/status", nil)
	if err != nil {
		return "", err
	}

	body, _, err := c.do(req, "status", 0)
	if err != nil {
		return "", err
	}

	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}
	return st.Status, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, image/*")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// do sends req and returns the body of a 2xx response. limit caps the body
// size; 0 means the default 1 MiB.
func (c *Client) do(req *http.Request, op string, limit int64) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = 1 << 20
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(op, 0, time.Since(start))
		return nil, nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, fmt.Errorf("%s read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, resp.Header, nil
}
