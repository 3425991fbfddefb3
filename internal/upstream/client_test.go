package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsetgo/group-checkout/internal/config"
	"github.com/jetsetgo/group-checkout/internal/metrics"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	m := metrics.New()
	c := NewClient(config.UpstreamConfig{Endpoint: srv.URL + "/", Timeout: 5 * time.Second}, m)
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return c, m
}

func TestFetchConfigIsUncached(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/config", r.URL.Path)
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		w.Write([]byte(`{"price_idr":"30000","groups":[{"id":"g1","name":"VIP"}]}`))
	}))

	payload, err := c.FetchConfig(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `"30000"`, string(payload.PriceIDR))
	assert.JSONEq(t, `[{"id":"g1","name":"VIP"}]`, string(payload.Groups))
}

func TestCreateInvoice(t *testing.T) {
	c, m := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in InvoiceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, InvoiceRequest{UserID: 42, Groups: []string{"g1", "g3"}, Amount: 50000}, in)

		w.Write([]byte(`{"invoice_id":"inv-1","status":"PENDING"}`))
	}))

	inv, err := c.CreateInvoice(context.Background(), InvoiceRequest{UserID: 42, Groups: []string{"g1", "g3"}, Amount: 50000})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", inv.ID)
	assert.Equal(t, int64(50000), inv.Amount)

	assert.Contains(t, scrape(t, m), `op="invoice"`)
}

func TestCreateInvoiceSurfacesRawBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Invalid group g9."}`, http.StatusBadRequest)
	}))

	_, err := c.CreateInvoice(context.Background(), InvoiceRequest{UserID: 1, Groups: []string{"g9"}, Amount: 1})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, `{"detail":"Invalid group g9."}`, err.Error())
}

func TestCreateInvoiceRequiresID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := c.CreateInvoice(context.Background(), InvoiceRequest{UserID: 1, Groups: []string{"g"}, Amount: 1})
	assert.Error(t, err)
}

func TestFetchQR(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/qr/inv-1.png", r.URL.Path)
		assert.Equal(t, "50000", r.URL.Query().Get("amount"))
		assert.Equal(t, "1700000000123", r.URL.Query().Get("t"))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))

	img, err := c.FetchQR(context.Background(), "inv-1", 50000)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img.Data)
}

func TestInvoiceStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/invoice/inv-1/status", r.URL.Path)
		w.Write([]byte(`{"status":"PAID"}`))
	}))

	st, err := c.InvoiceStatus(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, st)
}

type fakeStatus struct {
	calls    atomic.Int32
	statuses []string
	errAt    int32
}

func (f *fakeStatus) InvoiceStatus(ctx context.Context, id string) (string, error) {
	n := f.calls.Add(1)
	if n == f.errAt {
		return "", errors.New("connection reset")
	}
	i := int(n) - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func TestStatusPollerStopsOnTerminalStatus(t *testing.T) {
	f := &fakeStatus{statuses: []string{"PENDING", "PENDING", "PAID", "PAID"}, errAt: 2}
	p := NewStatusPoller(f, "inv-1", 5*time.Millisecond, nil)

	var errs atomic.Int32
	p.OnError = func(error) { errs.Add(1) }
	p.OnStatus = func(s string) bool { return s == StatusPaid }
	p.Start()
	p.Wait()

	calls := f.calls.Load()
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, int32(1), errs.Load())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load(), "no poll after terminal status")
	assert.True(t, p.Status().Connected)
	assert.Equal(t, 3, p.Status().Polls)
}

func TestStatusPollerStop(t *testing.T) {
	f := &fakeStatus{statuses: []string{"PENDING"}}
	p := NewStatusPoller(f, "inv-1", 5*time.Millisecond, nil)
	p.Start()
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	p.Stop()
	p.Wait()

	calls := f.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, f.calls.Load())
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
