package checkout

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsetgo/group-checkout/internal/upstream"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type fakeAPI struct {
	mu sync.Mutex

	invoiceErr error
	qr         *upstream.QRImage
	qrErr      error
	qrBlock    bool
	statuses   []string

	invoiceCalls int
	qrCalls      int
	statusCalls  int
	qrCtxErr     error
}

func (f *fakeAPI) CreateInvoice(ctx context.Context, in upstream.InvoiceRequest) (*upstream.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoiceCalls++
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	return &upstream.Invoice{ID: "inv-1", Amount: in.Amount}, nil
}

func (f *fakeAPI) FetchQR(ctx context.Context, invoiceID string, amount int64) (*upstream.QRImage, error) {
	f.mu.Lock()
	f.qrCalls++
	block := f.qrBlock
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		f.mu.Lock()
		f.qrCtxErr = ctx.Err()
		f.mu.Unlock()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qr, f.qrErr
}

func (f *fakeAPI) InvoiceStatus(ctx context.Context, invoiceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return "PENDING", nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeAPI) counts() (invoice, qr, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoiceCalls, f.qrCalls, f.statusCalls
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) count(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.snaps {
		if s.State == state {
			n++
		}
	}
	return n
}

func fastOptions(r *recorder) Options {
	return Options{
		QRWait:        time.Second,
		PaymentWait:   time.Second,
		PollInterval:  10 * time.Millisecond,
		CountdownTick: 5 * time.Millisecond,
		OnChange:      r.record,
	}
}

var goodRequest = Request{UserID: 42, ItemIDs: []string{"g1", "g2"}, Amount: 50000}

func waitDone(t *testing.T, a *Attempt) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("attempt stuck in %s", a.State())
	}
}

func TestTransitionTable(t *testing.T) {
	next, ok := Transition(Idle, EventCheckout)
	assert.True(t, ok)
	assert.Equal(t, CreatingInvoice, next)

	_, ok = Transition(Idle, EventClose)
	assert.False(t, ok)

	allEvents := []EventKind{
		EventCheckout, EventInvoiceCreated, EventInvoiceFailed, EventQRLoaded,
		EventQRRejected, EventQRDeadline, EventStatusPaid, EventPaymentDeadline,
	}
	for _, s := range []State{Paid, Expired, Failed} {
		for _, e := range allEvents {
			next, ok := Transition(s, e)
			assert.False(t, ok, "%s on %s", e, s)
			assert.Equal(t, s, next)
		}
		next, ok := Transition(s, EventClose)
		assert.True(t, ok)
		assert.Equal(t, Idle, next)
	}

	// a deadline cannot fire in the wrong phase
	_, ok = Transition(AwaitingPayment, EventQRDeadline)
	assert.False(t, ok)
	_, ok = Transition(AwaitingQR, EventPaymentDeadline)
	assert.False(t, ok)
	_, ok = Transition(AwaitingQR, EventStatusPaid)
	assert.False(t, ok)
}

func TestStartPreconditionsSendNothing(t *testing.T) {
	api := &fakeAPI{}

	_, err := Start(context.Background(), api, Request{UserID: 42}, Options{})
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = Start(context.Background(), api, Request{ItemIDs: []string{"g1"}, Amount: 25000}, Options{})
	assert.ErrorIs(t, err, ErrNoIdentity)

	inv, qr, status := api.counts()
	assert.Zero(t, inv+qr+status)
}

func TestPaidStopsPollingAndClosesHost(t *testing.T) {
	api := &fakeAPI{
		qr:       &upstream.QRImage{Data: pngBytes(t, 240, 240), ContentType: "image/png"},
		statuses: []string{"PENDING", "PENDING", "PAID"},
	}
	rec := &recorder{}
	a, err := Start(context.Background(), api, goodRequest, fastOptions(rec))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.Snapshot().QRReady }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, AwaitingQR, a.State())
	a.QRLoaded(240, 240)

	waitDone(t, a)
	snap := a.Snapshot()
	assert.Equal(t, Paid, snap.State)
	assert.True(t, snap.CloseHost)
	assert.Equal(t, "inv-1", snap.InvoiceID)

	_, _, polls := api.counts()
	time.Sleep(50 * time.Millisecond)
	_, _, after := api.counts()
	assert.Equal(t, polls, after, "no status poll after PAID")
	assert.Equal(t, 1, rec.count(Paid))

	require.NotNil(t, snap.Poll)
	assert.True(t, snap.Poll.Connected)
	assert.Equal(t, 3, snap.Poll.Polls)
}

func TestQRTimeoutFailsExactlyOnce(t *testing.T) {
	api := &fakeAPI{qrBlock: true}
	rec := &recorder{}
	opts := fastOptions(rec)
	opts.QRWait = 60 * time.Millisecond

	a, err := Start(context.Background(), api, goodRequest, opts)
	require.NoError(t, err)
	waitDone(t, a)

	snap := a.Snapshot()
	assert.Equal(t, Failed, snap.State)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, ReasonQRTimeout, snap.Failure.Reason)

	// late view signals must not produce a second failure
	a.QRLoadError()
	a.QRLoaded(10, 10)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count(Failed))

	_, _, polls := api.counts()
	assert.Zero(t, polls)
}

func TestInvoiceFailureKeepsUpstreamText(t *testing.T) {
	api := &fakeAPI{invoiceErr: &upstream.StatusError{Op: "invoice", Code: 409, Body: "Grup VIP sudah penuh"}}
	rec := &recorder{}

	a, err := Start(context.Background(), api, goodRequest, fastOptions(rec))
	require.NoError(t, err)
	waitDone(t, a)

	snap := a.Snapshot()
	assert.Equal(t, Failed, snap.State)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, ReasonInvoice, snap.Failure.Reason)
	assert.Equal(t, "Grup VIP sudah penuh", snap.Failure.Message)
	assert.False(t, snap.Failure.QRFailure())

	_, qr, _ := api.counts()
	assert.Zero(t, qr)
}

func TestPaymentExpiry(t *testing.T) {
	api := &fakeAPI{qr: &upstream.QRImage{Data: pngBytes(t, 300, 300), ContentType: "image/png"}}
	rec := &recorder{}
	opts := fastOptions(rec)
	opts.PaymentWait = 80 * time.Millisecond
	opts.AutoConfirmQR = true

	a, err := Start(context.Background(), api, goodRequest, opts)
	require.NoError(t, err)
	waitDone(t, a)

	snap := a.Snapshot()
	assert.Equal(t, Expired, snap.State)
	assert.Equal(t, PhaseExpired, snap.Phase)
	assert.Zero(t, snap.Remaining)
	assert.Equal(t, 1, rec.count(Expired))
	assert.Positive(t, rec.count(AwaitingPayment))
}

func TestQRRejections(t *testing.T) {
	cases := []struct {
		name   string
		qr     *upstream.QRImage
		reason FailureReason
	}{
		{"html body", &upstream.QRImage{Data: []byte("<html>oops</html>"), ContentType: "image/png"}, ReasonQRInvalid},
		{"error page", &upstream.QRImage{Data: []byte("Bad Gateway"), ContentType: "text/plain"}, ReasonQRInvalid},
		{"placeholder", &upstream.QRImage{Data: pngBytes(t, 120, 120), ContentType: "image/png"}, ReasonQRUndersized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{qr: tc.qr}
			a, err := Start(context.Background(), api, goodRequest, fastOptions(&recorder{}))
			require.NoError(t, err)
			waitDone(t, a)

			snap := a.Snapshot()
			assert.Equal(t, Failed, snap.State)
			require.NotNil(t, snap.Failure)
			assert.Equal(t, tc.reason, snap.Failure.Reason)
			assert.True(t, snap.Failure.QRFailure())
		})
	}
}

func TestViewReportsUndersizedRender(t *testing.T) {
	api := &fakeAPI{qr: &upstream.QRImage{Data: pngBytes(t, 300, 300), ContentType: "image/png"}}
	a, err := Start(context.Background(), api, goodRequest, fastOptions(&recorder{}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.QRImage() != nil }, 2*time.Second, 5*time.Millisecond)
	a.QRLoaded(150, 300)
	waitDone(t, a)
	assert.Equal(t, ReasonQRUndersized, a.Snapshot().Failure.Reason)
}

func TestCloseCancelsEverything(t *testing.T) {
	api := &fakeAPI{qrBlock: true}
	rec := &recorder{}
	a, err := Start(context.Background(), api, goodRequest, fastOptions(rec))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.State() == AwaitingQR }, 2*time.Second, 5*time.Millisecond)
	snap := a.Snapshot()
	assert.Positive(t, snap.Remaining)
	assert.LessOrEqual(t, snap.Remaining, time.Second)

	a.Close()
	a.Close()

	snap = a.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.InvoiceID)
	assert.False(t, snap.QRReady)
	assert.Zero(t, snap.Remaining)

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.qrCtxErr != nil
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.count(Failed))
}

func TestCloseAfterTerminal(t *testing.T) {
	api := &fakeAPI{invoiceErr: &upstream.StatusError{Op: "invoice", Code: 500}}
	a, err := Start(context.Background(), api, goodRequest, fastOptions(&recorder{}))
	require.NoError(t, err)
	waitDone(t, a)
	assert.Equal(t, "invoice returned 500", a.Snapshot().Failure.Message)

	a.Close()
	assert.Equal(t, Idle, a.State())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "AWAITING_PAYMENT", AwaitingPayment.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
	b, err := Failed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "FAILED", string(b))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRemainingFollowsDeadlineAcrossClockJumps(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	api := &fakeAPI{qrBlock: true}
	opts := fastOptions(&recorder{})
	opts.QRWait = time.Minute
	opts.Now = clock.Now

	a, err := Start(context.Background(), api, goodRequest, opts)
	require.NoError(t, err)
	defer a.Close()

	require.Eventually(t, func() bool { return a.State() == AwaitingQR }, 2*time.Second, 5*time.Millisecond)
	snap := a.Snapshot()
	assert.Equal(t, time.Minute, snap.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), snap.Deadline)

	// a suspended page resumes to the same absolute deadline
	clock.Advance(45 * time.Second)
	assert.Equal(t, 15*time.Second, a.Snapshot().Remaining)

	clock.Advance(10 * time.Minute)
	assert.Zero(t, a.Snapshot().Remaining)
	assert.Equal(t, snap.Deadline, a.Snapshot().Deadline)
}

func TestQRTimerStopsOncePaymentStarts(t *testing.T) {
	api := &fakeAPI{qr: &upstream.QRImage{Data: pngBytes(t, 300, 300), ContentType: "image/png"}}
	rec := &recorder{}
	opts := fastOptions(rec)
	opts.QRWait = 40 * time.Millisecond
	opts.PaymentWait = 250 * time.Millisecond
	opts.AutoConfirmQR = true

	a, err := Start(context.Background(), api, goodRequest, opts)
	require.NoError(t, err)
	waitDone(t, a)

	snap := a.Snapshot()
	assert.Equal(t, Expired, snap.State)
	assert.Nil(t, snap.Failure)
	assert.Zero(t, rec.count(Failed))
}

func TestCloseWaitsForStatusPoll(t *testing.T) {
	api := &fakeAPI{qr: &upstream.QRImage{Data: pngBytes(t, 300, 300), ContentType: "image/png"}}
	opts := fastOptions(&recorder{})
	opts.AutoConfirmQR = true

	a, err := Start(context.Background(), api, goodRequest, opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, polls := api.counts()
		return polls >= 2
	}, 2*time.Second, 5*time.Millisecond)
	a.Close()

	_, _, polls := api.counts()
	time.Sleep(40 * time.Millisecond)
	_, _, after := api.counts()
	assert.Equal(t, polls, after, "no status poll after Close")
}
