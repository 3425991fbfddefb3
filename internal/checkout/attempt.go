package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jetsetgo/group-checkout/internal/config"
	"github.com/jetsetgo/group-checkout/internal/metrics"
	"github.com/jetsetgo/group-checkout/internal/qrcheck"
	"github.com/jetsetgo/group-checkout/internal/upstream"
)

var (
	ErrEmptySelection = errors.New("no items selected")
	ErrNoIdentity     = errors.New("user identity unavailable; open the app from the bot button")
)

// API is the slice of the upstream client an attempt uses
type API interface {
	CreateInvoice(ctx context.Context, in upstream.InvoiceRequest) (*upstream.Invoice, error)
	FetchQR(ctx context.Context, invoiceID string, amount int64) (*upstream.QRImage, error)
	upstream.StatusFetcher
}

// Request is what the buyer is checking out
type Request struct {
	UserID  int64
	ItemIDs []string
	Amount  int64
}

// Options tune one attempt
type Options struct {
	QRWait         time.Duration
	PaymentWait    time.Duration
	PollInterval   time.Duration
	CountdownTick  time.Duration
	MinQRDimension int

	// AutoConfirmQR treats a validated QR fetch as loaded, for callers
	// without a view that reports image load.
	AutoConfirmQR bool

	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	OnChange func(Snapshot)
}

// OptionsFromConfig copies the checkout timings from cfg
func OptionsFromConfig(cfg config.CheckoutConfig) Options {
	return Options{
		QRWait:         cfg.QRWait,
		PaymentWait:    cfg.PaymentWait,
		PollInterval:   cfg.PollInterval,
		CountdownTick:  cfg.CountdownTick,
		MinQRDimension: cfg.MinQRDimension,
		AutoConfirmQR:  cfg.AutoConfirmQR,
	}
}

func (o *Options) defaults() {
	if o.QRWait <= 0 {
		o.QRWait = 180 * time.Second
	}
	if o.PaymentWait <= 0 {
		o.PaymentWait = 300 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.CountdownTick <= 0 {
		o.CountdownTick = time.Second
	}
	if o.MinQRDimension <= 0 {
		o.MinQRDimension = qrcheck.MinDimension
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Snapshot is a point-in-time view of an attempt for rendering
type Snapshot struct {
	AttemptID string        `json:"attempt_id"`
	State     State         `json:"state"`
	Phase     Phase         `json:"phase"`
	InvoiceID string        `json:"invoice_id,omitempty"`
	Amount    int64         `json:"amount"`
	ItemIDs   []string      `json:"item_ids"`
	Deadline  time.Time     `json:"deadline,omitempty"`
	Remaining time.Duration `json:"remaining"`
	QRReady   bool          `json:"qr_ready"`
	Failure   *Failure      `json:"failure,omitempty"`
	CloseHost bool          `json:"close_host"`

	// Poll is the payment status poll, once AWAITING_PAYMENT has started it
	Poll *upstream.ConnectionStatus `json:"poll,omitempty"`
}

// qrReady is an internal loop event outside the state machine
const qrReady EventKind = -1

type event struct {
	kind    EventKind
	invoice *upstream.Invoice
	qr      *qrcheck.Image
	failure *Failure
}

// Attempt is one run of the checkout flow. Events are handled by a single
// loop goroutine; network calls run beside it and post their results back.
type Attempt struct {
	id     string
	api    API
	opts   Options
	req    Request
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	closeOnce sync.Once

	mu        sync.Mutex
	state     State
	invoice   *upstream.Invoice
	qr        *qrcheck.Image
	deadline  time.Time
	failure   *Failure
	closeHost bool
	poller    *upstream.StatusPoller

	// owned by the loop goroutine
	qrTimer  *time.Timer
	payTimer *time.Timer
	ticker   *time.Ticker
	tickC    <-chan time.Time
}

// Start validates the preconditions and begins invoice creation. A
// precondition failure returns before any request is sent.
func Start(ctx context.Context, api API, req Request, opts Options) (*Attempt, error) {
	if len(req.ItemIDs) == 0 || req.Amount <= 0 {
		return nil, ErrEmptySelection
	}
	if req.UserID <= 0 {
		return nil, ErrNoIdentity
	}
	opts.defaults()

	// The attempt outlives the request that started it
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := uuid.NewString()
	a := &Attempt{
		id:     id,
		api:    api,
		opts:   opts,
		req:    req,
		logger: opts.Logger.With("attempt_id", id),
		ctx:    actx,
		cancel: cancel,
		events: make(chan event, 8),
		done:   make(chan struct{}),
		state:  Idle,
	}

	a.handle(event{kind: EventCheckout})
	go a.run()
	go a.createInvoice()
	return a, nil
}

// ID returns the attempt's unique id
func (a *Attempt) ID() string { return a.id }

// Done is closed once the attempt reaches a terminal state or is closed
func (a *Attempt) Done() <-chan struct{} { return a.done }

// State returns the current state
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// QRImage returns the validated QR image, or nil before it is ready
func (a *Attempt) QRImage() *qrcheck.Image {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.qr
}

// Snapshot returns the attempt's current view. Remaining is always derived
// from the absolute deadline, so a display that was suspended recomputes
// correctly when it resumes.
func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		AttemptID: a.id,
		State:     a.state,
		Phase:     a.state.Phase(),
		Amount:    a.req.Amount,
		ItemIDs:   append([]string(nil), a.req.ItemIDs...),
		QRReady:   a.qr != nil,
		CloseHost: a.closeHost,
	}
	if a.invoice != nil {
		s.InvoiceID = a.invoice.ID
	}
	if a.failure != nil {
		f := *a.failure
		s.Failure = &f
	}
	if a.poller != nil {
		ps := a.poller.Status()
		s.Poll = &ps
	}
	if a.state == AwaitingQR || a.state == AwaitingPayment {
		s.Deadline = a.deadline
		if rem := a.deadline.Sub(a.opts.Now()); rem > 0 {
			s.Remaining = rem
		}
	}
	return s
}

// QRLoaded is the view's signal that the QR image rendered with the given
// natural size. Undersized images fail the attempt.
func (a *Attempt) QRLoaded(width, height int) {
	if err := qrcheck.CheckDimensions(width, height, a.opts.MinQRDimension); err != nil {
		a.post(event{kind: EventQRRejected, failure: &Failure{Reason: ReasonQRUndersized, Message: err.Error()}})
		return
	}
	a.post(event{kind: EventQRLoaded})
}

// QRLoadError is the view's signal that the QR image failed to render
func (a *Attempt) QRLoadError() {
	a.post(event{kind: EventQRRejected, failure: &Failure{Reason: ReasonQRLoadError, Message: "QR image failed to load"}})
}

// Close tears the attempt down from any state: timers and the poll stop,
// in-flight requests are cancelled and the invoice is discarded.
func (a *Attempt) Close() {
	a.closeOnce.Do(func() {
		a.post(event{kind: EventClose})
		<-a.done
		a.cancel()
		if p := a.statusPoller(); p != nil {
			// no status request outlives the attempt
			p.Wait()
		}

		a.mu.Lock()
		changed := a.state != Idle
		from := a.state
		a.state = Idle
		a.invoice = nil
		a.qr = nil
		a.failure = nil
		a.closeHost = false
		a.mu.Unlock()

		if changed {
			a.opts.Metrics.ObserveTransition(from.String(), Idle.String())
			a.notify()
		}
	})
}

func (a *Attempt) post(ev event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *Attempt) run() {
	defer close(a.done)
	defer a.teardown()

	for {
		select {
		case ev := <-a.events:
			if a.handle(ev) {
				return
			}
		case <-a.tickC:
			a.notify()
		}
	}
}

// handle applies one event and returns true when the loop should end
func (a *Attempt) handle(ev event) bool {
	if ev.kind == qrReady {
		return a.handleQRReady(ev.qr)
	}

	a.mu.Lock()
	if ev.kind == EventQRLoaded && a.qr == nil {
		// the view cannot have rendered an image that was never served
		a.mu.Unlock()
		return false
	}
	from := a.state
	to, ok := Transition(from, ev.kind)
	if !ok {
		a.mu.Unlock()
		return false
	}
	a.state = to
	now := a.opts.Now()
	switch to {
	case AwaitingQR:
		a.invoice = ev.invoice
		a.deadline = now.Add(a.opts.QRWait)
	case AwaitingPayment:
		a.deadline = now.Add(a.opts.PaymentWait)
	case Paid:
		a.closeHost = true
	case Failed:
		a.failure = ev.failure
	case Idle:
		a.invoice = nil
		a.qr = nil
		a.failure = nil
	}
	invoice := a.invoice
	a.mu.Unlock()

	a.opts.Metrics.ObserveTransition(from.String(), to.String())
	a.logger.Info("checkout transition", "from", from.String(), "to", to.String(), "event", ev.kind.String())

	switch to {
	case AwaitingQR:
		a.qrTimer = time.AfterFunc(a.opts.QRWait, func() {
			a.post(event{kind: EventQRDeadline, failure: &Failure{Reason: ReasonQRTimeout, Message: "QR code was not ready in time"}})
		})
		a.ticker = time.NewTicker(a.opts.CountdownTick)
		a.tickC = a.ticker.C
		go a.fetchQR(invoice)
	case AwaitingPayment:
		stopTimer(a.qrTimer)
		a.payTimer = time.AfterFunc(a.opts.PaymentWait, func() {
			a.post(event{kind: EventPaymentDeadline})
		})
		a.startPoller(invoice.ID)
	case Failed:
		if ev.failure != nil {
			a.opts.Metrics.ObserveFailure(string(ev.failure.Reason))
			a.logger.Warn("checkout failed", "reason", string(ev.failure.Reason), "message", ev.failure.Message)
		}
	}

	end := to.Terminal() || to == Idle
	if end {
		a.teardown()
	}
	a.notify()
	return end
}

func (a *Attempt) handleQRReady(img *qrcheck.Image) bool {
	a.mu.Lock()
	if a.state != AwaitingQR {
		a.mu.Unlock()
		return false
	}
	a.qr = img
	a.mu.Unlock()

	a.logger.Info("qr ready", "width", img.Width, "height", img.Height)
	if a.opts.AutoConfirmQR {
		return a.handle(event{kind: EventQRLoaded})
	}
	a.notify()
	return false
}

func (a *Attempt) createInvoice() {
	inv, err := a.api.CreateInvoice(a.ctx, upstream.InvoiceRequest{
		UserID: a.req.UserID,
		Groups: a.req.ItemIDs,
		Amount: a.req.Amount,
	})
	if err != nil {
		if a.ctx.Err() != nil {
			return
		}
		a.post(event{kind: EventInvoiceFailed, failure: &Failure{Reason: ReasonInvoice, Message: err.Error()}})
		return
	}
	a.post(event{kind: EventInvoiceCreated, invoice: inv})
}

// fetchQR is bounded by the QR-wait budget; the deadline timer owns the
// timeout transition, so a fetch cut short by it posts nothing.
func (a *Attempt) fetchQR(inv *upstream.Invoice) {
	ctx, cancel := context.WithTimeout(a.ctx, a.opts.QRWait)
	defer cancel()

	raw, err := a.api.FetchQR(ctx, inv.ID, inv.Amount)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.post(event{kind: EventQRRejected, failure: &Failure{Reason: ReasonQRLoadError, Message: err.Error()}})
		return
	}

	img, err := qrcheck.Validate(raw.Data, raw.ContentType, a.opts.MinQRDimension)
	if err != nil {
		reason := ReasonQRInvalid
		if errors.Is(err, qrcheck.ErrUndersized) {
			reason = ReasonQRUndersized
		}
		a.post(event{kind: EventQRRejected, failure: &Failure{Reason: reason, Message: err.Error()}})
		return
	}
	a.post(event{kind: qrReady, qr: img})
}

func (a *Attempt) startPoller(invoiceID string) {
	p := upstream.NewStatusPoller(a.api, invoiceID, a.opts.PollInterval, a.logger)
	p.OnStatus = func(status string) bool {
		if status == upstream.StatusPaid {
			a.opts.Metrics.ObservePoll("paid")
			a.post(event{kind: EventStatusPaid})
			return true
		}
		a.opts.Metrics.ObservePoll("pending")
		return false
	}
	p.OnError = func(error) {
		a.opts.Metrics.ObservePoll("error")
	}
	a.mu.Lock()
	a.poller = p
	a.mu.Unlock()
	p.Start()
}

func (a *Attempt) statusPoller() *upstream.StatusPoller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.poller
}

// teardown stops every timer and the poll. Safe to call repeatedly.
func (a *Attempt) teardown() {
	stopTimer(a.qrTimer)
	stopTimer(a.payTimer)
	if a.ticker != nil {
		a.ticker.Stop()
		a.tickC = nil
	}
	if p := a.statusPoller(); p != nil {
		p.Stop()
	}
	a.cancel()
}

func (a *Attempt) notify() {
	if a.opts.OnChange != nil {
		a.opts.OnChange(a.Snapshot())
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
