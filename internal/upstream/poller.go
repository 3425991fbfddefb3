package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StatusFetcher is the single call the poller needs
type StatusFetcher interface {
	InvoiceStatus(ctx context.Context, invoiceID string) (string, error)
}

// StatusPoller polls one invoice's status on a fixed interval. Errors are
// recorded and swallowed; the next tick simply retries.
type StatusPoller struct {
	fetcher   StatusFetcher
	invoiceID string
	interval  time.Duration
	logger    *slog.Logger
	mu        sync.Mutex

	connected bool
	lastError error
	lastSeen  time.Time
	polls     int

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}

	// OnStatus receives every successfully fetched status. Returning true
	// stops the poller before another request is issued.
	OnStatus func(status string) (stop bool)

	// OnError observes swallowed poll errors
	OnError func(err error)
}

// NewStatusPoller creates a poller for invoiceID
func NewStatusPoller(fetcher StatusFetcher, invoiceID string, interval time.Duration, logger *slog.Logger) *StatusPoller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StatusPoller{
		fetcher:   fetcher,
		invoiceID: invoiceID,
		interval:  interval,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// Start begins the polling loop. The first poll happens one interval after
// Start, matching a page interval timer.
func (p *StatusPoller) Start() {
	go p.pollLoop()
}

// Stop stops the polling loop and cancels any in-flight request. It is safe
// to call more than once.
func (p *StatusPoller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.cancel()
	})
}

// Wait blocks until the loop goroutine has exited
func (p *StatusPoller) Wait() {
	<-p.exited
}

// Status returns the current connection status
func (p *StatusPoller) Status() ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	errStr := ""
	if p.lastError != nil {
		errStr = p.lastError.Error()
	}

	return ConnectionStatus{
		Connected: p.connected,
		LastError: errStr,
		LastSeen:  p.lastSeen,
		Polls:     p.polls,
	}
}

func (p *StatusPoller) pollLoop() {
	defer close(p.exited)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			// Stop may have raced the tick
			select {
			case <-p.done:
				return
			default:
			}
			if p.poll() {
				p.Stop()
				return
			}
		}
	}
}

func (p *StatusPoller) poll() bool {
	p.mu.Lock()
	p.polls++
	p.mu.Unlock()

	status, err := p.fetcher.InvoiceStatus(p.ctx, p.invoiceID)
	if err != nil {
		if p.ctx.Err() != nil {
			return true
		}
		p.setError(err)
		p.logger.Debug("status poll failed", "invoice_id", p.invoiceID, "error", err)
		if p.OnError != nil {
			p.OnError(err)
		}
		return false
	}

	p.mu.Lock()
	p.connected = true
	p.lastError = nil
	p.lastSeen = time.Now()
	p.mu.Unlock()

	if p.OnStatus != nil {
		return p.OnStatus(status)
	}
	return false
}

func (p *StatusPoller) setError(err error) {
	p.mu.Lock()
	p.connected = false
	p.lastError = err
	p.mu.Unlock()
}
