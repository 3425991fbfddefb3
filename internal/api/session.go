package api

import (
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jetsetgo/group-checkout/internal/catalog"
	"github.com/jetsetgo/group-checkout/internal/checkout"
	"github.com/jetsetgo/group-checkout/internal/config"
	"github.com/jetsetgo/group-checkout/internal/identity"
	"github.com/jetsetgo/group-checkout/internal/metrics"
	"github.com/jetsetgo/group-checkout/internal/render"
	"github.com/jetsetgo/group-checkout/internal/selection"
)

// Session is one open Mini App page: its catalog, selection, identity and
// current checkout attempt.
type Session struct {
	ID string

	// serializes checkout starts so a double tap cannot open two attempts
	checkoutMu sync.Mutex

	mu       sync.Mutex
	catalog  *catalog.Catalog
	loadErr  error
	sel      *selection.Set
	query    url.Values
	identity identity.Resolved
	resolved bool
	attempt  *checkout.Attempt
}

func newSession(c *catalog.Catalog, loadErr error, query url.Values) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		catalog: c,
		loadErr: loadErr,
		sel:     selection.New(c),
		query:   query,
	}
	// the uid query parameter is usable before the host reports anything
	if res, err := identity.Resolve(identity.Inputs{Query: query}); err == nil {
		s.identity, s.resolved = res, true
	}
	return s
}

// Identify resolves the user id from the host context, falling back to the
// page query
func (s *Session) Identify(sessionUserID int64, initData string) (identity.Resolved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := identity.Resolve(identity.Inputs{
		SessionUserID: sessionUserID,
		InitData:      initData,
		Query:         s.query,
	})
	if err != nil {
		return identity.Resolved{}, err
	}
	s.identity, s.resolved = res, true
	return res, nil
}

// Toggle flips one item
func (s *Session) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.Toggle(id)
}

// ToggleAll applies the select-all control
func (s *Session) ToggleAll() selection.AllState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel.ToggleAll()
}

// Item looks up a catalog item and whether it is selected
func (s *Session) Item(id string) (catalog.Item, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.catalog.Item(id)
	return it, s.sel.Selected(id), ok
}

// CatalogView renders the list and footer state
func (s *Session) CatalogView(r *render.Renderer) render.CatalogView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := render.CatalogView{
		SessionID: s.ID,
		Empty:     s.catalog.Empty(),
		Cards:     r.Cards(s.catalog, s.sel),
		Summary:   render.SummaryOf(s.sel, s.resolved),
	}
	if s.loadErr != nil {
		v.LoadError = s.loadErr.Error()
	}
	return v
}

// CheckoutRequest captures what would be paid for right now
func (s *Session) CheckoutRequest() checkout.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := checkout.Request{ItemIDs: s.sel.IDs(), Amount: s.sel.Total()}
	if s.resolved {
		req.UserID = s.identity.UserID
	}
	return req
}

// Attempt returns the current attempt, or nil
func (s *Session) Attempt() *checkout.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// SwapAttempt installs next and returns the one it replaced
func (s *Session) SwapAttempt(next *checkout.Attempt) *checkout.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.attempt
	s.attempt = next
	return prev
}

func (s *Session) hasImage(src string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.ImageURLs()[src]
}

// Store holds the open sessions and sweeps idle ones
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	lastSeen map[string]time.Time

	ttl   time.Duration
	every time.Duration
	now   func() time.Time

	metrics *metrics.Metrics
	logger  *slog.Logger

	// OnEvict runs for each swept session after it leaves the store
	OnEvict func(*Session)

	done     chan struct{}
	stopOnce sync.Once
}

// NewStore creates an empty store
func NewStore(cfg config.SessionConfig, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	every := cfg.SweepInterval
	if every <= 0 {
		every = 5 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
		ttl:      ttl,
		every:    every,
		now:      time.Now,
		metrics:  m,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Create opens a session over c
func (st *Store) Create(c *catalog.Catalog, loadErr error, query url.Values) *Session {
	s := newSession(c, loadErr, query)

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.lastSeen[s.ID] = st.now()
	st.mu.Unlock()

	st.metrics.SessionOpened()
	return s
}

// Get returns the session and marks it as seen
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if ok {
		st.lastSeen[id] = st.now()
	}
	return s, ok
}

// Len returns the number of open sessions
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// AllowsImage reports whether src is an image of any open session's catalog
func (st *Store) AllowsImage(src string) bool {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	for _, s := range sessions {
		if s.hasImage(src) {
			return true
		}
	}
	return false
}

// Sweep evicts sessions idle longer than the TTL and closes their attempts
func (st *Store) Sweep() int {
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	var evicted []*Session
	for id, seen := range st.lastSeen {
		if seen.Before(cutoff) {
			evicted = append(evicted, st.sessions[id])
			delete(st.sessions, id)
			delete(st.lastSeen, id)
		}
	}
	st.mu.Unlock()

	for _, s := range evicted {
		st.evict(s)
	}
	if len(evicted) > 0 {
		st.logger.Info("swept idle sessions", "count", len(evicted))
	}
	return len(evicted)
}

// CloseAll evicts every session
func (st *Store) CloseAll() {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.sessions = make(map[string]*Session)
	st.lastSeen = make(map[string]time.Time)
	st.mu.Unlock()

	for _, s := range all {
		st.evict(s)
	}
}

func (st *Store) evict(s *Session) {
	if a := s.SwapAttempt(nil); a != nil {
		a.Close()
	}
	st.metrics.SessionClosed()
	if st.OnEvict != nil {
		st.OnEvict(s)
	}
}

// Start begins the sweep loop
func (st *Store) Start() {
	go st.sweepLoop()
}

// Stop stops the sweep loop
func (st *Store) Stop() {
	st.stopOnce.Do(func() { close(st.done) })
}

func (st *Store) sweepLoop() {
	ticker := time.NewTicker(st.every)
	defer ticker.Stop()

	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}
