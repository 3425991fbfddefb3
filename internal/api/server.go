package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jetsetgo/group-checkout/internal/catalog"
	"github.com/jetsetgo/group-checkout/internal/checkout"
	"github.com/jetsetgo/group-checkout/internal/config"
	"github.com/jetsetgo/group-checkout/internal/logging"
	"github.com/jetsetgo/group-checkout/internal/media"
	"github.com/jetsetgo/group-checkout/internal/metrics"
	"github.com/jetsetgo/group-checkout/internal/render"
	"github.com/jetsetgo/group-checkout/internal/selection"
)

// Upstream is what the server needs from the config/invoice API
type Upstream interface {
	catalog.Fetcher
	checkout.API
}

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	upstream Upstream
	renderer *render.Renderer
	media    *media.Proxy
	sessions *Store
	hub      *Hub
	history  *AttemptBuffer
	logBuf   *logging.Buffer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	router     http.Handler
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, up Upstream, logBuf *logging.Buffer, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	renderer, err := render.New(render.Options{
		SupportHandle: cfg.Support.Handle,
		MaxDescChars:  cfg.Catalog.MaxDescChars,
		FallbackDesc:  cfg.Catalog.FallbackDesc,
		ImageWidth:    cfg.Catalog.ImageWidth,
		ImageHeight:   cfg.Catalog.ImageHeight,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		upstream: up,
		renderer: renderer,
		media:    media.NewProxy(cfg.Upstream.Timeout, logger),
		sessions: NewStore(cfg.Session, m, logger),
		hub:      NewHub(0, logger),
		history:  NewAttemptBuffer(cfg.Checkout.HistorySize),
		logBuf:   logBuf,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	s.sessions.OnEvict = func(sess *Session) { s.hub.CloseSession(sess.ID) }
	s.router = s.setupRoutes()
	return s, nil
}

// Handler exposes the instrumented router
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "miniapp")
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	// Operator surface
	r.Get("/health", s.handleHealth)
	r.Get("/api/attempts", s.handleAttempts)
	r.Get("/api/logs", s.handleLogs)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Mini App
	r.Get("/", s.handlePage)
	r.Get("/media", s.handleMedia)
	r.Route("/api/session/{sid}", func(sr chi.Router) {
		sr.Post("/identity", s.handleIdentity)
		sr.Post("/items/{id}/toggle", s.handleToggle)
		sr.Post("/select-all", s.handleSelectAll)
		sr.Get("/detail/{id}", s.handleDetail)
		sr.Post("/checkout", s.handleCheckout)
		sr.Post("/checkout/close", s.handleClose)
		sr.Post("/checkout/qr-loaded", s.handleQRLoaded)
		sr.Post("/checkout/qr-error", s.handleQRError)
		sr.Get("/checkout/qr", s.handleQR)
		sr.Get("/payment", s.handlePayment)
		sr.Get("/ws", s.handleWS)
	})
	return r
}

// Start starts the HTTP server and the session sweeper
func (s *Server) Start() error {
	s.sessions.Start()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and tears down every session
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Stop()
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.sessions.CloseAll()
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"sessions":    s.sessions.Len(),
		"connections": s.hub.Count(),
	})
}

// handleAttempts returns recent checkout attempts, newest first
func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": s.history.Entries(),
	})
}

// handleLogs returns captured log entries, optionally filtered by ?level=warn,error
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var levels []string
	for _, l := range strings.Split(r.URL.Query().Get("level"), ",") {
		if l = strings.TrimSpace(l); l != "" {
			levels = append(levels, l)
		}
	}
	var entries []logging.Entry
	if s.logBuf != nil {
		entries = s.logBuf.Entries(levels)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs": entries,
	})
}

// handlePage loads the catalog once and serves the page for a new session
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Upstream.Timeout)
	defer cancel()

	c, err := catalog.Load(ctx, s.upstream, s.config.Catalog.DefaultPrice)
	s.metrics.ObserveCatalogLoad(err == nil)
	if err != nil {
		s.logger.Warn("catalog load failed", "error", err)
	}

	sess := s.sessions.Create(c, err, r.URL.Query())
	s.logger.Info("session opened", "session_id", sess.ID, "items", len(c.Items), "unit_price", c.UnitPrice)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.renderer.Page(w, render.PageData{
		CatalogView: sess.CatalogView(s.renderer),
		Payment:     render.Payment{Screen: render.ScreenHidden},
	}); err != nil {
		s.logger.Error("page render failed", "error", err)
	}
}

// handleMedia serves a catalog image normalized to the requested frame
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, _ := strconv.Atoi(q.Get("w"))
	height, _ := strconv.Atoi(q.Get("h"))

	data, err := s.media.Get(r.Context(), q.Get("src"), width, height, s.sessions.AllowsImage)
	switch {
	case errors.Is(err, media.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "not_allowed", err.Error())
		return
	case errors.Is(err, media.ErrBadSize):
		writeError(w, http.StatusBadRequest, "bad_size", err.Error())
		return
	case err != nil:
		s.logger.Warn("media fetch failed", "src", q.Get("src"), "error", err)
		writeError(w, http.StatusBadGateway, "media_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

type identityRequest struct {
	UserID   int64  `json:"user_id"`
	InitData string `json:"init_data"`
}

// handleIdentity records the host context and re-renders the footer
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req identityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	extra := map[string]any{"resolved": false}
	if res, err := sess.Identify(req.UserID, req.InitData); err == nil {
		extra["resolved"] = true
		extra["source"] = res.Source
	} else {
		s.logger.Info("identity unresolved", "session_id", sess.ID)
	}
	s.writeCatalog(w, sess, extra)
}

// handleToggle flips one item's selection
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	on, err := sess.Toggle(chi.URLParam(r, "id"))
	if errors.Is(err, selection.ErrUnknownItem) {
		writeError(w, http.StatusNotFound, "unknown_item", err.Error())
		return
	}
	s.writeCatalog(w, sess, map[string]any{"selected": on})
}

// handleSelectAll applies the tri-state select-all control
func (s *Server) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	state := sess.ToggleAll()
	s.writeCatalog(w, sess, map[string]any{"all": state.String()})
}

// handleDetail renders the detail sheet; ?vh is the page's viewport height
func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	it, selected, found := sess.Item(chi.URLParam(r, "id"))
	if !found {
		writeError(w, http.StatusNotFound, "unknown_item", "item is not in the catalog")
		return
	}
	vh, _ := strconv.ParseFloat(r.URL.Query().Get("vh"), 64)

	html, err := s.renderer.Detail(s.renderer.DetailFor(it, selected, vh))
	if err != nil {
		s.logger.Error("detail render failed", "error", err)
		writeError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"html": html})
}

// handleCheckout starts a fresh attempt unless one is still running
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.checkoutMu.Lock()
	defer sess.checkoutMu.Unlock()

	if a := sess.Attempt(); a != nil {
		if st := a.State(); st != checkout.Idle && !st.Terminal() {
			writeJSON(w, http.StatusOK, map[string]any{"payment": s.paymentMessage(sess.ID, a.Snapshot())})
			return
		}
	}
	if prev := sess.SwapAttempt(nil); prev != nil {
		prev.Close()
	}

	req := sess.CheckoutRequest()
	opts := checkout.OptionsFromConfig(s.config.Checkout)
	opts.Logger = s.logger.With("session_id", sess.ID)
	opts.Metrics = s.metrics
	opts.OnChange = func(snap checkout.Snapshot) {
		s.publish(sess, req.UserID, snap)
	}

	a, err := checkout.Start(r.Context(), s.upstream, req, opts)
	if err != nil {
		s.logger.Info("checkout rejected", "session_id", sess.ID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   checkoutErrorCode(err),
			"payment": s.viewMessage(s.renderer.PaymentError(err)),
		})
		return
	}
	sess.SwapAttempt(a)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"attempt_id": a.ID(),
		"payment":    s.paymentMessage(sess.ID, a.Snapshot()),
	})
}

// handlePayment returns the current payment surface. The page calls it to
// resync after its websocket drops.
func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	msg := s.viewMessage(render.Payment{Screen: render.ScreenHidden})
	if a := sess.Attempt(); a != nil {
		msg = s.paymentMessage(sess.ID, a.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": msg})
}

// handleClose cancels or dismisses the payment surface
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if a := sess.SwapAttempt(nil); a != nil {
		a.Close()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment": s.viewMessage(render.Payment{Screen: render.ScreenHidden}),
	})
}

type qrLoadedRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// handleQRLoaded receives the rendered QR's natural size from the page
func (s *Server) handleQRLoaded(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	a, ok := s.attempt(w, sess)
	if !ok {
		return
	}

	var req qrLoadedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	a.QRLoaded(req.Width, req.Height)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleQRError receives a QR render failure from the page
func (s *Server) handleQRError(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	a, ok := s.attempt(w, sess)
	if !ok {
		return
	}
	a.QRLoadError()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleQR serves the validated QR bytes of the current attempt
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	a := sess.Attempt()
	if a == nil {
		writeError(w, http.StatusNotFound, "no_attempt", "no checkout in progress")
		return
	}
	if id := r.URL.Query().Get("a"); id != "" && id != a.ID() {
		writeError(w, http.StatusNotFound, "stale_attempt", "attempt is no longer current")
		return
	}
	img := a.QRImage()
	if img == nil {
		writeError(w, http.StatusNotFound, "qr_not_ready", "QR code is not ready")
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img.Data)
}

// handleWS streams payment surface pushes for the session
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var initial []byte
	if a := sess.Attempt(); a != nil {
		initial, _ = json.Marshal(s.paymentMessage(sess.ID, a.Snapshot()))
	}
	if err := s.hub.Serve(w, r, sess.ID, initial); err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sess.ID, "error", err)
	}
}

// publish records an attempt snapshot and pushes it to the page. Snapshots
// from an attempt the session has moved past only reach the history.
func (s *Server) publish(sess *Session, userID int64, snap checkout.Snapshot) {
	if snap.State == checkout.CreatingInvoice {
		s.history.Add(AttemptRecord{
			ID:        snap.AttemptID,
			SessionID: sess.ID,
			UserID:    userID,
			Items:     snap.ItemIDs,
			Amount:    snap.Amount,
			State:     snap.State.String(),
			CreatedAt: s.now(),
		})
	} else {
		s.history.Update(snap, s.now())
	}

	if cur := sess.Attempt(); cur != nil && cur.ID() != snap.AttemptID {
		return
	}
	data, err := json.Marshal(s.paymentMessage(sess.ID, snap))
	if err != nil {
		s.logger.Error("failed to marshal payment push", "error", err)
		return
	}
	s.hub.Broadcast(sess.ID, data)
}

func (s *Server) paymentMessage(sessionID string, snap checkout.Snapshot) Message {
	return s.viewMessage(s.renderer.PaymentFor(sessionID, snap))
}

func (s *Server) viewMessage(p render.Payment) Message {
	html, err := s.renderer.Payment(p)
	if err != nil {
		s.logger.Error("payment render failed", "error", err)
	}
	return Message{
		Type:      "payment",
		Screen:    string(p.Screen),
		State:     p.State,
		HTML:      html,
		Countdown: p.Countdown,
		Message:   p.Message,
		CloseHost: p.CloseHost,
	}
}

func (s *Server) writeCatalog(w http.ResponseWriter, sess *Session, extra map[string]any) {
	html, err := s.renderer.Catalog(sess.CatalogView(s.renderer))
	if err != nil {
		s.logger.Error("catalog render failed", "error", err)
		writeError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}
	body := map[string]any{"catalog": html}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "sid"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_session", "session expired; reload the page")
	}
	return sess, ok
}

func (s *Server) attempt(w http.ResponseWriter, sess *Session) (*checkout.Attempt, bool) {
	a := sess.Attempt()
	if a == nil {
		writeError(w, http.StatusConflict, "no_attempt", "no checkout in progress")
	}
	return a, a != nil
}

func checkoutErrorCode(err error) string {
	switch {
	case errors.Is(err, checkout.ErrNoIdentity):
		return "no_identity"
	case errors.Is(err, checkout.ErrEmptySelection):
		return "empty_selection"
	default:
		return "checkout_failed"
	}
}

// decodeBody accepts an empty body as the zero value
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
