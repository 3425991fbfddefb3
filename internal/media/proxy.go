package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxSourceBytes = 10 << 20
	maxDimension   = 2000
	cacheEntries   = 128
)

var (
	ErrNotAllowed = errors.New("image source is not in the catalog")
	ErrBadSize    = errors.New("invalid frame size")
)

// Proxy fetches catalog images and serves normalized copies. Sources are
// limited to what the allow func accepts.
type Proxy struct {
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string][]byte
	order []string
}

// NewProxy creates a proxy with the given fetch timeout
func NewProxy(timeout time.Duration, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		cache:  make(map[string][]byte),
	}
}

// Get returns src normalized into a w×h JPEG
func (p *Proxy) Get(ctx context.Context, src string, w, h int, allowed func(string) bool) ([]byte, error) {
	if allowed == nil || !allowed(src) {
		return nil, ErrNotAllowed
	}
	if w <= 0 || h <= 0 || w > maxDimension || h > maxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadSize, w, h)
	}

	key := fmt.Sprintf("%dx%d|%s", w, h, src)
	if data, ok := p.cached(key); ok {
		return data, nil
	}

	raw, err := p.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	data, err := Transform(raw, w, h)
	if err != nil {
		return nil, err
	}

	p.store(key, data)
	p.logger.Debug("image normalized", "src", src, "width", w, "height", h, "bytes", len(data))
	return data, nil
}

func (p *Proxy) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image source returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

func (p *Proxy) cached(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.cache[key]
	return data, ok
}

// store keeps at most cacheEntries results, evicting the oldest first
func (p *Proxy) store(key string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.cache[key]; ok {
		return
	}
	if len(p.order) >= cacheEntries {
		delete(p.cache, p.order[0])
		p.order = p.order[1:]
	}
	p.cache[key] = data
	p.order = append(p.order, key)
}
