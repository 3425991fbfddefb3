// Package catalog loads the purchasable group list and unit price.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jetsetgo/group-checkout/internal/upstream"
)

// DefaultPrice is used when the upstream price is absent or non-numeric
const DefaultPrice int64 = 25000

// ErrEmptyCatalog means the config loaded but listed no items
var ErrEmptyCatalog = errors.New("catalog has no items")

// Item is one purchasable group-access listing
type Item struct {
	ID        string
	Name      string
	ShortDesc string
	LongDesc  string
	ImageURL  string
}

// Catalog is an immutable snapshot of one config fetch
type Catalog struct {
	UnitPrice int64
	Items     []Item

	index map[string]int
}

// Fetcher is the single upstream call the loader makes
type Fetcher interface {
	FetchConfig(ctx context.Context) (*upstream.ConfigPayload, error)
}

// Load performs the one uncached config fetch and parses it. A fetch or parse
// failure, or an empty item list, returns an error alongside a usable (empty)
// catalog so the page can render its empty state. There is no retry.
func Load(ctx context.Context, f Fetcher, defaultPrice int64) (*Catalog, error) {
	payload, err := f.FetchConfig(ctx)
	if err != nil {
		return New(defaultPrice, nil), fmt.Errorf("load catalog: %w", err)
	}
	return Parse(payload, defaultPrice)
}

// Parse builds a catalog from a raw config payload
func Parse(payload *upstream.ConfigPayload, defaultPrice int64) (*Catalog, error) {
	if defaultPrice <= 0 {
		defaultPrice = DefaultPrice
	}
	if payload == nil {
		return New(defaultPrice, nil), ErrEmptyCatalog
	}

	c := New(parsePrice(payload.PriceIDR, defaultPrice), parseGroups(payload.Groups))
	if c.Empty() {
		return c, ErrEmptyCatalog
	}
	return c, nil
}

// New builds a catalog from already-parsed items. Duplicate ids keep the
// first occurrence.
func New(unitPrice int64, items []Item) *Catalog {
	c := &Catalog{
		UnitPrice: unitPrice,
		Items:     make([]Item, 0, len(items)),
		index:     make(map[string]int, len(items)),
	}
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if _, dup := c.index[it.ID]; dup {
			continue
		}
		c.index[it.ID] = len(c.Items)
		c.Items = append(c.Items, it)
	}
	return c
}

// Empty reports whether there is nothing to sell
func (c *Catalog) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// Has reports whether id is a loaded item
func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Item returns the item with the given id
func (c *Catalog) Item(id string) (Item, bool) {
	i, ok := c.index[id]
	if !ok {
		return Item{}, false
	}
	return c.Items[i], true
}

// ImageURLs returns the set of item image URLs
func (c *Catalog) ImageURLs() map[string]bool {
	urls := make(map[string]bool, len(c.Items))
	for _, it := range c.Items {
		if it.ImageURL != "" {
			urls[it.ImageURL] = true
		}
	}
	return urls
}

func parsePrice(raw json.RawMessage, def int64) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return def
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	switch p := v.(type) {
	case float64:
		if p > 0 && p < math.MaxInt64 {
			return int64(p)
		}
	case string:
		// Leading integer digits, the way a lenient page parser reads "25000 IDR"
		digits := leadingDigits(strings.TrimSpace(p))
		if n, err := strconv.ParseInt(digits, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

type rawGroup struct {
	ID       any    `json:"id"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	LongDesc string `json:"long_desc"`
	Image    string `json:"image"`
}

func parseGroups(raw json.RawMessage) []Item {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}

	items := make([]Item, 0, len(list))
	for _, entry := range list {
		var g rawGroup
		if err := json.Unmarshal(entry, &g); err != nil {
			continue
		}
		id := clean(idString(g.ID))
		if id == "" {
			continue
		}
		name := clean(g.Name)
		if name == "" {
			name = id
		}
		short := clean(g.Desc)
		long := clean(g.LongDesc)
		if long == "" {
			long = short
		}
		items = append(items, Item{
			ID:        id,
			Name:      name,
			ShortDesc: short,
			LongDesc:  long,
			ImageURL:  strings.TrimSpace(g.Image),
		})
	}
	return items
}

// idString accepts ids sent as strings or numbers
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
