// Package render turns catalog, selection and checkout state into HTML.
// Every piece of catalog or upstream text goes through html/template
// contextual escaping.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/jetsetgo/group-checkout/internal/catalog"
	"github.com/jetsetgo/group-checkout/internal/checkout"
	"github.com/jetsetgo/group-checkout/internal/selection"
	"github.com/jetsetgo/group-checkout/internal/textfmt"
)

const (
	labelSelect   = "Pilih Grup"
	labelDeselect = "Batal"
)

// Options control card text and image framing
type Options struct {
	SupportHandle string
	MaxDescChars  int
	FallbackDesc  string
	ImageWidth    int
	ImageHeight   int
}

// Renderer holds the parsed page templates
type Renderer struct {
	opts Options
	tmpl *template.Template
}

// New parses the templates
func New(opts Options) (*Renderer, error) {
	if opts.MaxDescChars <= 0 {
		opts.MaxDescChars = textfmt.MaxDescChars
	}
	if opts.ImageWidth <= 0 {
		opts.ImageWidth = 600
	}
	if opts.ImageHeight <= 0 {
		opts.ImageHeight = 400
	}

	// the root carries the func map and no body; each named template is
	// associated with it exactly once
	t := template.New("miniapp").Funcs(template.FuncMap{
		"rupiah": textfmt.FormatRupiah,
	})
	for _, tpl := range []struct{ name, text string }{
		{"page", pageTemplate},
		{"catalog", catalogTemplate},
		{"detail", detailTemplate},
		{"payment", paymentTemplate},
	} {
		if _, err := t.New(tpl.name).Parse(tpl.text); err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", tpl.name, err)
		}
	}
	return &Renderer{opts: opts, tmpl: t}, nil
}

// Card is one catalog entry as shown in the list
type Card struct {
	ID       string
	Name     string
	Summary  string
	ImageSrc string
	Selected bool
}

// ButtonLabel is the toggle button text
func (c Card) ButtonLabel() string {
	if c.Selected {
		return labelDeselect
	}
	return labelSelect
}

// Summary is the footer: badge, total and the checkout and select-all controls
type Summary struct {
	Count       int
	Total       int64
	CanCheckout bool
	AllState    string
	NoIdentity  bool
}

// CatalogView is the list plus its footer
type CatalogView struct {
	SessionID string
	Empty     bool
	LoadError string
	Cards     []Card
	Summary   Summary
}

// PageData is the full Mini App page
type PageData struct {
	CatalogView
	Payment Payment
}

// Cards builds the card list for c with selection state from sel
func (r *Renderer) Cards(c *catalog.Catalog, sel *selection.Set) []Card {
	cards := make([]Card, 0, len(c.Items))
	for _, it := range c.Items {
		desc := it.ShortDesc
		if desc == "" {
			desc = r.opts.FallbackDesc
		}
		cards = append(cards, Card{
			ID:       it.ID,
			Name:     it.Name,
			Summary:  textfmt.Truncate(desc, r.opts.MaxDescChars),
			ImageSrc: MediaURL(it.ImageURL, r.opts.ImageWidth, r.opts.ImageHeight),
			Selected: sel.Selected(it.ID),
		})
	}
	return cards
}

// SummaryOf builds the footer for sel
func SummaryOf(sel *selection.Set, identityResolved bool) Summary {
	return Summary{
		Count:       sel.Count(),
		Total:       sel.Total(),
		CanCheckout: sel.CanCheckout(identityResolved),
		AllState:    sel.AllState().String(),
		NoIdentity:  !identityResolved,
	}
}

// MediaURL is the media proxy address for src framed at w×h. An empty
// source stays empty so the card shows its placeholder.
func MediaURL(src string, w, h int) string {
	if src == "" {
		return ""
	}
	q := url.Values{}
	q.Set("src", src)
	q.Set("w", strconv.Itoa(w))
	q.Set("h", strconv.Itoa(h))
	return "/media?" + q.Encode()
}

// Page writes the whole document
func (r *Renderer) Page(w io.Writer, data PageData) error {
	return r.tmpl.ExecuteTemplate(w, "page", data)
}

// Catalog renders the list and footer fragment
func (r *Renderer) Catalog(data CatalogView) (string, error) {
	return r.fragment("catalog", data)
}

// Detail is the detail sheet of one item
type Detail struct {
	ID          string
	Name        string
	Description string
	ImageSrc    string
	HeroHeight  int
	Selected    bool
}

// ButtonLabel is the sheet's action text
func (d Detail) ButtonLabel() string {
	if d.Selected {
		return labelDeselect
	}
	return labelSelect
}

// DetailFor builds the sheet for it. The long description is shown in full.
func (r *Renderer) DetailFor(it catalog.Item, selected bool, viewport float64) Detail {
	hero := HeroHeight(viewport, EstimateNonImage(it.Name, it.LongDesc))
	return Detail{
		ID:          it.ID,
		Name:        it.Name,
		Description: it.LongDesc,
		ImageSrc:    MediaURL(it.ImageURL, r.opts.ImageWidth, hero),
		HeroHeight:  hero,
		Selected:    selected,
	}
}

// Detail renders the sheet fragment
func (r *Renderer) Detail(d Detail) (string, error) {
	return r.fragment("detail", d)
}

// Payment renders the payment surface fragment
func (r *Renderer) Payment(p Payment) (string, error) {
	return r.fragment("payment", p)
}

func (r *Renderer) fragment(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Screen names which payment surface is shown
type Screen string

const (
	ScreenHidden    Screen = "hidden"
	ScreenLoading   Screen = "loading"
	ScreenWaitingQR Screen = "waiting_qr"
	ScreenQR        Screen = "qr"
	ScreenSuccess   Screen = "success"
	ScreenExpired   Screen = "expired"
	ScreenFailed    Screen = "failed"
	ScreenError     Screen = "error"
)

// Payment is the view model of the payment surface
type Payment struct {
	Screen     Screen
	State      string
	Title      string
	Message    string
	Detail     string
	Amount     int64
	Countdown  string
	QRSrc      string
	SupportURL string
	CloseHost  bool
}

// Visible reports whether the surface is open
func (p Payment) Visible() bool { return p.Screen != ScreenHidden }

// Terminal reports whether only the exit actions remain
func (p Payment) Terminal() bool {
	return p.Screen == ScreenExpired || p.Screen == ScreenFailed || p.Screen == ScreenError
}

// Closable reports whether the surface offers a plain close button
func (p Payment) Closable() bool {
	return p.Visible() && !p.Terminal()
}

// CloseLabel is the text of the plain close button
func (p Payment) CloseLabel() string {
	if p.Screen == ScreenSuccess {
		return "Kembali ke katalog"
	}
	return "Tutup"
}

// PaymentFor maps an attempt snapshot onto its surface. sessionID scopes
// the QR image address.
func (r *Renderer) PaymentFor(sessionID string, s checkout.Snapshot) Payment {
	p := Payment{
		State:      s.State.String(),
		Amount:     s.Amount,
		SupportURL: SupportURL(r.opts.SupportHandle),
	}

	switch s.State {
	case checkout.Idle:
		p.Screen = ScreenHidden
	case checkout.CreatingInvoice:
		p.Screen = ScreenLoading
		p.Title = "Pembayaran GoPay"
		p.Message = "Membuat invoice…"
	case checkout.AwaitingQR:
		p.Screen = ScreenWaitingQR
		p.Title = "Pembayaran GoPay"
		p.Message = "QRIS sedang dimuat…"
		p.Countdown = textfmt.Countdown(s.Remaining)
		if s.QRReady {
			p.Screen = ScreenQR
			p.QRSrc = qrURL(sessionID, s.AttemptID)
		}
	case checkout.AwaitingPayment:
		p.Screen = ScreenQR
		p.Title = "Pembayaran GoPay"
		p.Message = "Scan QRIS di atas untuk membayar."
		p.Countdown = textfmt.Countdown(s.Remaining)
		p.QRSrc = qrURL(sessionID, s.AttemptID)
	case checkout.Paid:
		p.Screen = ScreenSuccess
		p.Title = "Pembayaran berhasil"
		p.Message = "Link undangan dikirim lewat bot."
		p.CloseHost = s.CloseHost
	case checkout.Expired:
		p.Screen = ScreenExpired
		p.Title = "Waktu pembayaran habis"
		p.Message = "Invoice sudah kedaluwarsa. Silakan checkout ulang."
		p.Countdown = textfmt.Countdown(0)
	case checkout.Failed:
		p.Screen = ScreenFailed
		p.Title = "Pembayaran gagal"
		if s.Failure != nil {
			p.Message = failureMessage(s.Failure.Reason)
			p.Detail = s.Failure.Message
		}
	}
	return p
}

// PaymentError is the inline surface for a checkout that could not start
func (r *Renderer) PaymentError(err error) Payment {
	p := Payment{
		Screen:     ScreenError,
		State:      checkout.Idle.String(),
		Title:      "Checkout gagal",
		SupportURL: SupportURL(r.opts.SupportHandle),
	}
	switch {
	case errors.Is(err, checkout.ErrNoIdentity):
		p.Message = "Gagal membaca user Telegram. Buka lewat tombol bot."
	case errors.Is(err, checkout.ErrEmptySelection):
		p.Message = "Pilih minimal satu grup."
	default:
		p.Message = "Create invoice gagal:"
		p.Detail = err.Error()
	}
	return p
}

func failureMessage(reason checkout.FailureReason) string {
	switch reason {
	case checkout.ReasonInvoice:
		return "Create invoice gagal:"
	case checkout.ReasonQRTimeout:
		return "QRIS tidak siap tepat waktu."
	case checkout.ReasonQRUndersized:
		return "QRIS tidak valid (ukuran terlalu kecil)."
	default:
		return "QRIS gagal dimuat."
	}
}

func qrURL(sessionID, attemptID string) string {
	return "/api/session/" + url.PathEscape(sessionID) + "/checkout/qr?a=" + url.QueryEscape(attemptID)
}

// SupportURL is the support deep link, empty when no handle is configured
func SupportURL(handle string) string {
	if handle == "" {
		return ""
	}
	return "https://t.me/" + url.PathEscape(strings.TrimPrefix(handle, "@"))
}
