package upstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusPaid is the only terminal success value the status endpoint reports
const StatusPaid = "PAID"

// ConfigPayload is the raw /api/config body. Fields stay raw because the
// upstream sends price as a number or a string and groups may be missing or
// malformed; the catalog package owns the defaults.
type ConfigPayload struct {
	PriceIDR json.RawMessage `json:"price_idr"`
	Groups   json.RawMessage `json:"groups"`
}

// InvoiceRequest is the POST /api/invoice body
type InvoiceRequest struct {
	UserID int64    `json:"user_id"`
	Groups []string `json:"groups"`
	Amount int64    `json:"amount"`
}

// Invoice is the part of the invoice response the checkout uses
type Invoice struct {
	ID     string `json:"invoice_id"`
	Amount int64  `json:"amount,omitempty"`
}

// QRImage is an undecoded QR response
type QRImage struct {
	Data        []byte
	ContentType string
}

type statusResponse struct {
	Status string `json:"status"`
}

// StatusError is a non-2xx upstream response. Its message is the raw body
// text so it can be shown to the user as the server wrote it.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	return fmt.Sprintf("%s returned %d", e.Op, e.Code)
}

// ConnectionStatus represents the status poll connection state
type ConnectionStatus struct {
	Connected bool      `json:"connected"`
	LastError string    `json:"last_error,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
	Polls     int       `json:"polls"`
}
