// Package checkout runs one invoice/payment attempt: invoice creation, the
// QR-wait phase, the payment phase with status polling, and teardown.
package checkout

// State is a checkout attempt's position in the flow
type State int

const (
	Idle State = iota
	CreatingInvoice
	AwaitingQR
	AwaitingPayment
	Paid
	Expired
	Failed
)

var stateNames = [...]string{
	Idle:            "IDLE",
	CreatingInvoice: "CREATING_INVOICE",
	AwaitingQR:      "AWAITING_QR",
	AwaitingPayment: "AWAITING_PAYMENT",
	Paid:            "PAID",
	Expired:         "EXPIRED",
	Failed:          "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText lets states appear by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition except Close can happen
func (s State) Terminal() bool {
	return s == Paid || s == Expired || s == Failed
}

// Phase is the countdown shown for a state
type Phase string

const (
	PhaseIdle            Phase = "IDLE"
	PhaseAwaitingQR      Phase = "AWAITING_QR"
	PhaseAwaitingPayment Phase = "AWAITING_PAYMENT"
	PhaseExpired         Phase = "EXPIRED"
)

// Phase projects the state onto its countdown phase
func (s State) Phase() Phase {
	switch s {
	case AwaitingQR:
		return PhaseAwaitingQR
	case AwaitingPayment:
		return PhaseAwaitingPayment
	case Expired:
		return PhaseExpired
	default:
		return PhaseIdle
	}
}

// EventKind is an input to the state machine
type EventKind int

const (
	EventCheckout EventKind = iota + 1
	EventInvoiceCreated
	EventInvoiceFailed
	EventQRLoaded
	EventQRRejected
	EventQRDeadline
	EventStatusPaid
	EventPaymentDeadline
	EventClose
)

var eventNames = map[EventKind]string{
	EventCheckout:        "checkout",
	EventInvoiceCreated:  "invoice_created",
	EventInvoiceFailed:   "invoice_failed",
	EventQRLoaded:        "qr_loaded",
	EventQRRejected:      "qr_rejected",
	EventQRDeadline:      "qr_deadline",
	EventStatusPaid:      "status_paid",
	EventPaymentDeadline: "payment_deadline",
	EventClose:           "close",
}

func (e EventKind) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "unknown"
}

// Transition is the single dispatcher of the checkout flow. It returns the
// next state and whether the event applied; events that do not apply to the
// current state are ignored, so each terminal state is entered at most once.
func Transition(s State, e EventKind) (State, bool) {
	if e == EventClose {
		return Idle, s != Idle
	}

	switch s {
	case Idle:
		if e == EventCheckout {
			return CreatingInvoice, true
		}
	case CreatingInvoice:
		switch e {
		case EventInvoiceCreated:
			return AwaitingQR, true
		case EventInvoiceFailed:
			return Failed, true
		}
	case AwaitingQR:
		switch e {
		case EventQRLoaded:
			return AwaitingPayment, true
		case EventQRRejected, EventQRDeadline:
			return Failed, true
		}
	case AwaitingPayment:
		switch e {
		case EventStatusPaid:
			return Paid, true
		case EventPaymentDeadline:
			return Expired, true
		}
	}
	return s, false
}

// FailureReason classifies a FAILED attempt
type FailureReason string

const (
	ReasonInvoice      FailureReason = "invoice_failed"
	ReasonQRTimeout    FailureReason = "qr_timeout"
	ReasonQRInvalid    FailureReason = "qr_invalid"
	ReasonQRLoadError  FailureReason = "qr_load_error"
	ReasonQRUndersized FailureReason = "qr_undersized"
)

// Failure explains a FAILED attempt. Message carries upstream text verbatim.
type Failure struct {
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
}

// QRFailure reports whether the failure happened while acquiring the QR
func (f *Failure) QRFailure() bool {
	return f != nil && f.Reason != ReasonInvoice
}
