package reconcile

import "time"

// Window is the closed time range a run fetches.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ErrorKind classifies a per-transaction failure.
type ErrorKind string

const (
	KindMalformed ErrorKind = "malformed_transaction"
	KindStorage   ErrorKind = "storage_error"
	KindToken     ErrorKind = "token_error"
	KindDelivery  ErrorKind = "delivery_error"
)

// TxError is one isolated per-transaction failure.
type TxError struct {
	PaymentID string    `json:"payment_id"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

// Result summarizes a run.
type Result struct {
	Trigger          string    `json:"trigger"`
	Window           Window    `json:"window"`
	Fetched          int       `json:"fetched"`
	Relevant         int       `json:"relevant"`
	Created          int       `json:"created"`
	Updated          int       `json:"updated"`
	Unchanged        int       `json:"unchanged"`
	AttendeesCreated int       `json:"attendees_created"`
	Errors           []TxError `json:"errors"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

func newResult(trigger string, w Window, started time.Time) *Result {
	return &Result{Trigger: trigger, Window: w, Errors: []TxError{}, StartedAt: started}
}

func (r *Result) fail(paymentID string, kind ErrorKind, err error) {
	r.Errors = append(r.Errors, TxError{PaymentID: paymentID, Kind: kind, Message: err.Error()})
}
