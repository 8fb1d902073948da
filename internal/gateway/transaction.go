// Package gateway adapts the external payment gateway to the reconciler.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transaction is one payment as reported by the gateway.
type Transaction struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"order_id,omitempty"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Method      string            `json:"method,omitempty"`
	Email       string            `json:"email"`
	Contact     string            `json:"contact"`
	Description string            `json:"description,omitempty"`
	Notes       map[string]string `json:"notes"`
	RawNotes    json.RawMessage   `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Note returns a trimmed metadata value.
func (t *Transaction) Note(key string) string {
	return strings.TrimSpace(t.Notes[key])
}

// DecodeFailure is a listed payment that could not be decoded. ID is empty when
// the entity carried no readable id.
type DecodeFailure struct {
	ID  string
	Err error
}

// DecodeItems decodes a page of payment entities, keeping the ones that fail
// so the caller can report them.
func DecodeItems(items []json.RawMessage) ([]Transaction, []DecodeFailure) {
	var (
		txs      []Transaction
		failures []DecodeFailure
	)
	for _, raw := range items {
		t, err := DecodeTransaction(raw)
		if err != nil {
			failures = append(failures, DecodeFailure{ID: rawID(raw), Err: err})
			continue
		}
		txs = append(txs, t)
	}
	return txs, failures
}

func rawID(raw json.RawMessage) string {
	var v struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(v.ID, &id); err != nil {
		return strings.Trim(string(v.ID), `"`)
	}
	return id
}

type wirePayment struct {
	ID          string          `json:"id"`
	OrderID     *string         `json:"order_id"`
	Amount      json.Number     `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Method      string          `json:"method"`
	Email       *string         `json:"email"`
	Contact     *string         `json:"contact"`
	Description *string         `json:"description"`
	Notes       json.RawMessage `json:"notes"`
	CreatedAt   int64           `json:"created_at"`
}

// DecodeTransaction parses a single payment entity. The gateway sends notes as
// an object, or as an empty array when there are none.
func DecodeTransaction(raw []byte) (Transaction, error) {
	var w wirePayment
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Transaction{}, fmt.Errorf("decode payment: %w", err)
	}
	if w.ID == "" {
		return Transaction{}, fmt.Errorf("decode payment: missing id")
	}
	amount, err := parseAmount(w.Amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("decode payment %s: %w", w.ID, err)
	}
	notes, rawNotes, err := decodeNotes(w.Notes)
	if err != nil {
		return Transaction{}, fmt.Errorf("decode payment %s: %w", w.ID, err)
	}
	t := Transaction{
		ID:          w.ID,
		OrderID:     deref(w.OrderID),
		Amount:      amount,
		Currency:    w.Currency,
		Status:      w.Status,
		Method:      w.Method,
		Email:       strings.TrimSpace(deref(w.Email)),
		Contact:     strings.TrimSpace(deref(w.Contact)),
		Description: deref(w.Description),
		Notes:       notes,
		RawNotes:    rawNotes,
	}
	if w.CreatedAt > 0 {
		t.CreatedAt = time.Unix(w.CreatedAt, 0).UTC()
	}
	return t, nil
}

func parseAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, fmt.Errorf("missing amount")
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", n, err)
	}
	return int64(f), nil
}

func decodeNotes(raw json.RawMessage) (map[string]string, json.RawMessage, error) {
	notes := map[string]string{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return notes, json.RawMessage(`{}`), nil
	}
	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("notes: %w", err)
	}
	for k, v := range m {
		switch val := v.(type) {
		case nil:
		case string:
			notes[k] = val
		case json.Number:
			notes[k] = val.String()
		case bool:
			notes[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			notes[k] = string(b)
		}
	}
	return notes, append(json.RawMessage(nil), trimmed...), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
