package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"go.uber.org/zap"
)

// maxPageSize is the largest page the payments API serves.
const maxPageSize = 100

// Razorpay lists and fetches payments through the Razorpay API.
type Razorpay struct {
	client   *razorpay.Client
	pageSize int
	logger   *zap.Logger
}

// NewRazorpay creates a Razorpay gateway client.
func NewRazorpay(keyID, keySecret string, pageSize int, logger *zap.Logger) *Razorpay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Razorpay{client: razorpay.NewClient(keyID, keySecret), pageSize: pageSize, logger: logger}
}

// List returns every payment created in [from, to], following pagination
// until a short page. Entities that fail to decode come back as failures
// rather than aborting the listing.
func (r *Razorpay) List(ctx context.Context, from, to time.Time) ([]Transaction, []DecodeFailure, error) {
	var (
		out      []Transaction
		failures []DecodeFailure
	)
	for skip := 0; ; skip += r.pageSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		body, err := r.client.Payment.All(map[string]interface{}{
			"from":  from.Unix(),
			"to":    to.Unix(),
			"count": r.pageSize,
			"skip":  skip,
		}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("list payments (skip %d): %w", skip, err)
		}
		items, err := collectionItems(body)
		if err != nil {
			return nil, nil, err
		}
		txs, bad := DecodeItems(items)
		for _, f := range bad {
			r.logger.Warn("undecodable payment", zap.String("payment_id", f.ID), zap.Error(f.Err))
		}
		out = append(out, txs...)
		failures = append(failures, bad...)
		if len(items) < r.pageSize {
			break
		}
	}
	return out, failures, nil
}

// Fetch returns a single payment by id.
func (r *Razorpay) Fetch(ctx context.Context, id string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := r.client.Payment.Fetch(id, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", id, err)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", id, err)
	}
	t, err := DecodeTransaction(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// VerifyWebhook checks the X-Razorpay-Signature of a webhook body.
func VerifyWebhook(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, secret)
}

func collectionItems(body map[string]interface{}) ([]json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode collection: %w", err)
	}
	var coll struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &coll); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}
	return coll.Items, nil
}
