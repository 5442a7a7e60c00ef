// Package uploader sends queue items to their remote destinations.
//
// Each report type maps to exactly one remote table. Uploads are
// insert-only upserts keyed on a client-chosen idempotency key: the
// destination is assumed to hold a unique index on that key and to
// ignore conflicting inserts. A duplicate delivery is therefore a
// success, not an error.
//
// Records are create-only. There is no update path, and adding one would
// break the idempotency-key-as-insert-guard contract.
package uploader

import (
	"context"
	"errors"
	"fmt"

	"github.com/afyawatch/fieldsync/internal/queue"
)

// IdempotencyKeyField is the payload field carrying the client-chosen
// idempotency key. The destination tables hold a unique index on it.
const IdempotencyKeyField = "client_idempotency_key"

// ErrUnknownType is returned when an item's type has no destination
// mapping. The mapping is closed; an unknown type can never succeed.
var ErrUnknownType = errors.New("uploader: unknown report type")

// Uploader delivers one submission to the remote store.
type Uploader interface {
	// Upload sends payload plus the idempotency key to the destination
	// for typ. A conflicting retry (key already present) is reported as
	// success.
	Upload(ctx context.Context, typ queue.ReportType, localID string, payload map[string]any) error
}

// TableFor returns the remote table for a report type.
func TableFor(typ queue.ReportType) (string, error) {
	switch typ {
	case queue.TypeDiseaseReport:
		return "disease_reports", nil
	case queue.TypeWaterQuality:
		return "water_quality_reports", nil
	case queue.TypeFeedback:
		return "feedback", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, typ)
}
