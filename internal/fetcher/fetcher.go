package fetcher

import (
	"context"
	"encoding/json"

	"groupe-e-consumption/internal/consumption"
)

// Identity holds the account keys every measurement query is scoped to.
type Identity struct {
	PremiseID string
	PartnerID string
}

// Complete reports whether both identifiers are known.
func (i Identity) Complete() bool {
	return i.PremiseID != "" && i.PartnerID != ""
}

// MeasurementSession performs the authenticated calls of one refresh cycle.
// Release must be called once the session is no longer needed.
type MeasurementSession interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	ResolveIdentity(ctx context.Context, token string) (Identity, error)
	FetchMeasurements(ctx context.Context, token string, id Identity, window consumption.Window) (json.RawMessage, error)
	Release()
}

// SessionOpener hands out a fresh session per refresh cycle.
type SessionOpener interface {
	Open() MeasurementSession
}
