package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"provisioner/internal/ledger"
)

// DeploymentRequest is the immutable description of an event to provision
type DeploymentRequest struct {
	EventName    string    `json:"event_name"`
	SeatCount    int64     `json:"seat_count"`
	UnitPrice    int64     `json:"unit_price"` // smallest currency unit
	SaleStart    time.Time `json:"sale_start"`
	SaleEnd      time.Time `json:"sale_end,omitzero"` // zero means start + default sale window
	PerWalletCap int64     `json:"per_wallet_cap"`
	Organizer    string    `json:"organizer"`

	// Signer is the organizer's bound signing capability; never persisted
	Signer ledger.Signer `json:"-"`
}

// EffectiveSaleEnd resolves the sale end, falling back to start + window
func (r *DeploymentRequest) EffectiveSaleEnd(defaultWindow time.Duration) time.Time {
	if !r.SaleEnd.IsZero() {
		return r.SaleEnd
	}
	if r.SaleStart.IsZero() {
		return time.Time{}
	}
	return r.SaleStart.Add(defaultWindow)
}

// Fingerprint identifies the request content for idempotency checks.
// Equal requests (after resolving the sale end) share a fingerprint.
func (r *DeploymentRequest) Fingerprint(defaultWindow time.Duration) string {
	canonical := struct {
		EventName    string `json:"event_name"`
		SeatCount    int64  `json:"seat_count"`
		UnitPrice    int64  `json:"unit_price"`
		SaleStart    int64  `json:"sale_start"`
		SaleEnd      int64  `json:"sale_end"`
		PerWalletCap int64  `json:"per_wallet_cap"`
		Organizer    string `json:"organizer"`
	}{
		EventName:    r.EventName,
		SeatCount:    r.SeatCount,
		UnitPrice:    r.UnitPrice,
		SaleStart:    r.SaleStart.Unix(),
		SaleEnd:      r.EffectiveSaleEnd(defaultWindow).Unix(),
		PerWalletCap: r.PerWalletCap,
		Organizer:    r.Organizer,
	}

	// Marshalling a struct of strings and ints cannot fail
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
