// Package validation checks deployment requests before any ledger call
package validation

import (
	"strings"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/models"
)

// Validate returns every violated rule in priority order, or nil when the
// request is valid. It has no side effects.
func Validate(req *models.DeploymentRequest, defaultWindow time.Duration) []string {
	var violations []string

	if strings.TrimSpace(req.EventName) == "" {
		violations = append(violations, "event name is required")
	}

	// The contract stores the window as unsigned whole seconds
	if req.SaleStart.IsZero() {
		violations = append(violations, "sale start is required")
	} else if req.SaleStart.Unix() <= 0 {
		violations = append(violations, "sale start must be after 1970-01-01T00:00:00Z")
	} else if end := req.EffectiveSaleEnd(defaultWindow); req.SaleStart.Unix() >= end.Unix() {
		violations = append(violations, "sale start must be before sale end")
	}

	if req.SeatCount <= 0 {
		violations = append(violations, "seat count must be at least 1")
	}
	if req.UnitPrice < 0 {
		violations = append(violations, "unit price must not be negative")
	}
	if req.PerWalletCap <= 0 {
		violations = append(violations, "per-wallet cap must be at least 1")
	}

	violations = append(violations, organizerViolations(req)...)
	return violations
}

func organizerViolations(req *models.DeploymentRequest) []string {
	var violations []string

	switch {
	case req.Organizer == "":
		violations = append(violations, "organizer address is required")
	case ledger.ValidateAccountAddress(req.Organizer) != nil:
		violations = append(violations, "organizer address is not a valid account address")
	}

	switch {
	case req.Signer == nil:
		violations = append(violations, "a signing capability must be bound")
	case req.Organizer != "" && req.Signer.Address() != req.Organizer:
		violations = append(violations, "signer does not control the organizer address")
	}

	return violations
}
