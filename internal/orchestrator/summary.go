package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"provisioner/internal/models"

	"github.com/shopspring/decimal"
)

// FormatAmount renders smallest units as whole currency units
func FormatAmount(units int64, decimals int32) string {
	return decimal.New(units, -decimals).StringFixed(decimals)
}

// summary is the human readable success message
func (o *Orchestrator) summary(req *models.DeploymentRequest, result *models.ProvisionResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Event created successfully on %s!\n\n", o.cfg.Network)
	b.WriteString("Event Details:\n")
	fmt.Fprintf(&b, "- Name: %s\n", req.EventName)
	fmt.Fprintf(&b, "- Sale Start: %s\n", req.SaleStart.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "- Sale End: %s\n", req.EffectiveSaleEnd(o.cfg.DefaultSaleWindow).UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "- Ticket Price: %s %s\n", FormatAmount(req.UnitPrice, o.cfg.CurrencyDecimals), o.cfg.Currency)
	fmt.Fprintf(&b, "- Seats Available: %d\n", req.SeatCount)
	fmt.Fprintf(&b, "- Per Wallet Cap: %d\n\n", req.PerWalletCap)
	b.WriteString("Contract Details:\n")
	fmt.Fprintf(&b, "- App ID: %d\n", result.AppID)
	fmt.Fprintf(&b, "- App Address: %s\n", result.AppAddress)
	fmt.Fprintf(&b, "- Asset ID: %d\n\n", result.AssetID)
	b.WriteString("Your ticketing event is now live!")

	return b.String()
}
