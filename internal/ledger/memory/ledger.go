// Package memory implements an in-process ledger with the same rules the
// provisioning workflow relies on from a real network: per-account minimum
// balances, fees, asset authorities and derived application addresses.
// It backs devnet runs and tests.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"provisioner/internal/ledger"
)

// Config holds the economic rules of the ledger (all amounts in smallest units)
type Config struct {
	NetworkPassphrase string
	Fee               uint64 // charged to the sender of every submission
	MinBalance        uint64 // base reserve for any account
	HoldingMinBalance uint64 // extra reserve per asset held or created
	AppMinBalance     uint64 // extra reserve per application created
	FirstID           uint64 // first id handed out to assets and applications
	MaxUnitNameLen    int
	MaxAssetNameLen   int
}

// DefaultConfig mirrors the reserve and fee levels of a typical public network
func DefaultConfig(networkPassphrase string) Config {
	return Config{
		NetworkPassphrase: networkPassphrase,
		Fee:               1_000,
		MinBalance:        100_000,
		HoldingMinBalance: 100_000,
		AppMinBalance:     100_000,
		FirstID:           1_000,
		MaxUnitNameLen:    8,
		MaxAssetNameLen:   32,
	}
}

type account struct {
	balance  uint64
	holdings map[uint64]uint64
	apps     int
}

type fault struct {
	err error
	// land applies the effect before returning err (simulates a lost confirmation)
	land bool
}

// Ledger is a thread-safe in-memory ledger
type Ledger struct {
	mu       sync.Mutex
	cfg      Config
	accounts map[string]*account
	assets   map[uint64]*ledger.Asset
	apps     map[uint64]*ledger.Application
	nextID   uint64
	faults   map[string]fault
	calls    []string
}

var _ ledger.Client = (*Ledger)(nil)

// New creates an empty ledger
func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:      cfg,
		accounts: make(map[string]*account),
		assets:   make(map[uint64]*ledger.Asset),
		apps:     make(map[uint64]*ledger.Application),
		nextID:   cfg.FirstID,
		faults:   make(map[string]fault),
	}
}

// Fund credits an account out of thin air (genesis / faucet)
func (l *Ledger) Fund(address string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.account(address).balance += amount
	slog.Debug("Memory ledger: account funded", "address", address, "amount", amount)
}

// FailNext makes the next call of op fail with err without touching state
func (l *Ledger) FailNext(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = fault{err: err}
}

// LoseConfirmationNext makes the next call of op apply its effect and then
// report an ambiguous outcome, as if the client timed out after submission
func (l *Ledger) LoseConfirmationNext(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = fault{err: ledger.AmbiguousError(op, context.DeadlineExceeded), land: true}
}

// Calls returns every operation invoked so far, queries included
func (l *Ledger) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// Assets returns a snapshot of all live assets ordered by id
func (l *Ledger) Assets() []ledger.Asset {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.Asset, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Applications returns a snapshot of all live applications ordered by id
func (l *Ledger) Applications() []ledger.Application {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.Application, 0, len(l.apps))
	for _, a := range l.apps {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// begin records the call and consumes an injected fault. Must hold mu.
func (l *Ledger) begin(ctx context.Context, op string) (fault, error) {
	l.calls = append(l.calls, op)
	if err := ctx.Err(); err != nil {
		return fault{}, err
	}
	f, ok := l.faults[op]
	if !ok {
		return fault{}, nil
	}
	delete(l.faults, op)
	if !f.land {
		return fault{}, f.err
	}
	return f, nil
}

func (l *Ledger) account(address string) *account {
	acc, ok := l.accounts[address]
	if !ok {
		acc = &account{holdings: make(map[uint64]uint64)}
		l.accounts[address] = acc
	}
	return acc
}

func (l *Ledger) required(acc *account) uint64 {
	return l.cfg.MinBalance +
		uint64(len(acc.holdings))*l.cfg.HoldingMinBalance +
		uint64(acc.apps)*l.cfg.AppMinBalance
}

// authorize verifies the signer actually controls the sender account
func (l *Ledger) authorize(signer ledger.Signer, op string, body any) (string, error) {
	env, err := ledger.Sign(l.cfg.NetworkPassphrase, signer, op, body)
	if err != nil {
		return "", err
	}
	if err := env.Verify(l.cfg.NetworkPassphrase); err != nil {
		return "", err
	}
	return env.Sender, nil
}

// charge debits the fee plus amount from sender, checking that the sender
// keeps its minimum balance once extraReserve is added to its requirement
func (l *Ledger) charge(sender string, amount, extraReserve uint64) error {
	acc, ok := l.accounts[sender]
	if !ok {
		return ledger.Errorf(ledger.CodeInsufficientBalance, "account %s does not exist", sender)
	}
	need := l.required(acc) + extraReserve + l.cfg.Fee + amount
	if acc.balance < need {
		return ledger.Errorf(ledger.CodeInsufficientBalance,
			"account %s balance %d below required %d", sender, acc.balance, need)
	}
	acc.balance -= l.cfg.Fee + amount
	return nil
}

type role struct {
	name string
	addr string
}

func roles(auth ledger.Authorities) []role {
	return []role{
		{"manager", auth.Manager},
		{"reserve", auth.Reserve},
		{"freeze", auth.Freeze},
		{"clawback", auth.Clawback},
	}
}

func validateAuthorities(auth ledger.Authorities) error {
	for _, r := range roles(auth) {
		if r.addr == "" {
			continue
		}
		if err := ledger.ValidateAddress(r.addr); err != nil {
			return ledger.Errorf(ledger.CodeMalformed, "%s authority: %v", r.name, err)
		}
	}
	return nil
}
