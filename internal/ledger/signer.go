package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stellar/go/keypair"
)

// Signer is a bound signing capability for one ledger account.
// *keypair.Full satisfies it.
type Signer interface {
	Address() string
	Sign(payload []byte) ([]byte, error)
}

// Envelope is the unsigned form of a submitted operation
type Envelope struct {
	Sender    string          `json:"sender"`
	Operation string          `json:"operation"`
	Body      json.RawMessage `json:"body"`
}

// SignedEnvelope carries an operation and the sender's signature over it
type SignedEnvelope struct {
	Envelope
	Signature []byte `json:"signature"`
}

// signingPayload binds the envelope to a network so a signature for one
// network cannot be replayed on another
func (e Envelope) signingPayload(networkPassphrase string) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	network := sha256.Sum256([]byte(networkPassphrase))
	sum := sha256.Sum256(append(network[:], raw...))
	return sum[:], nil
}

// Sign builds and signs an envelope for op with the given body
func Sign(networkPassphrase string, signer Signer, op string, body any) (*SignedEnvelope, error) {
	if signer == nil {
		return nil, Errorf(CodeMalformed, "%s: signing capability is required", op)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, Errorf(CodeMalformed, "%s: failed to marshal body: %v", op, err)
	}

	env := Envelope{Sender: signer.Address(), Operation: op, Body: raw}
	payload, err := env.signingPayload(networkPassphrase)
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, Errorf(CodeInvalidAuthority, "%s: signer refused: %v", op, err)
	}

	return &SignedEnvelope{Envelope: env, Signature: sig}, nil
}

// Verify checks the envelope signature against its sender address
func (s *SignedEnvelope) Verify(networkPassphrase string) error {
	kp, err := keypair.ParseAddress(s.Sender)
	if err != nil {
		return Errorf(CodeMalformed, "invalid sender address %q", s.Sender)
	}
	payload, err := s.signingPayload(networkPassphrase)
	if err != nil {
		return err
	}
	if err := kp.Verify(payload, s.Signature); err != nil {
		return Errorf(CodeInvalidAuthority, "bad signature for %s", s.Sender)
	}
	return nil
}

// Keyring maps account addresses to their signing capabilities
type Keyring map[string]Signer

// ParseKeyring builds a keyring from secret seeds (S...)
func ParseKeyring(seeds []string) (Keyring, error) {
	ring := make(Keyring, len(seeds))
	for _, seed := range seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		kp, err := keypair.ParseFull(seed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signer seed: %w", err)
		}
		ring[kp.Address()] = kp
	}
	return ring, nil
}

// Signer returns the signing capability for address, or nil
func (k Keyring) Signer(address string) Signer {
	if s, ok := k[address]; ok {
		return s
	}
	return nil
}

// Addresses lists the accounts the keyring can sign for
func (k Keyring) Addresses() []string {
	out := make([]string, 0, len(k))
	for addr := range k {
		out = append(out, addr)
	}
	return out
}
