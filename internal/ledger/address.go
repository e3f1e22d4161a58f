package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/stellar/go/strkey"
)

// appAddressPrefix domain-separates application address derivation
const appAddressPrefix = "appID"

// ValidateAccountAddress checks that addr is a well-formed account address (G...)
func ValidateAccountAddress(addr string) error {
	if !strkey.IsValidEd25519PublicKey(addr) {
		return fmt.Errorf("invalid account address: %q", addr)
	}
	return nil
}

// IsApplicationAddress reports whether addr is a derived application address (C...)
func IsApplicationAddress(addr string) bool {
	_, err := strkey.Decode(strkey.VersionByteContract, addr)
	return err == nil
}

// ValidateAddress accepts either an account or an application address
func ValidateAddress(addr string) error {
	if IsApplicationAddress(addr) {
		return nil
	}
	return ValidateAccountAddress(addr)
}

// ApplicationAddress derives the ledger address controlled by an application.
// The derivation is deterministic: sha256("appID" || big-endian app id).
func ApplicationAddress(appID uint64) string {
	buf := make([]byte, len(appAddressPrefix)+8)
	copy(buf, appAddressPrefix)
	binary.BigEndian.PutUint64(buf[len(appAddressPrefix):], appID)
	sum := sha256.Sum256(buf)

	addr, err := strkey.Encode(strkey.VersionByteContract, sum[:])
	if err != nil {
		// 32-byte payloads always encode
		panic(fmt.Sprintf("failed to encode application address: %v", err))
	}
	return addr
}
