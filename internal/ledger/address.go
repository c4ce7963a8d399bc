// Package ledger reads validated payments from a ledger node's websocket
// API and feeds them to the aggregator.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned for a malformed classic account address.
var ErrInvalidAddress = errors.New("invalid account address")

// accountAlphabet is the base58 dictionary used by ledger addresses.
var accountAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

const (
	accountVersion = 0x00
	accountIDLen   = 20
	checksumLen    = 4
)

// AccountID is the 160-bit identifier behind a classic address.
type AccountID [accountIDLen]byte

// EncodeAccountID returns the classic address of id.
func EncodeAccountID(id AccountID) string {
	payload := make([]byte, 0, 1+accountIDLen+checksumLen)
	payload = append(payload, accountVersion)
	payload = append(payload, id[:]...)
	payload = append(payload, checksum(payload)...)
	return base58.EncodeAlphabet(payload, accountAlphabet)
}

// DecodeAccountID parses a classic address and verifies its checksum.
func DecodeAccountID(address string) (AccountID, error) {
	var id AccountID

	raw, err := base58.DecodeAlphabet(address, accountAlphabet)
	if err != nil {
		return id, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if len(raw) != 1+accountIDLen+checksumLen {
		return id, fmt.Errorf("%w: %q: decoded length %d", ErrInvalidAddress, address, len(raw))
	}
	if raw[0] != accountVersion {
		return id, fmt.Errorf("%w: %q: version byte %#x", ErrInvalidAddress, address, raw[0])
	}

	body, sum := raw[:1+accountIDLen], raw[1+accountIDLen:]
	if !bytes.Equal(checksum(body), sum) {
		return id, fmt.Errorf("%w: %q: checksum mismatch", ErrInvalidAddress, address)
	}

	copy(id[:], body[1:])
	return id, nil
}

// ValidateAddress reports whether address is a well-formed classic address.
func ValidateAddress(address string) error {
	_, err := DecodeAccountID(address)
	return err
}

// checksum is the first four bytes of a double SHA-256.
func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
