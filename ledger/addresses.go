package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// The ledger's base58 dialect uses its own alphabet; standard base58 decoders
// reject its addresses.
var ledgerAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

// Address type prefixes
var (
	classicPrefix  = []byte{0x00}
	xMainnetPrefix = []byte{0x05, 0x44}
	xTestnetPrefix = []byte{0x04, 0x93}
)

var (
	ErrNoValidDestination = errors.New("no valid destination")
	errBadChecksum        = errors.New("bad address checksum")
)

func sha256d(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

func base58Check(prefix, payload []byte) string {
	body := make([]byte, 0, len(prefix)+len(payload)+4)
	body = append(body, prefix...)
	body = append(body, payload...)
	body = append(body, sha256d(body)[:4]...)
	return base58.FastBase58EncodingAlphabet(body, ledgerAlphabet)
}

func base58CheckDecode(s string) ([]byte, error) {
	raw, err := base58.FastBase58DecodingAlphabet(s, ledgerAlphabet)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, errBadChecksum
	}
	body, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	if !bytes.Equal(sha256d(body)[:4], sum) {
		return nil, errBadChecksum
	}
	return body, nil
}

// IsClassicAddress reports whether s is a well-formed classic account address
func IsClassicAddress(s string) bool {
	if !strings.HasPrefix(s, "r") {
		return false
	}
	body, err := base58CheckDecode(s)
	if err != nil {
		return false
	}
	return len(body) == 21 && body[0] == classicPrefix[0]
}

// DecodeXAddress unpacks an extended address into its classic form and
// optional destination tag
func DecodeXAddress(s string) (classic string, tag *uint32, err error) {
	body, err := base58CheckDecode(s)
	if err != nil {
		return "", nil, err
	}
	// 2-byte prefix, 20-byte account id, flag byte, 8-byte tag
	if len(body) != 31 {
		return "", nil, fmt.Errorf("extended address has wrong length %d", len(body))
	}
	prefix := body[:2]
	if !bytes.Equal(prefix, xMainnetPrefix) && !bytes.Equal(prefix, xTestnetPrefix) {
		return "", nil, fmt.Errorf("unknown extended address prefix %x", prefix)
	}
	accountID := body[2:22]
	flag := body[22]
	switch flag {
	case 0:
	case 1:
		v := binary.LittleEndian.Uint32(body[23:27])
		tag = &v
	default:
		return "", nil, fmt.Errorf("unsupported tag flag %d", flag)
	}
	return base58Check(classicPrefix, accountID), tag, nil
}

// accountIDFromPublicKey hashes a 33-byte public key to a 20-byte account id
func accountIDFromPublicKey(pub []byte) []byte {
	inner := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(inner[:])
	return h.Sum(nil)
}

// DeriveClassicAddress derives the classic address for a hex public key.
// Compressed (66 hex chars, secp256k1 or ED-prefixed ed25519) and
// uncompressed (130 hex chars) keys are accepted.
func DeriveClassicAddress(pubHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(pubHex))
	if err != nil {
		return "", fmt.Errorf("public key is not hex: %w", err)
	}
	switch len(raw) {
	case 33:
	case 65:
		// Uncompressed secp256k1; the ledger hashes the compressed form
		pk, err := btcec.ParsePubKey(raw)
		if err != nil {
			return "", fmt.Errorf("invalid uncompressed public key: %w", err)
		}
		raw = pk.SerializeCompressed()
	default:
		return "", fmt.Errorf("public key has unsupported length %d", len(raw))
	}
	return base58Check(classicPrefix, accountIDFromPublicKey(raw)), nil
}

// classicAccountID decodes a classic address back to its 20-byte account id
func classicAccountID(addr string) ([]byte, error) {
	body, err := base58CheckDecode(addr)
	if err != nil {
		return nil, err
	}
	if len(body) != 21 || body[0] != classicPrefix[0] {
		return nil, fmt.Errorf("not a classic address: %s", addr)
	}
	return body[1:], nil
}

// NormalizeDestination resolves a destination given in any supported form to
// a classic address. Candidates are tried in order: classic address,
// extended address, public key derivation; the first success wins.
func NormalizeDestination(input string) (classic string, tag *uint32, ok bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil, false
	}
	if IsClassicAddress(input) {
		return input, nil, true
	}
	if strings.HasPrefix(input, "X") || strings.HasPrefix(input, "T") {
		if classic, tag, err := DecodeXAddress(input); err == nil {
			return classic, tag, true
		}
	}
	if len(input) == 66 || len(input) == 130 {
		if classic, err := DeriveClassicAddress(input); err == nil {
			return classic, nil, true
		}
	}
	return "", nil, false
}
