package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Seed type prefixes
var (
	secpSeedPrefix = []byte{0x21}
	edSeedPrefix   = []byte{0x01, 0xE1, 0x4B}
)

var errBadSeed = errors.New("invalid family seed")

// Wallet holds the signing key material for the funding account
type Wallet struct {
	// signingPubKey is the 33-byte key embedded in submitted transactions
	signingPubKey []byte
	edPriv        ed25519.PrivateKey
	secpPriv      *btcec.PrivateKey
	address       string
}

// Address returns the wallet's classic address
func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns the 33-byte signing public key
func (w *Wallet) PublicKey() []byte {
	return w.signingPubKey
}

func sha512Half(b []byte) []byte {
	h := sha512.Sum512(b)
	return h[:32]
}

// WalletFromSeed decodes a base58 family seed (ed25519 or secp256k1) into a
// signing wallet
func WalletFromSeed(seed string) (*Wallet, error) {
	body, err := base58CheckDecode(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadSeed, err)
	}

	switch {
	case len(body) == 19 && bytes.Equal(body[:3], edSeedPrefix):
		return edWallet(body[3:])
	case len(body) == 17 && bytes.Equal(body[:1], secpSeedPrefix):
		return secpWallet(body[1:])
	default:
		return nil, errBadSeed
	}
}

func edWallet(entropy []byte) (*Wallet, error) {
	priv := ed25519.NewKeyFromSeed(sha512Half(entropy))
	pub := priv.Public().(ed25519.PublicKey)
	signingPub := append([]byte{0xED}, pub...)
	return &Wallet{
		signingPubKey: signingPub,
		edPriv:        priv,
		address:       base58Check(classicPrefix, accountIDFromPublicKey(signingPub)),
	}, nil
}

// secpWallet derives the account keypair from seed entropy: a root key from
// the entropy, then the account key at root sequence 0.
func secpWallet(entropy []byte) (*Wallet, error) {
	order := btcec.S256().N

	rootSecret, err := scalarFromHash(entropy, order)
	if err != nil {
		return nil, err
	}
	_, rootPub := btcec.PrivKeyFromBytes(pad32(rootSecret))

	seq := make([]byte, 4) // root account sequence 0
	intermediate, err := scalarFromHash(append(rootPub.SerializeCompressed(), seq...), order)
	if err != nil {
		return nil, err
	}

	accountSecret := new(big.Int).Add(rootSecret, intermediate)
	accountSecret.Mod(accountSecret, order)
	priv, pub := btcec.PrivKeyFromBytes(pad32(accountSecret))

	signingPub := pub.SerializeCompressed()
	return &Wallet{
		signingPubKey: signingPub,
		secpPriv:      priv,
		address:       base58Check(classicPrefix, accountIDFromPublicKey(signingPub)),
	}, nil
}

// scalarFromHash hashes material with an incrementing 32-bit suffix until the
// result is a valid curve scalar
func scalarFromHash(material []byte, order *big.Int) (*big.Int, error) {
	buf := make([]byte, len(material)+4)
	copy(buf, material)
	for i := uint32(0); i < 1<<16; i++ {
		binary.BigEndian.PutUint32(buf[len(material):], i)
		candidate := new(big.Int).SetBytes(sha512Half(buf))
		if candidate.Sign() > 0 && candidate.Cmp(order) < 0 {
			return candidate, nil
		}
	}
	return nil, errors.New("could not derive a valid key from seed")
}

func pad32(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

// sign produces the transaction signature over the signing payload. ed25519
// signs the payload itself; secp256k1 signs its half-SHA512 digest with a
// DER-encoded ECDSA signature.
func (w *Wallet) sign(payload []byte) ([]byte, error) {
	switch {
	case w.edPriv != nil:
		return ed25519.Sign(w.edPriv, payload), nil
	case w.secpPriv != nil:
		sig := btcecdsa.Sign(w.secpPriv, sha512Half(payload))
		return sig.Serialize(), nil
	default:
		return nil, errors.New("wallet has no private key")
	}
}
