package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Payment is the only transaction type this client submits
const paymentTransactionType = 0

// tfFullyCanonicalSig requests canonical signature enforcement
const tfFullyCanonicalSig = 0x80000000

// Hash prefixes for signing and transaction ids
var (
	prefixTxSign = []byte{0x53, 0x54, 0x58, 0x00} // "STX\0"
	prefixTxID   = []byte{0x54, 0x58, 0x4E, 0x00} // "TXN\0"
)

// paymentTx carries everything needed to serialize one signed payment
type paymentTx struct {
	Account            string
	Destination        string
	DestinationTag     *uint32
	AmountDrops        uint64
	FeeDrops           uint64
	Sequence           uint32
	LastLedgerSequence uint32
	SigningPubKey      []byte
	TxnSignature       []byte
}

// serialize renders the payment in the ledger's canonical binary form:
// fields sorted by (type code, field code), amounts as 64-bit values with
// the positive bit set, accounts as length-prefixed 20-byte ids. When
// forSigning is true the signature field is omitted.
func (tx *paymentTx) serialize(forSigning bool) ([]byte, error) {
	account, err := classicAccountID(tx.Account)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	destination, err := classicAccountID(tx.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}

	var out []byte

	// UInt16, field 2: TransactionType
	out = append(out, 0x12)
	out = binary.BigEndian.AppendUint16(out, paymentTransactionType)

	// UInt32, field 2: Flags
	out = append(out, 0x22)
	out = binary.BigEndian.AppendUint32(out, tfFullyCanonicalSig)

	// UInt32, field 4: Sequence
	out = append(out, 0x24)
	out = binary.BigEndian.AppendUint32(out, tx.Sequence)

	// UInt32, field 14: DestinationTag
	if tx.DestinationTag != nil {
		out = append(out, 0x2E)
		out = binary.BigEndian.AppendUint32(out, *tx.DestinationTag)
	}

	// UInt32, field 27: LastLedgerSequence (field code >= 16 is spilled)
	out = append(out, 0x20, 0x1B)
	out = binary.BigEndian.AppendUint32(out, tx.LastLedgerSequence)

	// Amount, field 1: Amount (native, positive bit set)
	out = append(out, 0x61)
	out = binary.BigEndian.AppendUint64(out, tx.AmountDrops|0x4000000000000000)

	// Amount, field 8: Fee
	out = append(out, 0x68)
	out = binary.BigEndian.AppendUint64(out, tx.FeeDrops|0x4000000000000000)

	// Blob, field 3: SigningPubKey
	out = append(out, 0x73)
	out = appendVL(out, tx.SigningPubKey)

	// Blob, field 4: TxnSignature
	if !forSigning {
		if len(tx.TxnSignature) == 0 {
			return nil, fmt.Errorf("serializing unsigned transaction")
		}
		out = append(out, 0x74)
		out = appendVL(out, tx.TxnSignature)
	}

	// AccountID, field 1: Account
	out = append(out, 0x81)
	out = appendVL(out, account)

	// AccountID, field 3: Destination
	out = append(out, 0x83)
	out = appendVL(out, destination)

	return out, nil
}

// appendVL writes a variable-length prefix followed by the data. All lengths
// used here fit the single-byte form (<= 192).
func appendVL(out, data []byte) []byte {
	if len(data) > 192 {
		panic(fmt.Sprintf("variable-length field too long: %d", len(data)))
	}
	out = append(out, byte(len(data)))
	return append(out, data...)
}

// signPayment fills TxnSignature and returns the signed blob (hex, upper
// case) and the transaction hash.
func signPayment(tx *paymentTx, w *Wallet) (blob string, hash string, err error) {
	tx.SigningPubKey = w.PublicKey()

	unsigned, err := tx.serialize(true)
	if err != nil {
		return "", "", err
	}
	payload := append(append([]byte{}, prefixTxSign...), unsigned...)
	tx.TxnSignature, err = w.sign(payload)
	if err != nil {
		return "", "", err
	}

	signed, err := tx.serialize(false)
	if err != nil {
		return "", "", err
	}

	idPayload := append(append([]byte{}, prefixTxID...), signed...)
	digest := sha512Half(idPayload)

	return strings.ToUpper(hex.EncodeToString(signed)), strings.ToUpper(hex.EncodeToString(digest)), nil
}
