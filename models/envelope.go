package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Scope tags every message on the terminal channel. Messages without it are
// dropped before they reach business logic.
const Scope = "payment-terminal"

// Message types
const (
	TypeCheckoutRequest   = "checkout_request"
	TypeTerminalReady     = "terminal_ready"
	TypePaymentAuthorized = "payment_authorized"
	TypePaymentProcessed  = "payment_processed"
)

// Reply statuses for payment_processed
const (
	ReplySuccess = "success"
	ReplyError   = "error"
)

var (
	ErrWrongScope     = errors.New("message has wrong or missing scope")
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingPayload = errors.New("message missing required payload")
)

// Envelope is the wire form of every channel message. Which fields are
// populated depends on Type; DecodeEnvelope enforces the per-type shape.
type Envelope struct {
	Scope         string                `json:"scope"`
	Type          string                `json:"type"`
	Transaction   *CheckoutRequest      `json:"transaction,omitempty"`
	TransactionID string                `json:"transactionId,omitempty"`
	Payload       *PaymentAuthorization `json:"payload,omitempty"`
	Status        string                `json:"status,omitempty"`
	Result        json.RawMessage       `json:"result,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// NewCheckoutRequest builds the envelope carrying a transaction snapshot
func NewCheckoutRequest(txn Transaction) Envelope {
	snapshot := CheckoutRequest{Transaction: txn}
	return Envelope{Scope: Scope, Type: TypeCheckoutRequest, Transaction: &snapshot}
}

// NewTerminalReady announces that the payment terminal is addressable
func NewTerminalReady() Envelope {
	return Envelope{Scope: Scope, Type: TypeTerminalReady}
}

// NewPaymentAuthorized carries the authorization for a transaction
func NewPaymentAuthorized(auth PaymentAuthorization) Envelope {
	return Envelope{
		Scope:         Scope,
		Type:          TypePaymentAuthorized,
		TransactionID: auth.TransactionID,
		Payload:       &auth,
	}
}

// NewPaymentProcessed reports the redemption outcome back to the payment terminal
func NewPaymentProcessed(transactionID, status, errMsg string) Envelope {
	return Envelope{
		Scope:         Scope,
		Type:          TypePaymentProcessed,
		TransactionID: transactionID,
		Status:        status,
		Error:         errMsg,
	}
}

// DecodeEnvelope validates raw channel input at the boundary. Anything that
// is not a well-formed message of a known type is rejected before dispatch.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Scope != Scope {
		return Envelope{}, ErrWrongScope
	}
	switch env.Type {
	case TypeTerminalReady:
	case TypeCheckoutRequest:
		if env.Transaction == nil || env.Transaction.ID == "" {
			return Envelope{}, ErrMissingPayload
		}
	case TypePaymentAuthorized:
		if env.Payload == nil || env.TransactionID == "" {
			return Envelope{}, ErrMissingPayload
		}
	case TypePaymentProcessed:
		if env.TransactionID == "" || (env.Status != ReplySuccess && env.Status != ReplyError) {
			return Envelope{}, ErrMissingPayload
		}
	default:
		return Envelope{}, ErrUnknownType
	}
	return env, nil
}
