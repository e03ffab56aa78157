package model

import (
	"time"

	"github.com/AnTengye/escrowdash/pkg/tez"
)

// Contract entrypoints invoked by the dashboard.
const (
	EntrypointPost               = "postCommission"
	EntrypointAccept             = "acceptCommission"
	EntrypointApprove            = "approveCommission"
	EntrypointDepositOwner       = "depositOwner"
	EntrypointDepositCounterpart = "depositCounterparty"
	EntrypointClaimOwner         = "claimOwner"
	EntrypointClaimCounterparty  = "claimCounterparty"
	EntrypointCancelOwner        = "cancelCommissionOwner"
	EntrypointCancelCounterparty = "cancelCommissionCounterparty"
	EntrypointRevert             = "revertCommissionFunds"
)

// TransferParams describes one contract call.
type TransferParams struct {
	Contract   string    `json:"contract"`
	Entrypoint string    `json:"entrypoint"`
	Value      any       `json:"value"`
	Amount     tez.Mutez `json:"amount,omitempty"`
	Mutez      bool      `json:"mutez,omitempty"`
}

// Estimate is the node's cost estimate for a transfer.
type Estimate struct {
	SuggestedFee tez.Mutez `json:"suggested_fee_mutez"`
	GasLimit     int64     `json:"gas_limit"`
	StorageLimit int64     `json:"storage_limit"`
	OpSize       int64     `json:"op_size"`
}

// Fees are the padded limits actually submitted.
type Fees struct {
	Fee          tez.Mutez `json:"fee"`
	GasLimit     int64     `json:"gas_limit"`
	StorageLimit int64     `json:"storage_limit"`
}

// ConfirmationEvent is one step of an operation's confirmation stream.
type ConfirmationEvent struct {
	Level               int64 `json:"level"`
	CurrentConfirmation int   `json:"current_confirmation"`
}

// Receipt is the audit record of a confirmed operation.
type Receipt struct {
	ID            string              `json:"id"`
	Action        string              `json:"action"`
	Entrypoint    string              `json:"entrypoint"`
	TransactionID string              `json:"transaction_id"`
	Sender        string              `json:"sender,omitempty"`
	OpHash        string              `json:"op_hash"`
	Amount        tez.Mutez           `json:"amount,omitempty"`
	Estimate      Estimate            `json:"estimate"`
	Fees          Fees                `json:"fees"`
	Events        []ConfirmationEvent `json:"events"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	ConfirmedAt   time.Time           `json:"confirmed_at"`
}
