package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/tez"
)

// Action is one named contract call against a commission.
type Action struct {
	Name          string
	TransactionID string
	Entrypoint    string
	Value         any
	// Amount is transferred with the call. Only deposits move value.
	Amount tez.Mutez
	// Sender is the connected address, recorded on the receipt.
	Sender string
}

func (a Action) params(contract string) model.TransferParams {
	p := model.TransferParams{
		Contract:   contract,
		Entrypoint: a.Entrypoint,
		Value:      a.Value,
	}
	if a.Amount > 0 {
		p.Amount = a.Amount
		p.Mutez = true
	}
	return p
}

// Action names as exposed by the API.
const (
	ActionPost               = "post"
	ActionAccept             = "accept"
	ActionApprove            = "approve"
	ActionDepositOwner       = "deposit-owner"
	ActionDepositCounterpart = "deposit-counterparty"
	ActionClaimOwner         = "claim-owner"
	ActionClaimCounterparty  = "claim-counterparty"
	ActionCancelOwner        = "cancel-owner"
	ActionCancelCounterparty = "cancel-counterparty"
	ActionRevert             = "revert"
)

type postValue struct {
	TransactionID string    `json:"transactionId"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Offer         tez.Mutez `json:"offer"`
	Fee           tez.Mutez `json:"fee"`
	Duration      int64     `json:"duration"`
	Secret        string    `json:"secret"`
}

type claimValue struct {
	TransactionID string `json:"transactionId"`
	Secret        string `json:"secret"`
}

// PostCommission validates d and assigns the new commission a fresh id.
func PostCommission(d model.CommissionDraft) (Action, error) {
	if err := d.Validate(); err != nil {
		return Action{}, err
	}
	id := uuid.NewString()
	return Action{
		Name:          ActionPost,
		TransactionID: id,
		Entrypoint:    model.EntrypointPost,
		Value: postValue{
			TransactionID: id,
			Title:         d.Title,
			Description:   d.Description,
			Offer:         d.Offer,
			Fee:           d.Fee,
			Duration:      d.Duration,
			Secret:        d.Secret,
		},
	}, nil
}

func byID(name, entrypoint, id string) Action {
	return Action{Name: name, TransactionID: id, Entrypoint: entrypoint, Value: id}
}

func Accept(id string) Action {
	return byID(ActionAccept, model.EntrypointAccept, id)
}

func Approve(id string) Action {
	return byID(ActionApprove, model.EntrypointApprove, id)
}

// DepositOwner transfers the owner's stake, normally the commission offer.
func DepositOwner(id string, amount tez.Mutez) Action {
	a := byID(ActionDepositOwner, model.EntrypointDepositOwner, id)
	a.Amount = amount
	return a
}

// DepositCounterparty transfers the counterparty's stake, normally the fee.
func DepositCounterparty(id string, amount tez.Mutez) Action {
	a := byID(ActionDepositCounterpart, model.EntrypointDepositCounterpart, id)
	a.Amount = amount
	return a
}

func ClaimOwner(id string) Action {
	return byID(ActionClaimOwner, model.EntrypointClaimOwner, id)
}

func ClaimCounterparty(id, secret string) Action {
	return Action{
		Name:          ActionClaimCounterparty,
		TransactionID: id,
		Entrypoint:    model.EntrypointClaimCounterparty,
		Value:         claimValue{TransactionID: id, Secret: secret},
	}
}

func CancelOwner(id string) Action {
	return byID(ActionCancelOwner, model.EntrypointCancelOwner, id)
}

func CancelCounterparty(id string) Action {
	return byID(ActionCancelCounterparty, model.EntrypointCancelCounterparty, id)
}

func Revert(id string) Action {
	return byID(ActionRevert, model.EntrypointRevert, id)
}

// ErrWrongSecret is returned by VerifyClaimSecret on a mismatch.
var ErrWrongSecret = errors.New("secret does not match the commission")

// VerifyClaimSecret checks secret against the commission's stored hash so a
// wrong secret is rejected before any fee is spent. Records without a stored
// hash are not checked.
func VerifyClaimSecret(c model.Commission, secret string) error {
	if secret == "" {
		return fmt.Errorf("secret is required")
	}
	if c.HashedSecret == "" {
		return nil
	}
	if !tez.VerifySecret(secret, c.HashedSecret) {
		return ErrWrongSecret
	}
	return nil
}
