package domain

import "context"

// ChargeRequest charges a stored card credential.
type ChargeRequest struct {
	UserID         UserID
	Amount         Money
	CredentialRef  string
	IdempotencyKey string
	Description    string
}

// ChargeOutcome is the gateway's answer. A declined charge is a successful
// call with Success false; transport problems are returned as errors.
type ChargeOutcome struct {
	Success       bool
	TransactionID string
	Reason        string
}

// Gateway is the external card-charging capability.
type Gateway interface {
	ChargeStoredCredential(ctx context.Context, req ChargeRequest) (ChargeOutcome, error)
	// LookupCharge returns the outcome of an earlier charge by idempotency key.
	// found is false when the gateway never saw the key.
	LookupCharge(ctx context.Context, idempotencyKey string) (outcome ChargeOutcome, found bool, err error)
}
