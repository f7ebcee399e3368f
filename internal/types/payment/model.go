package payment

import "time"

type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeOrderNotFound    Outcome = "order_not_found"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeMalformed        Outcome = "malformed"
	OutcomePaidAfterCancel  Outcome = "paid_after_cancel"
	OutcomeError            Outcome = "error"
)

// Event is one row of the append-only callback log used for reconciliation.
type Event struct {
	ID            int64     `db:"id" json:"id"`
	OrderRef      string    `db:"order_ref" json:"orderRef"`
	ProviderTxnID string    `db:"provider_txn_id" json:"providerTxnId"`
	ResponseCode  string    `db:"response_code" json:"responseCode"`
	Outcome       Outcome   `db:"outcome" json:"outcome"`
	Params        string    `db:"params" json:"params"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}
