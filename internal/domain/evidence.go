package domain

type ChargeOutcome string

const (
	ChargeSuccessful ChargeOutcome = "successful"
	ChargeFailed     ChargeOutcome = "failed"
	ChargePending    ChargeOutcome = "pending"
)

type EvidenceSource string

const (
	SourceCallback   EvidenceSource = "callback"
	SourcePoll       EvidenceSource = "poll"
	SourceAdmin      EvidenceSource = "admin"
	SourceSweep      EvidenceSource = "sweep"
	SourceInitialize EvidenceSource = "initialize"
	SourceTraveler   EvidenceSource = "traveler"
)

// Evidence is an externally sourced claim about how a charge ended.
// Trusted evidence (admin decisions) skips the amount and currency check.
type Evidence struct {
	Outcome              ChargeOutcome
	Amount               int64
	Currency             string
	GatewayTransactionID string
	Source               EvidenceSource
	Actor                string
	Trusted              bool
}

// Matches reports whether the evidence describes the recorded charge.
func (e Evidence) Matches(p *Payment) bool {
	return e.Amount == p.Amount && NormalizeCurrency(e.Currency) == NormalizeCurrency(p.Currency)
}
