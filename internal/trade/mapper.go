package trade

import "github.com/skinvault/tradebot/internal/steam"

// Status is the engine's domain classification of an offer state.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusCanceled Status = "CANCELED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
	StatusEscrow   Status = "ESCROW"
	StatusUnknown  Status = "UNKNOWN"
)

// Terminal reports whether the status ends the offer's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusCanceled, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// MapOfferState classifies a raw offer state. Total over all inputs: states
// this engine does not act on, including ones added by future protocol
// revisions, come back as StatusUnknown so the pipeline never stops on an
// unrecognized value.
func MapOfferState(state steam.OfferState) Status {
	switch state {
	case steam.StateAccepted:
		return StatusAccepted
	case steam.StateCanceled, steam.StateCanceledBySecondFactor:
		return StatusCanceled
	case steam.StateDeclined:
		return StatusDeclined
	case steam.StateExpired:
		return StatusExpired
	case steam.StateInEscrow:
		return StatusEscrow
	default:
		return StatusUnknown
	}
}
