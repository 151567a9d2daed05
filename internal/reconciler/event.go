package reconciler

import (
	"encoding/json"
	"errors"

	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Message types carried by the push feed.
const (
	TypeLoanCreated = "loan.created"
	TypeLoanPayment = "loan.payment"
)

// ErrIgnoredEvent is returned by ParseEvent for well-formed messages whose
// type the reconciler does not handle.
var ErrIgnoredEvent = errors.New("ignored event type")

// wireEvent is the JSON shape of a pushed message.
type wireEvent struct {
	Type        string           `json:"type"`
	LoanID      *int64           `json:"loan_id"`
	UserID      int64            `json:"user_id"`
	Principal   *decimal.Decimal `json:"principal"`
	EMI         *decimal.Decimal `json:"emi"`
	Outstanding *decimal.Decimal `json:"outstanding"`
	Status      string           `json:"status"`
}

// ParseEvent decodes one pushed message. Unknown types yield
// ErrIgnoredEvent; anything unparsable yields *domain.ErrMalformedEvent.
func ParseEvent(msg []byte) (domain.LoanEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(msg, &w); err != nil {
		return domain.LoanEvent{}, &domain.ErrMalformedEvent{Reason: "invalid json", Err: err}
	}

	switch w.Type {
	case TypeLoanCreated:
		if w.LoanID == nil {
			return domain.LoanEvent{}, &domain.ErrMalformedEvent{Reason: "loan.created without loan_id"}
		}
		if w.Outstanding == nil {
			return domain.LoanEvent{}, &domain.ErrMalformedEvent{Reason: "loan.created without outstanding"}
		}
		return domain.LoanEvent{
			Kind: domain.EventCreated,
			Created: &domain.LoanCreated{
				LoanID:      *w.LoanID,
				OwnerID:     w.UserID,
				Principal:   orZero(w.Principal),
				EMI:         orZero(w.EMI),
				Outstanding: *w.Outstanding,
			},
		}, nil

	case TypeLoanPayment:
		if w.LoanID == nil {
			return domain.LoanEvent{}, &domain.ErrMalformedEvent{Reason: "loan.payment without loan_id"}
		}
		if w.Outstanding == nil {
			return domain.LoanEvent{}, &domain.ErrMalformedEvent{Reason: "loan.payment without outstanding"}
		}
		status := domain.LoanStatusActive
		if w.Outstanding.IsZero() {
			status = domain.LoanStatusClosed
		}
		if w.Status != "" {
			parsed, err := domain.ParseLoanStatus(w.Status)
			if err != nil {
				return domain.LoanEvent{}, &domain.ErrMalformedEvent{Reason: "bad status", Err: err}
			}
			status = parsed
		}
		return domain.LoanEvent{
			Kind: domain.EventPaymentApplied,
			Payment: &domain.PaymentApplied{
				LoanID:      *w.LoanID,
				Outstanding: *w.Outstanding,
				Status:      status,
			},
		}, nil

	case "":
		return domain.LoanEvent{}, &domain.ErrMalformedEvent{Reason: "missing type"}
	}
	return domain.LoanEvent{}, ErrIgnoredEvent
}

func orZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}
