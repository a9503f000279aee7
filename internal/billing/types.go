package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"deskbill.org/internal/money"
)

// ServiceType is a billable offering in the catalog (printing, fines,
// lamination, ...). Referenced by entries, never deleted.
type ServiceType struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Entry is one priced line item inside a transaction. UnitPrice is the
// catalog price captured at the last mutation; a later catalog change
// does not touch existing entries. Subtotal always equals
// UnitPrice * Quantity and is recomputed atomically with any mutation.
type Entry struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	ServiceID     string          `json:"service_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

// Transaction is a charge event against a subject user, processed by a
// staff user. It exclusively owns its entries; id, subject and timestamp
// are immutable after creation.
type Transaction struct {
	ID            string    `json:"id"`
	SubjectUserID string    `json:"subject_user_id"`
	ProcessedByID string    `json:"processed_by_id"`
	CreatedAt     time.Time `json:"created_at"`
	Term          string    `json:"term,omitempty"`
	SchoolYear    string    `json:"school_year,omitempty"`
	Entries       []Entry   `json:"entries"`
}

// Total derives the transaction total from its entry subtotals. It is
// never stored, so it cannot diverge from the entries.
func (t Transaction) Total() decimal.Decimal {
	total := money.Zero()
	for _, e := range t.Entries {
		total = total.Add(e.Subtotal)
	}
	return total
}

// ServicePatch carries optional catalog updates; nil fields are left
// untouched.
type ServicePatch struct {
	Name        *string
	Description *string
	UnitPrice   *decimal.Decimal
}

var (
	ErrInvalidArgument = errors.New("billing: invalid argument")
	ErrNotFound        = errors.New("billing: not found")
	ErrConflict        = errors.New("billing: already exists")
	ErrStorage         = errors.New("billing: storage failure")
)
