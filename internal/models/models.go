package models

import "fmt"

// Product is a catalogue entry, keyed by its unique name
type Product struct {
	Name    string  `db:"name" json:"name" validate:"required,max=200"`
	Price   *int64  `db:"price" json:"price,omitempty" validate:"omitempty,gte=0"`
	Picture []byte  `db:"picture" json:"picture,omitempty"`
	Type    *string `db:"type" json:"type,omitempty"`
}

// Stock is one batch of a product with a given expiry date
type Stock struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Expiry   string `db:"expiry" json:"expiry"`
	Quantity int64  `db:"quantity" json:"quantity"`
}

// LoanHeader is one borrow/lend/return event
type LoanHeader struct {
	ID           string  `db:"id" json:"id"`
	Date         string  `db:"date" json:"date" validate:"required,datetime=2006-01-02"`
	Direction    string  `db:"direction" json:"direction" validate:"required,oneof=loan_in loan_out return_in return_out"`
	Counterparty string  `db:"counterparty" json:"counterparty" validate:"required"`
	Note         *string `db:"note" json:"note,omitempty"`
}

// LoanItem is a line item of a loan event
type LoanItem struct {
	ID          string `db:"id" json:"id"`
	LoanID      string `db:"loan_id" json:"loan_id"`
	ProductName string `db:"product_name" json:"product_name" validate:"required"`
	Quantity    int64  `db:"quantity" json:"quantity" validate:"gt=0"`
	Expiry      string `db:"expiry" json:"expiry" validate:"required,datetime=2006-01-02"`
}

// Loan is a header together with its items
type Loan struct {
	LoanHeader
	Items []LoanItem `json:"items"`
}

// LoanFilter narrows ListLoans; zero fields are ignored
type LoanFilter struct {
	Counterparty string
	Direction    string
	From         string
	To           string
}

// ExpiryBucket is the quantity on hand for one expiry date of a product
type ExpiryBucket struct {
	Expiry   string `db:"expiry" json:"expiry"`
	Quantity int64  `db:"quantity" json:"quantity"`
}

// Loan directions
const (
	DirectionLoanIn    = "loan_in"
	DirectionLoanOut   = "loan_out"
	DirectionReturnIn  = "return_in"
	DirectionReturnOut = "return_out"
)

// TestProductName marks fixture rows that never count toward a valuation
const TestProductName = "test"

// StockDelta returns the signed stock change a loan item of qty causes.
// Inbound directions add stock, outbound directions remove it.
func StockDelta(direction string, qty int64) (int64, error) {
	switch direction {
	case DirectionLoanIn, DirectionReturnIn:
		return qty, nil
	case DirectionLoanOut, DirectionReturnOut:
		return -qty, nil
	default:
		return 0, fmt.Errorf("unknown loan direction: %q", direction)
	}
}
