package catalog

import "github.com/shopspring/decimal"

// Course is a catalog entry. The code doubles as the node identity in the
// prerequisite dependency graph.
type Course struct {
	Code        string          `json:"code"`
	Title       string          `json:"title"`
	SubjectArea string          `json:"subject_area"`
	CreditHours decimal.Decimal `json:"credit_hours"`
	Active      bool            `json:"active"`
}
