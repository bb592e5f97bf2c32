// Package domain defines the core interfaces and types for Kestrel.
package domain

// EntityKind identifies which canonical collection an entity belongs to.
type EntityKind string

const (
	KindVendor      EntityKind = "vendor"
	KindEmployee    EntityKind = "employee"
	KindContributor EntityKind = "contributor"
	KindAgency      EntityKind = "agency"
	KindDebarred    EntityKind = "debarred"
)

// kindRank fixes the ordering used for canonical cross-kind edge storage.
var kindRank = map[EntityKind]int{
	KindVendor:      0,
	KindEmployee:    1,
	KindContributor: 2,
	KindAgency:      3,
	KindDebarred:    4,
}

// Rank returns the canonical ordering position of the kind.
// Unknown kinds sort last.
func (k EntityKind) Rank() int {
	if r, ok := kindRank[k]; ok {
		return r
	}
	return len(kindRank)
}

// CanonicalEntity is an immutable entity produced by ingestion.
// Attributes are read-only inputs to severity scoring; Kestrel never
// writes entity rows.
type CanonicalEntity struct {
	ID                int64            `json:"id"`
	Kind              EntityKind       `json:"kind"`
	DisplayName       string           `json:"displayName"`
	NormalizedName    string           `json:"normalizedName"`
	NormalizedAddress string           `json:"normalizedAddress,omitempty"`
	Attributes        EntityAttributes `json:"attributes"`
}

// EntityAttributes carries ingestion-owned facts used by detection rules.
type EntityAttributes struct {
	// AccountNumber is the source-system identifier (e.g. state vendor
	// number). Used by the sequential-registration check.
	AccountNumber string `json:"accountNumber,omitempty"`

	// Cumulative payment volume across all agencies.
	PaymentTotal float64 `json:"paymentTotal,omitempty"`
	PaymentCount int64   `json:"paymentCount,omitempty"`

	// Agency or job metadata for employees.
	AgencyID int64  `json:"agencyId,omitempty"`
	JobTitle string `json:"jobTitle,omitempty"`

	// Exclusion metadata for debarred entities.
	Source          string `json:"source,omitempty"`
	ExclusionType   string `json:"exclusionType,omitempty"`
	ExcludingAgency string `json:"excludingAgency,omitempty"`
}

// PairAggregate is the per vendor-agency transaction summary read from
// the ingestion-owned store. The bipartite graph is built from these.
type PairAggregate struct {
	VendorID      int64   `json:"vendorId"`
	AgencyID      int64   `json:"agencyId"`
	PaymentTotal  float64 `json:"paymentTotal"`
	PaymentCount  int64   `json:"paymentCount"`
	ContractTotal float64 `json:"contractTotal"`
	ContractCount int64   `json:"contractCount"`
}

// Contract is a single award row, consumed by the splitting check.
type Contract struct {
	ID             int64   `json:"id"`
	VendorID       int64   `json:"vendorId"`
	AgencyID       int64   `json:"agencyId"`
	ContractNumber string  `json:"contractNumber,omitempty"`
	Value          float64 `json:"value"`
	StartDate      string  `json:"startDate"` // YYYY-MM-DD
	Description    string  `json:"description,omitempty"`
}

// MonthlySpend is an agency's payment total for one calendar month.
type MonthlySpend struct {
	AgencyID int64   `json:"agencyId"`
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Total    float64 `json:"total"`
	Count    int64   `json:"count"`
}

// VendorMonthlySpend is a vendor's received total for one calendar month.
type VendorMonthlySpend struct {
	VendorID int64   `json:"vendorId"`
	Year     int     `json:"year"`
	Month    int     `json:"month"`
	Total    float64 `json:"total"`
}
