package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
)

// ContractSplittingRule finds vendor/agency pairs with repeated awards
// priced just under a procurement threshold, the classic pattern for
// dodging competitive bidding.
type ContractSplittingRule struct {
	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// cvEscalationCount is the group size at which near-identical amounts
// escalate severity, independent of the configurable minimum count.
const cvEscalationCount = 5

func (r *ContractSplittingRule) Name() string  { return "contract_splitting" }
func (r *ContractSplittingRule) Title() string { return "Contract splitting detection" }

func (r *ContractSplittingRule) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *ContractSplittingRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	months := deps.Thresholds.Int("contract_splitting_months", 12)
	since := r.now().AddDate(0, -months, 0)

	created := 0

	// Formal bid threshold window ($45k-$50k under the $50k limit).
	minV := deps.Thresholds.Float("contract_splitting_min", 45_000)
	maxV := deps.Thresholds.Float("contract_splitting_max", 50_000)
	n, err := r.detectWindow(ctx, deps, minV, maxV, since, "formal bid", domain.SeverityHigh)
	if err != nil {
		return created, err
	}
	created += n

	// ESBD posting threshold window, just under the $25k floor.
	esbd := deps.Thresholds.Float("esbd_threshold", 25_000)
	n, err = r.detectWindow(ctx, deps, esbd*0.88, esbd, since, "ESBD posting", domain.SeverityMedium)
	if err != nil {
		return created, err
	}
	created += n

	return created, nil
}

func (r *ContractSplittingRule) detectWindow(ctx context.Context, deps *Deps, minValue, maxValue float64, since time.Time, window string, baseSeverity domain.AlertSeverity) (int, error) {
	minCount := deps.Thresholds.Int("contract_splitting_count", 3)

	contracts, err := deps.Store.ListContracts(ctx, minValue, maxValue, since)
	if err != nil {
		return 0, fmt.Errorf("failed to load contracts: %w", err)
	}

	type pairKey struct{ vendorID, agencyID int64 }
	groups := make(map[pairKey][]domain.Contract)
	for _, c := range contracts {
		k := pairKey{c.VendorID, c.AgencyID}
		groups[k] = append(groups[k], c)
	}

	keys := make([]pairKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].vendorID != keys[j].vendorID {
			return keys[i].vendorID < keys[j].vendorID
		}
		return keys[i].agencyID < keys[j].agencyID
	})

	created := 0
	for _, k := range keys {
		group := groups[k]
		if len(group) < minCount {
			continue
		}

		values := make([]float64, 0, len(group))
		ids := make([]int64, 0, len(group))
		var total float64
		for _, c := range group {
			values = append(values, c.Value)
			ids = append(ids, c.ID)
			total += c.Value
		}

		cv := coefficientOfVariation(values)

		severity := baseSeverity
		// Near-identical amounts repeated five or more times leave
		// little room for an innocent explanation.
		if cv < 0.1 && len(group) >= cvEscalationCount {
			severity = domain.SeverityHigh
		}

		vendorName := deps.EntityName(ctx, domain.KindVendor, k.vendorID)
		agencyName := deps.EntityName(ctx, domain.KindAgency, k.agencyID)

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "contract_splitting",
			Severity:    severity,
			Title:       fmt.Sprintf("%d contracts just under the %s threshold: %s", len(group), window, vendorName),
			Description: fmt.Sprintf("Agency %q awarded vendor %q %d contracts between $%.0f and $%.0f totaling $%.2f (CV %.3f)", agencyName, vendorName, len(group), minValue, maxValue, total, cv),
			EntityKind:  domain.KindVendor,
			EntityID:    k.vendorID,
			Evidence: map[string]any{
				"vendorId":      k.vendorID,
				"vendorName":    vendorName,
				"agencyId":      k.agencyID,
				"agencyName":    agencyName,
				"contractIds":   ids,
				"contractCount": len(group),
				"values":        values,
				"total":         total,
				"cv":            cv,
				"window":        window,
			},
		})
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

// coefficientOfVariation is stddev/mean over the values, 0 for a
// degenerate input.
func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq/float64(len(values))) / mean
}
