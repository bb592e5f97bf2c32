package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/match"
	"github.com/openaudit/kestrel/internal/normalize"
)

// DebarmentRule matches paid vendors against the debarred/excluded
// party list. A vendor receiving payments while matching an exclusion
// record is the highest-priority finding the engine produces.
type DebarmentRule struct{}

func (r *DebarmentRule) Name() string  { return "debarment" }
func (r *DebarmentRule) Title() string { return "Debarred vendor screening" }

func (r *DebarmentRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	vendors, err := deps.Store.ListEntities(ctx, domain.KindVendor)
	if err != nil {
		return 0, fmt.Errorf("failed to load vendors: %w", err)
	}
	debarred, err := deps.Store.ListEntities(ctx, domain.KindDebarred)
	if err != nil {
		return 0, fmt.Errorf("failed to load debarred list: %w", err)
	}
	if len(vendors) == 0 || len(debarred) == 0 {
		return 0, nil
	}

	threshold := deps.Thresholds.Float("debarment_name_similarity", 0.90)
	minPayment := deps.Thresholds.Float("debarment_min_payment", 1000)

	vendorByID := make(map[int64]domain.CanonicalEntity, len(vendors))
	for _, v := range vendors {
		vendorByID[v.ID] = v
	}
	debarredByID := make(map[int64]domain.CanonicalEntity, len(debarred))
	for _, d := range debarred {
		debarredByID[d.ID] = d
	}

	// Screen against every spelling variant of each excluded party so a
	// vendor registered under a bare or rearranged form of a debarred
	// name still matches. Variant rows keep the source record's id;
	// scores collapse to the best per (vendor, debarred) pair below.
	reference := make([]domain.CanonicalEntity, 0, len(debarred))
	for _, d := range debarred {
		variants := normalize.NameVariants(d.NormalizedName)
		if len(variants) == 0 {
			reference = append(reference, d)
			continue
		}
		for _, v := range variants {
			row := d
			row.NormalizedName = v
			reference = append(reference, row)
		}
	}

	result, err := deps.Matcher.Match(ctx, vendors, reference, match.Options{Threshold: threshold})
	if err != nil {
		return 0, fmt.Errorf("debarment matching failed: %w", err)
	}

	type pairKey struct{ vendorID, debarredID int64 }
	best := make(map[pairKey]match.CandidatePair)
	for _, p := range result.Pairs {
		k := pairKey{p.ID1, p.ID2}
		if b, ok := best[k]; !ok || p.Score > b.Score {
			best[k] = p
		}
	}
	keys := make([]pairKey, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].vendorID != keys[j].vendorID {
			return keys[i].vendorID < keys[j].vendorID
		}
		return keys[i].debarredID < keys[j].debarredID
	})

	created := 0
	for _, k := range keys {
		p := best[k]
		vendor := vendorByID[p.ID1]
		excluded := debarredByID[p.ID2]

		_, err := deps.Store.UpsertEdge(ctx, domain.RelationshipEdge{
			Kind1:        domain.KindVendor,
			ID1:          vendor.ID,
			Kind2:        domain.KindDebarred,
			ID2:          excluded.ID,
			RelationType: domain.RelationDebarMatch,
			Confidence:   p.Score,
			Evidence: map[string]any{
				"vendorName":      vendor.DisplayName,
				"excludedName":    excluded.DisplayName,
				"similarity":      p.Score,
				"source":          excluded.Attributes.Source,
				"exclusionType":   excluded.Attributes.ExclusionType,
				"excludingAgency": excluded.Attributes.ExcludingAgency,
			},
		})
		if err != nil {
			return created, fmt.Errorf("failed to record debarment edge: %w", err)
		}

		if vendor.Attributes.PaymentTotal < minPayment {
			continue
		}

		severity := domain.SeverityLow
		switch {
		case p.Score >= 0.95:
			severity = domain.SeverityHigh
		case p.Score >= 0.90:
			severity = domain.SeverityMedium
		}

		matchKind := "fuzzy"
		if p.Score == 1.0 {
			matchKind = "exact"
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "debarred_vendor_payment",
			Severity:    severity,
			Title:       fmt.Sprintf("Paid vendor matches exclusion record: %s", vendor.DisplayName),
			Description: fmt.Sprintf("Vendor %q received $%.2f and matches excluded party %q (%s match, %.2f)", vendor.DisplayName, vendor.Attributes.PaymentTotal, excluded.DisplayName, matchKind, p.Score),
			EntityKind:  domain.KindVendor,
			EntityID:    vendor.ID,
			Evidence: map[string]any{
				"vendorId":        vendor.ID,
				"vendorName":      vendor.DisplayName,
				"debarredId":      excluded.ID,
				"excludedName":    excluded.DisplayName,
				"similarity":      p.Score,
				"matchKind":       matchKind,
				"paymentTotal":    vendor.Attributes.PaymentTotal,
				"source":          excluded.Attributes.Source,
				"exclusionType":   excluded.Attributes.ExclusionType,
				"excludingAgency": excluded.Attributes.ExcludingAgency,
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
