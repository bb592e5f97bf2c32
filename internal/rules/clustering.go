package rules

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/match"
)

// VendorClusteringRule finds vendors that look like one operation
// registered several times: shared addresses, near-identical names, and
// sequentially issued vendor numbers.
type VendorClusteringRule struct{}

func (r *VendorClusteringRule) Name() string  { return "vendor_clustering" }
func (r *VendorClusteringRule) Title() string { return "Vendor clustering analysis" }

func (r *VendorClusteringRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	vendors, err := deps.Store.ListEntities(ctx, domain.KindVendor)
	if err != nil {
		return 0, fmt.Errorf("failed to load vendors: %w", err)
	}
	if len(vendors) < 2 {
		return 0, nil
	}

	byID := make(map[int64]domain.CanonicalEntity, len(vendors))
	for _, v := range vendors {
		byID[v.ID] = v
	}

	created := 0

	n, err := r.detectSharedAddresses(ctx, deps, vendors)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectSimilarNames(ctx, deps, vendors, byID)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectSequentialIDs(ctx, deps, vendors)
	if err != nil {
		return created, err
	}
	created += n

	return created, nil
}

// detectSharedAddresses groups vendors by normalized address, records
// same_address edges for every co-located pair, and alerts on groups of
// three or more.
func (r *VendorClusteringRule) detectSharedAddresses(ctx context.Context, deps *Deps, vendors []domain.CanonicalEntity) (int, error) {
	byAddr := make(map[string][]domain.CanonicalEntity)
	for _, v := range vendors {
		if v.NormalizedAddress == "" {
			continue
		}
		byAddr[v.NormalizedAddress] = append(byAddr[v.NormalizedAddress], v)
	}

	addrs := make([]string, 0, len(byAddr))
	for a, group := range byAddr {
		if len(group) >= 2 {
			addrs = append(addrs, a)
		}
	}
	sort.Strings(addrs)

	created := 0
	for _, addr := range addrs {
		group := byAddr[addr]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				_, err := deps.Store.UpsertEdge(ctx, domain.RelationshipEdge{
					Kind1:        domain.KindVendor,
					ID1:          group[i].ID,
					Kind2:        domain.KindVendor,
					ID2:          group[j].ID,
					RelationType: domain.RelationSameAddress,
					Confidence:   0.8,
					Evidence:     map[string]any{"address": addr},
				})
				if err != nil {
					return created, fmt.Errorf("failed to record same-address edge: %w", err)
				}
			}
		}

		if len(group) < 3 {
			continue
		}

		var total float64
		names := make([]string, 0, len(group))
		ids := make([]int64, 0, len(group))
		for _, v := range group {
			total += v.Attributes.PaymentTotal
			names = append(names, v.DisplayName)
			ids = append(ids, v.ID)
		}

		severity := domain.SeverityMedium
		if len(group) >= 5 || total >= 1_000_000 {
			severity = domain.SeverityHigh
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "vendor_address_cluster",
			Severity:    severity,
			Title:       fmt.Sprintf("%d vendors registered at one address", len(group)),
			Description: fmt.Sprintf("%d vendors share the address %q with combined payments of $%.2f", len(group), addr, total),
			EntityKind:  domain.KindVendor,
			EntityID:    group[0].ID,
			Evidence: map[string]any{
				"address":       addr,
				"vendorIds":     ids,
				"vendorNames":   names,
				"vendorCount":   len(group),
				"paymentTotal":  total,
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

// detectSimilarNames runs the matching engine over the vendor list and
// alerts on high-confidence pairs registered at different addresses.
// Same-address pairs are already covered by the address check.
func (r *VendorClusteringRule) detectSimilarNames(ctx context.Context, deps *Deps, vendors []domain.CanonicalEntity, byID map[int64]domain.CanonicalEntity) (int, error) {
	threshold := deps.Thresholds.Float("vendor_name_similarity", 0.85)

	result, err := deps.Matcher.Match(ctx, vendors, nil, match.Options{Threshold: threshold})
	if err != nil {
		return 0, fmt.Errorf("vendor name matching failed: %w", err)
	}
	if result.Skipped > 0 {
		deps.Logger.Debug("vendors skipped during name matching", "skipped", result.Skipped)
	}

	created := 0
	for _, p := range result.Pairs {
		v1, v2 := byID[p.ID1], byID[p.ID2]

		_, err := deps.Store.UpsertEdge(ctx, domain.RelationshipEdge{
			Kind1:        domain.KindVendor,
			ID1:          p.ID1,
			Kind2:        domain.KindVendor,
			ID2:          p.ID2,
			RelationType: domain.RelationSimilarName,
			Confidence:   p.Score,
			Evidence: map[string]any{
				"name1":      v1.DisplayName,
				"name2":      v2.DisplayName,
				"similarity": p.Score,
			},
		})
		if err != nil {
			return created, fmt.Errorf("failed to record similar-name edge: %w", err)
		}

		if p.Score < 0.9 {
			continue
		}
		if v1.NormalizedAddress != "" && v1.NormalizedAddress == v2.NormalizedAddress {
			continue
		}

		severity := domain.SeverityMedium
		if p.Score >= 0.95 {
			severity = domain.SeverityHigh
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "similar_vendor_names",
			Severity:    severity,
			Title:       fmt.Sprintf("Near-identical vendor names: %s / %s", v1.DisplayName, v2.DisplayName),
			Description: fmt.Sprintf("Vendors %d and %d have names matching at %.2f but different registered addresses", p.ID1, p.ID2, p.Score),
			EntityKind:  domain.KindVendor,
			EntityID:    p.ID1,
			Evidence: map[string]any{
				"vendorId1":  p.ID1,
				"vendorId2":  p.ID2,
				"name1":      v1.DisplayName,
				"name2":      v2.DisplayName,
				"similarity": p.Score,
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

// detectSequentialIDs looks for vendors registered back to back in the
// source system with similar names, a pattern seen when one operator
// sets up several shell vendors in a single session.
func (r *VendorClusteringRule) detectSequentialIDs(ctx context.Context, deps *Deps, vendors []domain.CanonicalEntity) (int, error) {
	type numbered struct {
		entity domain.CanonicalEntity
		num    int64
	}

	var nums []numbered
	for _, v := range vendors {
		if v.Attributes.AccountNumber == "" {
			continue
		}
		n, err := strconv.ParseInt(v.Attributes.AccountNumber, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, numbered{entity: v, num: n})
	}
	sort.Slice(nums, func(i, j int) bool {
		if nums[i].num != nums[j].num {
			return nums[i].num < nums[j].num
		}
		return nums[i].entity.ID < nums[j].entity.ID
	})

	created := 0
	for i := 1; i < len(nums); i++ {
		prev, cur := nums[i-1], nums[i]
		gap := cur.num - prev.num
		if gap < 1 || gap > 2 {
			continue
		}

		sim := match.Similarity(prev.entity.NormalizedName, cur.entity.NormalizedName)
		if sim < 0.7 {
			continue
		}

		_, err := deps.Store.UpsertEdge(ctx, domain.RelationshipEdge{
			Kind1:        domain.KindVendor,
			ID1:          prev.entity.ID,
			Kind2:        domain.KindVendor,
			ID2:          cur.entity.ID,
			RelationType: domain.RelationSequentialID,
			Confidence:   sim,
			Evidence: map[string]any{
				"accountNumber1": prev.entity.Attributes.AccountNumber,
				"accountNumber2": cur.entity.Attributes.AccountNumber,
				"nameSimilarity": sim,
			},
		})
		if err != nil {
			return created, fmt.Errorf("failed to record sequential-id edge: %w", err)
		}

		if sim < 0.85 {
			continue
		}

		subject := prev.entity
		if cur.entity.ID < subject.ID {
			subject = cur.entity
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "sequential_vendor_registration",
			Severity:    domain.SeverityLow,
			Title:       fmt.Sprintf("Sequential vendor numbers with similar names: %s / %s", prev.entity.DisplayName, cur.entity.DisplayName),
			Description: fmt.Sprintf("Vendor numbers %s and %s were issued consecutively and the names match at %.2f", prev.entity.Attributes.AccountNumber, cur.entity.Attributes.AccountNumber, sim),
			EntityKind:  domain.KindVendor,
			EntityID:    subject.ID,
			Evidence: map[string]any{
				"vendorId1":      prev.entity.ID,
				"vendorId2":      cur.entity.ID,
				"accountNumber1": prev.entity.Attributes.AccountNumber,
				"accountNumber2": cur.entity.Attributes.AccountNumber,
				"nameSimilarity": sim,
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
