package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/graph"
	"github.com/openaudit/kestrel/internal/match"
)

// RelatedPartyRule walks the accumulated relationship edges for
// networks of connected vendors, circular payment patterns, and
// employee-vendor-contributor triangles.
type RelatedPartyRule struct{}

func (r *RelatedPartyRule) Name() string  { return "related_party" }
func (r *RelatedPartyRule) Title() string { return "Related-party transaction analysis" }

func (r *RelatedPartyRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	edges, err := deps.Store.QueryEdgesAbove(ctx, 0.7)
	if err != nil {
		return 0, fmt.Errorf("failed to load relationship edges: %w", err)
	}

	var vendorEdges []domain.RelationshipEdge
	for _, e := range edges {
		if e.Kind1 == domain.KindVendor && e.Kind2 == domain.KindVendor {
			vendorEdges = append(vendorEdges, e)
		}
	}

	created := 0

	n, err := r.detectNetworks(ctx, deps, vendorEdges)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectCircularPatterns(ctx, deps, vendorEdges)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectTriangles(ctx, deps)
	if err != nil {
		return created, err
	}
	created += n

	return created, nil
}

// detectNetworks groups vendors connected by any relationship edge and
// alerts on networks moving significant money.
func (r *RelatedPartyRule) detectNetworks(ctx context.Context, deps *Deps, vendorEdges []domain.RelationshipEdge) (int, error) {
	minSize := deps.Thresholds.Int("related_party_min_network_size", 3)
	minValue := deps.Thresholds.Float("related_party_min_value", 500_000)

	parent := make(map[int64]int64)
	var find func(int64) int64
	find = func(x int64) int64 {
		if p, ok := parent[x]; ok && p != x {
			root := find(p)
			parent[x] = root
			return root
		}
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
		return parent[x]
	}
	union := func(a, b int64) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for _, e := range vendorEdges {
		union(e.ID1, e.ID2)
	}

	members := make(map[int64][]int64)
	for v := range parent {
		members[find(v)] = append(members[find(v)], v)
	}

	relationTypes := make(map[int64]map[string]bool)
	for _, e := range vendorEdges {
		root := find(e.ID1)
		if relationTypes[root] == nil {
			relationTypes[root] = make(map[string]bool)
		}
		relationTypes[root][e.RelationType] = true
	}

	roots := make([]int64, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	created := 0
	for _, root := range roots {
		ids := members[root]
		if len(ids) < minSize {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		var totalValue float64
		names := make([]string, 0, len(ids))
		for _, id := range ids {
			e, err := deps.Store.GetEntity(ctx, domain.KindVendor, id)
			if err != nil {
				names = append(names, fmt.Sprintf("vendor %d", id))
				continue
			}
			totalValue += e.Attributes.PaymentTotal
			names = append(names, e.DisplayName)
		}
		if totalValue < minValue {
			continue
		}

		types := make([]string, 0, len(relationTypes[root]))
		for t := range relationTypes[root] {
			types = append(types, t)
		}
		sort.Strings(types)

		severity := domain.SeverityMedium
		if len(ids) >= 5 || totalValue >= 2_000_000 || len(types) >= 3 {
			severity = domain.SeverityHigh
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "related_party_network",
			Severity:    severity,
			Title:       fmt.Sprintf("Related vendor network of %d with $%.0f in payments", len(ids), totalValue),
			Description: fmt.Sprintf("%d vendors linked by %v received a combined $%.2f", len(ids), types, totalValue),
			EntityKind:  domain.KindVendor,
			EntityID:    ids[0],
			Evidence: map[string]any{
				"vendorIds":     ids,
				"vendorNames":   names,
				"networkSize":   len(ids),
				"totalValue":    totalValue,
				"relationTypes": types,
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

// detectCircularPatterns looks for related vendor pairs that both draw
// significant money from the same agencies.
func (r *RelatedPartyRule) detectCircularPatterns(ctx context.Context, deps *Deps, vendorEdges []domain.RelationshipEdge) (int, error) {
	g, err := deps.Graph(ctx)
	if err != nil {
		return 0, err
	}

	const minSideValue = 50_000

	created := 0
	for _, e := range vendorEdges {
		shared := g.SharedCounterparties(graph.Vendor(e.ID1), graph.Vendor(e.ID2))

		var agencies []int64
		var combined float64
		for _, s := range shared {
			if s.Node.Kind != graph.NodeAgency {
				continue
			}
			if s.WeightA < minSideValue || s.WeightB < minSideValue {
				continue
			}
			agencies = append(agencies, s.Node.ID)
			combined += s.WeightA + s.WeightB
		}
		if len(agencies) == 0 {
			continue
		}

		severity := domain.SeverityMedium
		if len(agencies) >= 3 || combined >= 1_000_000 {
			severity = domain.SeverityHigh
		}

		name1 := deps.EntityName(ctx, domain.KindVendor, e.ID1)
		name2 := deps.EntityName(ctx, domain.KindVendor, e.ID2)

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "circular_payment",
			Severity:    severity,
			Title:       fmt.Sprintf("Related vendors drawing from shared agencies: %s / %s", name1, name2),
			Description: fmt.Sprintf("Vendors %q and %q (%s, conf %.2f) both receive from %d common agencies, combined $%.2f", name1, name2, e.RelationType, e.Confidence, len(agencies), combined),
			EntityKind:  domain.KindVendor,
			EntityID:    e.ID1,
			Evidence: map[string]any{
				"vendorId1":      e.ID1,
				"vendorId2":      e.ID2,
				"relationType":   e.RelationType,
				"confidence":     e.Confidence,
				"sharedAgencies": agencies,
				"combinedValue":  combined,
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

// detectTriangles ties the pieces together: an employee whose name
// matches a paid vendor and also matches a political contributor.
func (r *RelatedPartyRule) detectTriangles(ctx context.Context, deps *Deps) (int, error) {
	nameMatches, err := deps.Store.QueryPairs(ctx, domain.RelationNameMatch)
	if err != nil {
		return 0, fmt.Errorf("failed to load name-match edges: %w", err)
	}
	if len(nameMatches) == 0 {
		return 0, nil
	}

	contributors, err := deps.Store.ListEntities(ctx, domain.KindContributor)
	if err != nil {
		return 0, fmt.Errorf("failed to load contributors: %w", err)
	}
	employees, err := deps.Store.ListEntities(ctx, domain.KindEmployee)
	if err != nil {
		return 0, fmt.Errorf("failed to load employees: %w", err)
	}
	if len(contributors) == 0 || len(employees) == 0 {
		return 0, nil
	}

	contribByID := make(map[int64]domain.CanonicalEntity, len(contributors))
	for _, c := range contributors {
		contribByID[c.ID] = c
	}

	threshold := deps.Thresholds.Float("triangle_contributor_similarity", 0.80)
	result, err := deps.Matcher.Match(ctx, employees, contributors, match.Options{Threshold: threshold})
	if err != nil {
		return 0, fmt.Errorf("contributor matching failed: %w", err)
	}

	// Best contributor match per employee.
	contribMatch := make(map[int64]match.CandidatePair)
	for _, p := range result.Pairs {
		if best, ok := contribMatch[p.ID1]; !ok || p.Score > best.Score {
			contribMatch[p.ID1] = p
		}
	}

	created := 0
	for _, e := range nameMatches {
		// Canonical order puts the vendor first and the employee second.
		vendorID, employeeID := e.ID1, e.ID2
		cm, ok := contribMatch[employeeID]
		if !ok {
			continue
		}
		contributor := contribByID[cm.ID2]

		vendor, err := deps.Store.GetEntity(ctx, domain.KindVendor, vendorID)
		if err != nil {
			continue
		}

		severity := domain.SeverityMedium
		if contributor.Attributes.PaymentTotal >= 10_000 || vendor.Attributes.PaymentTotal >= 500_000 {
			severity = domain.SeverityHigh
		}

		employeeName := deps.EntityName(ctx, domain.KindEmployee, employeeID)

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "conflict_triangle",
			Severity:    severity,
			Title:       fmt.Sprintf("Employee-vendor-contributor triangle: %s", vendor.DisplayName),
			Description: fmt.Sprintf("Employee %q matches paid vendor %q and contributor %q ($%.2f in contributions)", employeeName, vendor.DisplayName, contributor.DisplayName, contributor.Attributes.PaymentTotal),
			EntityKind:  domain.KindVendor,
			EntityID:    vendorID,
			Evidence: map[string]any{
				"vendorId":          vendorID,
				"vendorName":        vendor.DisplayName,
				"employeeId":        employeeID,
				"employeeName":      employeeName,
				"contributorId":     contributor.ID,
				"contributorName":   contributor.DisplayName,
				"contributorMatch":  cm.Score,
				"contributionTotal": contributor.Attributes.PaymentTotal,
				"paymentTotal":      vendor.Attributes.PaymentTotal,
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
