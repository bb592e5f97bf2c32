package rules

import (
	"context"
	"fmt"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/graph"
)

// NetworkAnalysisRule runs the structural checks over the payment
// graph: hub vendors, exclusive vendor-agency relationships, and
// isolated vendor clusters concentrating on the same agencies.
type NetworkAnalysisRule struct{}

func (r *NetworkAnalysisRule) Name() string  { return "network_analysis" }
func (r *NetworkAnalysisRule) Title() string { return "Payment network analysis" }

func (r *NetworkAnalysisRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	g, err := deps.Graph(ctx)
	if err != nil {
		return 0, err
	}
	if g.NodeCount() < 10 {
		deps.Logger.Info("payment graph too small for network analysis", "nodes", g.NodeCount())
		return 0, nil
	}

	created := 0

	n, err := r.detectHubs(ctx, deps, g)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectExclusiveRelationships(ctx, deps, g)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectClusters(ctx, deps, g)
	if err != nil {
		return created, err
	}
	created += n

	return created, nil
}

// detectHubs flags vendors whose agency count sits far above the
// population mean. Legitimate statewide suppliers show up here too, so
// the base severity stays low.
func (r *NetworkAnalysisRule) detectHubs(ctx context.Context, deps *Deps, g *graph.Graph) (int, error) {
	minDegree := deps.Thresholds.Int("network_hub_min_degree", 10)
	z := deps.Thresholds.Float("network_hub_z_score", 2.0)

	created := 0
	for _, o := range g.DegreeOutliers(graph.NodeVendor, minDegree, z) {
		severity := domain.SeverityLow
		if o.StdDev > 0 && float64(o.Degree) >= o.Mean+3*o.StdDev {
			severity = domain.SeverityMedium
		}

		name := deps.EntityName(ctx, domain.KindVendor, o.Node.ID)
		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "hub_vendor",
			Severity:    severity,
			Title:       fmt.Sprintf("Vendor paid by unusually many agencies: %s", name),
			Description: fmt.Sprintf("Vendor %q transacts with %d agencies against a population mean of %.1f", name, o.Degree, o.Mean),
			EntityKind:  domain.KindVendor,
			EntityID:    o.Node.ID,
			Evidence: map[string]any{
				"vendorId":    o.Node.ID,
				"vendorName":  name,
				"agencyCount": o.Degree,
				"meanDegree":  o.Mean,
				"stdDev":      o.StdDev,
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

func (r *NetworkAnalysisRule) detectExclusiveRelationships(ctx context.Context, deps *Deps, g *graph.Graph) (int, error) {
	minValue := deps.Thresholds.Float("network_exclusive_min_value", 100_000)
	minShare := deps.Thresholds.Float("network_exclusive_min_share", 0.80)

	created := 0
	for _, v := range g.NodesOf(graph.NodeVendor) {
		d, ok := g.DominantEdgeShare(v)
		if !ok || d.Neighbors < 1 {
			continue
		}
		if d.TotalWeight < minValue || d.Share < minShare {
			continue
		}

		severity := domain.SeverityMedium
		if d.Share >= 0.95 || d.TotalWeight >= 5_000_000 {
			severity = domain.SeverityHigh
		}

		vendorName := deps.EntityName(ctx, domain.KindVendor, v.ID)
		agencyName := deps.EntityName(ctx, domain.KindAgency, d.TopNeighbor.ID)

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "exclusive_relationship",
			Severity:    severity,
			Title:       fmt.Sprintf("Vendor dependent on one agency: %s", vendorName),
			Description: fmt.Sprintf("%.0f%% of vendor %q's $%.2f volume comes from %q", d.Share*100, vendorName, d.TotalWeight, agencyName),
			EntityKind:  domain.KindVendor,
			EntityID:    v.ID,
			Evidence: map[string]any{
				"vendorId":    v.ID,
				"vendorName":  vendorName,
				"agencyId":    d.TopNeighbor.ID,
				"agencyName":  agencyName,
				"share":       d.Share,
				"topValue":    d.TopWeight,
				"totalValue":  d.TotalWeight,
				"agencyCount": d.Neighbors,
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

// detectClusters finds small vendor groups linked by relationship edges
// that funnel into the same agencies.
func (r *NetworkAnalysisRule) detectClusters(ctx context.Context, deps *Deps, g *graph.Graph) (int, error) {
	components := g.ConnectedComponents(func(n graph.NodeID) bool { return n.Kind == graph.NodeVendor })

	created := 0
	for _, comp := range components {
		if comp.Size < 3 || comp.Size > 20 {
			continue
		}

		// Agencies reached by at least two cluster members.
		agencyHits := make(map[int64]int)
		var totalValue float64
		for _, member := range comp.Members {
			seen := make(map[int64]bool)
			for _, nb := range g.Neighbors(member) {
				if nb.Kind != graph.NodeAgency || seen[nb.ID] {
					continue
				}
				seen[nb.ID] = true
				agencyHits[nb.ID]++
				if w, ok := g.Edge(member, nb); ok {
					totalValue += w.Total()
				}
			}
		}

		var sharedAgencies []int64
		for id, hits := range agencyHits {
			if hits >= 2 {
				sharedAgencies = append(sharedAgencies, id)
			}
		}
		if len(sharedAgencies) == 0 {
			continue
		}

		severity := domain.SeverityMedium
		if comp.Size >= 5 && totalValue >= 1_000_000 {
			severity = domain.SeverityHigh
		}

		memberIDs := make([]int64, 0, comp.Size)
		for _, m := range comp.Members {
			memberIDs = append(memberIDs, m.ID)
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "vendor_network_cluster",
			Severity:    severity,
			Title:       fmt.Sprintf("Linked vendor cluster of %d feeding shared agencies", comp.Size),
			Description: fmt.Sprintf("%d connected vendors share %d agencies with combined volume of $%.2f", comp.Size, len(sharedAgencies), totalValue),
			EntityKind:  domain.KindVendor,
			EntityID:    memberIDs[0],
			Evidence: map[string]any{
				"vendorIds":      memberIDs,
				"sharedAgencies": sharedAgencies,
				"memberCount":    comp.Size,
				"totalValue":     totalValue,
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
