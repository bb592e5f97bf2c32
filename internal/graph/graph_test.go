package graph

import (
	"testing"

	"github.com/openaudit/kestrel/internal/domain"
)

func agg(vendorID, agencyID int64, total float64) domain.PairAggregate {
	return domain.PairAggregate{VendorID: vendorID, AgencyID: agencyID, PaymentTotal: total, PaymentCount: 1}
}

func vendorEdge(id1, id2 int64, relType string, conf float64) domain.RelationshipEdge {
	return domain.RelationshipEdge{
		Kind1: domain.KindVendor, ID1: id1,
		Kind2: domain.KindVendor, ID2: id2,
		RelationType: relType, Confidence: conf,
	}
}

func TestBuild(t *testing.T) {
	g := Build([]domain.PairAggregate{
		agg(1, 10, 50_000),
		agg(2, 10, 25_000),
		agg(1, 11, 10_000),
	}, []domain.RelationshipEdge{
		vendorEdge(1, 2, domain.RelationSameAddress, 0.8),
	})

	if g.NodeCount() != 4 {
		t.Errorf("expected 4 nodes, got %d", g.NodeCount())
	}

	w, ok := g.Edge(Vendor(1), Agency(10))
	if !ok || w.PaymentTotal != 50_000 {
		t.Errorf("unexpected vendor-agency edge: %+v ok=%v", w, ok)
	}

	// Edges are undirected.
	back, ok := g.Edge(Agency(10), Vendor(1))
	if !ok || back.PaymentTotal != 50_000 {
		t.Errorf("expected symmetric edge, got %+v ok=%v", back, ok)
	}

	rel, ok := g.Edge(Vendor(1), Vendor(2))
	if !ok || rel.RelationType != domain.RelationSameAddress || rel.Confidence != 0.8 {
		t.Errorf("unexpected vendor-vendor edge: %+v ok=%v", rel, ok)
	}

	t.Run("NonVendorEdgesIgnored", func(t *testing.T) {
		g := Build(nil, []domain.RelationshipEdge{
			{Kind1: domain.KindVendor, ID1: 1, Kind2: domain.KindEmployee, ID2: 2, RelationType: domain.RelationNameMatch, Confidence: 0.9},
		})
		if g.NodeCount() != 0 {
			t.Errorf("expected empty graph, got %d nodes", g.NodeCount())
		}
	})

	t.Run("HighestConfidenceWins", func(t *testing.T) {
		g := Build(nil, []domain.RelationshipEdge{
			vendorEdge(1, 2, domain.RelationSameAddress, 0.8),
			vendorEdge(1, 2, domain.RelationSimilarName, 0.95),
			vendorEdge(1, 2, domain.RelationSequentialID, 0.6),
		})
		w, _ := g.Edge(Vendor(1), Vendor(2))
		if w.RelationType != domain.RelationSimilarName || w.Confidence != 0.95 {
			t.Errorf("expected strongest relation kept, got %+v", w)
		}
	})
}

func TestNeighborsDeterministic(t *testing.T) {
	g := Build([]domain.PairAggregate{
		agg(1, 12, 1), agg(1, 10, 1), agg(1, 11, 1),
	}, nil)

	first := g.Neighbors(Vendor(1))
	if len(first) != 3 {
		t.Fatalf("expected 3 neighbors, got %d", len(first))
	}
	for i := 0; i < 5; i++ {
		again := g.Neighbors(Vendor(1))
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("neighbor order unstable: %v vs %v", again, first)
			}
		}
	}
	if first[0] != Agency(10) || first[2] != Agency(12) {
		t.Errorf("expected sorted agencies, got %v", first)
	}
}

func TestStats(t *testing.T) {
	g := Build([]domain.PairAggregate{
		agg(1, 10, 1),
		agg(2, 10, 1),
		agg(3, 11, 1),
	}, nil)

	s := g.Stats()
	if s.Nodes != 5 || s.Edges != 3 {
		t.Errorf("expected 5 nodes / 3 edges, got %d / %d", s.Nodes, s.Edges)
	}
	if s.Vendors != 3 || s.Agencies != 2 {
		t.Errorf("expected 3 vendors / 2 agencies, got %d / %d", s.Vendors, s.Agencies)
	}
	if s.Components != 2 {
		t.Errorf("expected 2 components, got %d", s.Components)
	}
}
