// Package graph builds the ephemeral bipartite vendor-agency payment
// graph and runs the structural queries used by detection rules. A
// Graph is immutable once built and safe for concurrent readers.
package graph

import (
	"sort"

	"github.com/openaudit/kestrel/internal/domain"
)

// NodeKind distinguishes the two sides of the bipartite graph.
type NodeKind int

const (
	NodeVendor NodeKind = iota
	NodeAgency
)

func (k NodeKind) String() string {
	if k == NodeAgency {
		return "agency"
	}
	return "vendor"
}

// NodeID is a tagged node identifier.
type NodeID struct {
	Kind NodeKind
	ID   int64
}

// Vendor returns the node id for a vendor.
func Vendor(id int64) NodeID { return NodeID{Kind: NodeVendor, ID: id} }

// Agency returns the node id for an agency.
func Agency(id int64) NodeID { return NodeID{Kind: NodeAgency, ID: id} }

func (n NodeID) less(o NodeID) bool {
	if n.Kind != o.Kind {
		return n.Kind < o.Kind
	}
	return n.ID < o.ID
}

// EdgeWeights carries the aggregate transaction sums on a vendor-agency
// edge, or the relationship metadata on a vendor-vendor edge.
type EdgeWeights struct {
	PaymentTotal  float64
	PaymentCount  int64
	ContractTotal float64
	ContractCount int64

	// Set only on vendor-vendor relationship edges.
	RelationType string
	Confidence   float64
}

// Total is the aggregate weight of the edge: payments plus contracts.
func (w EdgeWeights) Total() float64 {
	return w.PaymentTotal + w.ContractTotal
}

// Graph is the materialized bipartite view, rebuilt every run.
type Graph struct {
	adj map[NodeID]map[NodeID]EdgeWeights
}

// Build materializes the graph from per-pair transaction aggregates and
// vendor-vendor relationship edges. Non-vendor edges are ignored.
func Build(aggregates []domain.PairAggregate, vendorEdges []domain.RelationshipEdge) *Graph {
	g := &Graph{adj: make(map[NodeID]map[NodeID]EdgeWeights)}

	for _, a := range aggregates {
		v := Vendor(a.VendorID)
		ag := Agency(a.AgencyID)
		w := g.weight(v, ag)
		w.PaymentTotal += a.PaymentTotal
		w.PaymentCount += a.PaymentCount
		w.ContractTotal += a.ContractTotal
		w.ContractCount += a.ContractCount
		g.setEdge(v, ag, w)
	}

	for _, e := range vendorEdges {
		if e.Kind1 != domain.KindVendor || e.Kind2 != domain.KindVendor {
			continue
		}
		v1 := Vendor(e.ID1)
		v2 := Vendor(e.ID2)
		w := g.weight(v1, v2)
		if e.Confidence > w.Confidence {
			w.Confidence = e.Confidence
			w.RelationType = e.RelationType
		}
		g.setEdge(v1, v2, w)
	}

	return g
}

func (g *Graph) weight(a, b NodeID) EdgeWeights {
	if m, ok := g.adj[a]; ok {
		return m[b]
	}
	return EdgeWeights{}
}

func (g *Graph) setEdge(a, b NodeID, w EdgeWeights) {
	if g.adj[a] == nil {
		g.adj[a] = make(map[NodeID]EdgeWeights)
	}
	if g.adj[b] == nil {
		g.adj[b] = make(map[NodeID]EdgeWeights)
	}
	g.adj[a][b] = w
	g.adj[b][a] = w
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.adj) }

// Nodes returns all node ids in deterministic order.
func (g *Graph) Nodes() []NodeID {
	nodes := make([]NodeID, 0, len(g.adj))
	for n := range g.adj {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].less(nodes[j]) })
	return nodes
}

// NodesOf returns all nodes of one kind in deterministic order.
func (g *Graph) NodesOf(kind NodeKind) []NodeID {
	var nodes []NodeID
	for n := range g.adj {
		if n.Kind == kind {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].less(nodes[j]) })
	return nodes
}

// Neighbors returns a node's neighbors in deterministic order.
func (g *Graph) Neighbors(n NodeID) []NodeID {
	m := g.adj[n]
	if len(m) == 0 {
		return nil
	}
	out := make([]NodeID, 0, len(m))
	for o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// Edge returns the weights on the edge between two nodes, if present.
func (g *Graph) Edge(a, b NodeID) (EdgeWeights, bool) {
	w, ok := g.adj[a][b]
	return w, ok
}

// Stats summarizes the materialized graph.
type Stats struct {
	Nodes      int     `json:"nodes"`
	Edges      int     `json:"edges"`
	Vendors    int     `json:"vendors"`
	Agencies   int     `json:"agencies"`
	AvgDegree  float64 `json:"avgDegree"`
	Components int     `json:"components"`
}

// Stats computes overall network statistics.
func (g *Graph) Stats() Stats {
	s := Stats{Nodes: len(g.adj)}
	edges := 0
	for n, m := range g.adj {
		edges += len(m)
		if n.Kind == NodeVendor {
			s.Vendors++
		} else {
			s.Agencies++
		}
	}
	s.Edges = edges / 2
	if s.Nodes > 0 {
		s.AvgDegree = float64(edges) / float64(s.Nodes)
	}
	s.Components = len(g.ConnectedComponents(nil))
	return s
}
