package graph

import (
	"math"
	"sort"
)

// Component is a maximal set of mutually reachable nodes.
type Component struct {
	Members []NodeID
	Size    int
}

// ConnectedComponents finds the connected components of the subgraph
// induced by nodes passing filter (nil filter keeps every node). BFS
// over sorted nodes; member lists come back sorted.
func (g *Graph) ConnectedComponents(filter func(NodeID) bool) []Component {
	visited := make(map[NodeID]bool)
	var components []Component

	for _, start := range g.Nodes() {
		if visited[start] || (filter != nil && !filter(start)) {
			continue
		}

		var members []NodeID
		queue := []NodeID{start}
		visited[start] = true

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			members = append(members, current)

			for _, n := range g.Neighbors(current) {
				if visited[n] || (filter != nil && !filter(n)) {
					continue
				}
				visited[n] = true
				queue = append(queue, n)
			}
		}

		sort.Slice(members, func(i, j int) bool { return members[i].less(members[j]) })
		components = append(components, Component{Members: members, Size: len(members)})
	}

	return components
}

// DegreeOutlier flags a node whose cross-kind degree sits far above the
// population mean.
type DegreeOutlier struct {
	Node   NodeID
	Degree int
	Mean   float64
	StdDev float64
}

// DegreeOutliers computes the mean and population stddev of cross-kind
// degree over all nodes of kind, and returns the nodes with
// degree >= mean + z*stddev and degree >= minDegree. Both comparisons
// are inclusive, so ties at the exact threshold are flagged. Nodes with
// no cross-kind neighbors are excluded from the population. A uniform
// population has zero spread and no outliers by definition.
func (g *Graph) DegreeOutliers(kind NodeKind, minDegree int, z float64) []DegreeOutlier {
	type nodeDegree struct {
		node   NodeID
		degree int
	}

	var population []nodeDegree
	for _, n := range g.NodesOf(kind) {
		degree := 0
		for _, o := range g.Neighbors(n) {
			if o.Kind != kind {
				degree++
			}
		}
		if degree > 0 {
			population = append(population, nodeDegree{n, degree})
		}
	}
	if len(population) == 0 {
		return nil
	}

	var sum float64
	for _, nd := range population {
		sum += float64(nd.degree)
	}
	mean := sum / float64(len(population))

	var sumSq float64
	for _, nd := range population {
		d := float64(nd.degree) - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(population)))
	if stddev == 0 {
		return nil
	}

	threshold := mean + z*stddev

	var outliers []DegreeOutlier
	for _, nd := range population {
		if float64(nd.degree) >= threshold && nd.degree >= minDegree {
			outliers = append(outliers, DegreeOutlier{
				Node:   nd.node,
				Degree: nd.degree,
				Mean:   mean,
				StdDev: stddev,
			})
		}
	}
	return outliers
}

// Dominance describes how much of a node's aggregate edge weight flows
// to its single largest neighbor.
type Dominance struct {
	TopNeighbor NodeID
	TopWeight   float64
	TotalWeight float64
	Share       float64
	Neighbors   int
}

// DominantEdgeShare returns the dominance profile of a node over its
// weighted (cross-kind) edges. ok is false when the node has no
// positively weighted cross-kind edges.
func (g *Graph) DominantEdgeShare(n NodeID) (Dominance, bool) {
	var d Dominance
	for _, o := range g.Neighbors(n) {
		if o.Kind == n.Kind {
			continue
		}
		w := g.adj[n][o].Total()
		if w <= 0 {
			continue
		}
		d.Neighbors++
		d.TotalWeight += w
		if w > d.TopWeight || (w == d.TopWeight && o.less(d.TopNeighbor)) {
			d.TopWeight = w
			d.TopNeighbor = o
		}
	}
	if d.TotalWeight <= 0 {
		return Dominance{}, false
	}
	d.Share = d.TopWeight / d.TotalWeight
	return d, true
}

// SharedCounterparty is a neighbor common to two nodes with non-zero
// weight on both sides.
type SharedCounterparty struct {
	Node    NodeID
	WeightA float64
	WeightB float64
}

// SharedCounterparties returns the counterparties both a and b transact
// with, in deterministic order. Used to detect circular or reciprocal
// payment patterns between related vendors.
func (g *Graph) SharedCounterparties(a, b NodeID) []SharedCounterparty {
	var shared []SharedCounterparty
	for _, n := range g.Neighbors(a) {
		wa := g.adj[a][n].Total()
		if wa <= 0 {
			continue
		}
		wb, ok := g.adj[b][n]
		if !ok || wb.Total() <= 0 {
			continue
		}
		shared = append(shared, SharedCounterparty{Node: n, WeightA: wa, WeightB: wb.Total()})
	}
	return shared
}
