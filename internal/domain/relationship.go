package domain

// Relation types recorded by the matching engine and detection rules.
const (
	RelationSameAddress  = "same_address"
	RelationSimilarName  = "similar_name"
	RelationSequentialID = "sequential_id"
	RelationNameMatch    = "name_match"
	RelationAddressMatch = "address_match"
	RelationDebarMatch   = "debarment_match"
)

// RelationshipEdge links two entities with a typed, scored relationship.
// Edges are stored in canonical order: for same-kind pairs the lower id
// comes first; for cross-kind pairs the lower-ranked kind comes first.
// A (pair, relation type) has exactly one row.
type RelationshipEdge struct {
	Kind1        EntityKind     `json:"kind1"`
	ID1          int64          `json:"id1"`
	Kind2        EntityKind     `json:"kind2"`
	ID2          int64          `json:"id2"`
	RelationType string         `json:"relationType"`
	Confidence   float64        `json:"confidence"`
	Evidence     map[string]any `json:"evidence,omitempty"`
}

// Canonicalize returns the edge with its endpoints in canonical order.
func (e RelationshipEdge) Canonicalize() RelationshipEdge {
	if e.Kind1.Rank() > e.Kind2.Rank() ||
		(e.Kind1 == e.Kind2 && e.ID1 > e.ID2) {
		e.Kind1, e.Kind2 = e.Kind2, e.Kind1
		e.ID1, e.ID2 = e.ID2, e.ID1
	}
	return e
}

// Other returns the endpoint of the edge that is not (kind, id).
func (e RelationshipEdge) Other(kind EntityKind, id int64) (EntityKind, int64) {
	if e.Kind1 == kind && e.ID1 == id {
		return e.Kind2, e.ID2
	}
	return e.Kind1, e.ID1
}

// UpsertResult reports the effect of a relationship edge upsert.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota
	UpsertUpdated
	UpsertUnchanged
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	case UpsertUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}
