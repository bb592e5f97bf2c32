package rules

import (
	"context"
	"os"
	"testing"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/match"
	"github.com/openaudit/kestrel/internal/store"
)

// newTestDeps builds a Deps over a fresh sqlite store with the default
// thresholds. The returned store is the same instance the deps use, for
// seeding.
func newTestDeps(t *testing.T) (*Deps, *store.SQLStore) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-rules-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	st, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine := alerts.NewEngine(st, nil, nil)
	matcher := match.NewEngine(0, 0)
	thresholds := domain.DefaultConfig().Detection.Thresholds

	return NewDeps(st, engine, matcher, thresholds, nil, nil), st
}

func seedVendor(t *testing.T, st *store.SQLStore, v domain.CanonicalEntity) {
	t.Helper()
	v.Kind = domain.KindVendor
	if err := st.InsertEntity(context.Background(), v); err != nil {
		t.Fatalf("failed to seed vendor %d: %v", v.ID, err)
	}
}

func countAlerts(t *testing.T, st *store.SQLStore, alertType string) int {
	t.Helper()
	found, err := st.ListAlerts(context.Background(), domain.AlertFilter{AlertType: alertType})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	return len(found)
}

func TestVendorClustering(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	// Three vendors at one address, one elsewhere.
	seedVendor(t, st, domain.CanonicalEntity{ID: 1, DisplayName: "Alpha Paving LLC", NormalizedName: "ALPHA PAVING", NormalizedAddress: "100 MAIN ST AUSTIN TX 78701", Attributes: domain.EntityAttributes{PaymentTotal: 400_000}})
	seedVendor(t, st, domain.CanonicalEntity{ID: 2, DisplayName: "Beta Concrete Inc", NormalizedName: "BETA CONCRETE", NormalizedAddress: "100 MAIN ST AUSTIN TX 78701", Attributes: domain.EntityAttributes{PaymentTotal: 350_000}})
	seedVendor(t, st, domain.CanonicalEntity{ID: 3, DisplayName: "Gamma Hauling Co", NormalizedName: "GAMMA HAULING", NormalizedAddress: "100 MAIN ST AUSTIN TX 78701", Attributes: domain.EntityAttributes{PaymentTotal: 300_000}})
	seedVendor(t, st, domain.CanonicalEntity{ID: 4, DisplayName: "Delta Services", NormalizedName: "DELTA SERVICES", NormalizedAddress: "900 OAK AVE DALLAS TX 75201"})

	rule := &VendorClusteringRule{}
	created, err := rule.Detect(ctx, deps)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if created == 0 {
		t.Fatal("expected at least one alert")
	}

	t.Run("AddressClusterAlert", func(t *testing.T) {
		got := countAlerts(t, st, "vendor_address_cluster")
		if got != 1 {
			t.Errorf("expected 1 address-cluster alert, got %d", got)
		}

		// Combined total $1.05M pushes severity to high.
		found, _ := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "vendor_address_cluster"})
		if found[0].Severity != domain.SeverityHigh {
			t.Errorf("expected high severity, got %s", found[0].Severity)
		}
	})

	t.Run("SameAddressEdges", func(t *testing.T) {
		edges, err := st.QueryPairs(ctx, domain.RelationSameAddress)
		if err != nil {
			t.Fatalf("QueryPairs failed: %v", err)
		}
		// Three co-located vendors yield three pairs.
		if len(edges) != 3 {
			t.Errorf("expected 3 same-address edges, got %d", len(edges))
		}
	})

	t.Run("Rerun", func(t *testing.T) {
		// A second pass must not duplicate open alerts.
		if _, err := rule.Detect(ctx, deps); err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		got := countAlerts(t, st, "vendor_address_cluster")
		if got != 1 {
			t.Errorf("expected 1 alert after rerun, got %d", got)
		}
	})
}

func TestVendorClusteringSimilarNames(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	seedVendor(t, st, domain.CanonicalEntity{ID: 10, DisplayName: "Lone Star Paving LLC", NormalizedName: "LONE STAR PAVING", NormalizedAddress: "100 MAIN ST AUSTIN TX 78701"})
	seedVendor(t, st, domain.CanonicalEntity{ID: 11, DisplayName: "Lone Star Paving Inc", NormalizedName: "LONE STAR PAVINGS", NormalizedAddress: "200 ELM ST HOUSTON TX 77001"})

	rule := &VendorClusteringRule{}
	if _, err := rule.Detect(ctx, deps); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	edges, err := st.QueryPairs(ctx, domain.RelationSimilarName)
	if err != nil {
		t.Fatalf("QueryPairs failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 similar-name edge, got %d", len(edges))
	}
	if edges[0].Confidence < 0.9 {
		t.Errorf("expected confidence >= 0.9, got %v", edges[0].Confidence)
	}

	if got := countAlerts(t, st, "similar_vendor_names"); got != 1 {
		t.Errorf("expected 1 similar-name alert, got %d", got)
	}
}

func TestVendorClusteringSequentialIDs(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	seedVendor(t, st, domain.CanonicalEntity{ID: 20, DisplayName: "Smith Consulting A", NormalizedName: "SMITH CONSULTING A", Attributes: domain.EntityAttributes{AccountNumber: "17400001001"}})
	seedVendor(t, st, domain.CanonicalEntity{ID: 21, DisplayName: "Smith Consulting B", NormalizedName: "SMITH CONSULTING B", Attributes: domain.EntityAttributes{AccountNumber: "17400001002"}})
	// Distant vendor number, no edge expected.
	seedVendor(t, st, domain.CanonicalEntity{ID: 22, DisplayName: "Smith Consulting C", NormalizedName: "SMITH CONSULTING C", Attributes: domain.EntityAttributes{AccountNumber: "17400009999"}})

	rule := &VendorClusteringRule{}
	if _, err := rule.Detect(ctx, deps); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	edges, err := st.QueryPairs(ctx, domain.RelationSequentialID)
	if err != nil {
		t.Fatalf("QueryPairs failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 sequential-id edge, got %d", len(edges))
	}
	if edges[0].ID1 != 20 || edges[0].ID2 != 21 {
		t.Errorf("expected edge (20, 21), got (%d, %d)", edges[0].ID1, edges[0].ID2)
	}

	if got := countAlerts(t, st, "sequential_vendor_registration"); got != 1 {
		t.Errorf("expected 1 sequential-registration alert, got %d", got)
	}
}

func TestDebarmentRule(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	seedVendor(t, st, domain.CanonicalEntity{ID: 1, DisplayName: "Apex Builders Inc", NormalizedName: "APEX BUILDERS", Attributes: domain.EntityAttributes{PaymentTotal: 80_000}})
	seedVendor(t, st, domain.CanonicalEntity{ID: 2, DisplayName: "Clean Vendor Co", NormalizedName: "CLEAN VENDOR", Attributes: domain.EntityAttributes{PaymentTotal: 50_000}})
	// Matches but under the minimum payment floor.
	seedVendor(t, st, domain.CanonicalEntity{ID: 3, DisplayName: "Apex Builders (Waco)", NormalizedName: "APEX BUILDERS", Attributes: domain.EntityAttributes{PaymentTotal: 500}})

	if err := st.InsertEntity(ctx, domain.CanonicalEntity{
		ID: 100, Kind: domain.KindDebarred, DisplayName: "APEX BUILDERS INC", NormalizedName: "APEX BUILDERS",
		Attributes: domain.EntityAttributes{Source: "SAM.gov", ExclusionType: "Ineligible", ExcludingAgency: "GSA"},
	}); err != nil {
		t.Fatalf("failed to seed debarred entity: %v", err)
	}

	rule := &DebarmentRule{}
	created, err := rule.Detect(ctx, deps)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 alert, got %d", created)
	}

	found, err := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "debarred_vendor_payment"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(found))
	}
	if found[0].EntityID != 1 {
		t.Errorf("expected alert on vendor 1, got %d", found[0].EntityID)
	}
	if found[0].Severity != domain.SeverityHigh {
		t.Errorf("expected high severity for exact match, got %s", found[0].Severity)
	}

	edges, err := st.QueryPairs(ctx, domain.RelationDebarMatch)
	if err != nil {
		t.Fatalf("QueryPairs failed: %v", err)
	}
	// Edges recorded for both matching vendors, including the one
	// below the payment floor.
	if len(edges) != 2 {
		t.Errorf("expected 2 debarment edges, got %d", len(edges))
	}
}

func TestDebarmentRuleNameVariants(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	// "ACME" scores about 0.73 against "ACME CO" and would slip under
	// the 0.90 threshold; the suffix-stripped variant of the exclusion
	// record makes it an exact match.
	seedVendor(t, st, domain.CanonicalEntity{ID: 1, DisplayName: "Acme", NormalizedName: "ACME", Attributes: domain.EntityAttributes{PaymentTotal: 25_000}})

	if err := st.InsertEntity(ctx, domain.CanonicalEntity{
		ID: 100, Kind: domain.KindDebarred, DisplayName: "Acme Co", NormalizedName: "ACME CO",
		Attributes: domain.EntityAttributes{Source: "SAM.gov", ExclusionType: "Ineligible", ExcludingAgency: "GSA"},
	}); err != nil {
		t.Fatalf("failed to seed debarred entity: %v", err)
	}

	rule := &DebarmentRule{}
	created, err := rule.Detect(ctx, deps)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 alert, got %d", created)
	}

	found, err := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "debarred_vendor_payment"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(found))
	}
	if found[0].EntityID != 1 {
		t.Errorf("expected alert on vendor 1, got %d", found[0].EntityID)
	}
	if found[0].Severity != domain.SeverityHigh {
		t.Errorf("expected high severity for exact variant match, got %s", found[0].Severity)
	}

	// Variant hits collapse to one edge per (vendor, debarred) pair at
	// the best score.
	edges, err := st.QueryPairs(ctx, domain.RelationDebarMatch)
	if err != nil {
		t.Fatalf("QueryPairs failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 debarment edge, got %d", len(edges))
	}
	if edges[0].Confidence != 1.0 {
		t.Errorf("expected confidence 1.0 via variant, got %v", edges[0].Confidence)
	}
}

func TestEmployeeVendorRule(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	seedVendor(t, st, domain.CanonicalEntity{ID: 1, DisplayName: "Maria Gonzalez Consulting", NormalizedName: "MARIA GONZALEZ CONSULTING", Attributes: domain.EntityAttributes{PaymentTotal: 150_000}})
	if err := st.InsertEntity(ctx, domain.CanonicalEntity{
		ID: 50, Kind: domain.KindEmployee, DisplayName: "Maria Gonzalez", NormalizedName: "MARIA GONZALEZ CONSULTING",
		Attributes: domain.EntityAttributes{JobTitle: "Purchasing Director", AgencyID: 9},
	}); err != nil {
		t.Fatalf("failed to seed employee: %v", err)
	}

	rule := &EmployeeVendorRule{}
	created, err := rule.Detect(ctx, deps)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 alert, got %d", created)
	}

	found, _ := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "employee_vendor_match"})
	if len(found) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(found))
	}
	// Exact normalized match at $150k crosses both high bars.
	if found[0].Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s", found[0].Severity)
	}

	edges, err := st.QueryPairs(ctx, domain.RelationNameMatch)
	if err != nil {
		t.Fatalf("QueryPairs failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 name-match edge, got %d", len(edges))
	}
	if edges[0].Kind1 != domain.KindVendor || edges[0].Kind2 != domain.KindEmployee {
		t.Errorf("expected vendor-employee canonical order, got %s-%s", edges[0].Kind1, edges[0].Kind2)
	}
}
