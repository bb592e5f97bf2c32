package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.SQLStore) {
	t.Helper()

	f, err := os.CreateTemp("", "kestrel-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	st, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: f.Name()})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	handler := NewHandler(st, nil, nil, domain.DefaultConfig().Detection, "test", nil)
	return NewServer(domain.DefaultConfig().Server, handler), st
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %q", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("expected version test, got %q", body["version"])
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestListAlertsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	seed := []domain.Alert{
		{ID: "a1", AlertType: "debarred_vendor_payment", Severity: domain.SeverityHigh, Status: domain.StatusNew, EntityKind: domain.KindVendor, EntityID: 1},
		{ID: "a2", AlertType: "contract_splitting", Severity: domain.SeverityMedium, Status: domain.StatusNew, EntityKind: domain.KindVendor, EntityID: 2},
		{ID: "a3", AlertType: "hub_vendor", Severity: domain.SeverityLow, Status: domain.StatusResolved, EntityKind: domain.KindVendor, EntityID: 3},
	}
	for i := range seed {
		if err := st.CreateAlert(ctx, &seed[i]); err != nil {
			t.Fatalf("failed to seed alert: %v", err)
		}
	}

	t.Run("All", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/alerts", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body struct {
			Alerts []domain.Alert `json:"alerts"`
			Count  int            `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 3 || len(body.Alerts) != 3 {
			t.Errorf("expected 3 alerts, got %d", body.Count)
		}
	})

	t.Run("FilterBySeverity", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/alerts?severity=high", nil)
		var body struct {
			Alerts []domain.Alert `json:"alerts"`
		}
		decodeBody(t, rec, &body)
		if len(body.Alerts) != 1 || body.Alerts[0].ID != "a1" {
			t.Errorf("expected only a1, got %+v", body.Alerts)
		}
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/alerts?status=resolved", nil)
		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 1 {
			t.Errorf("expected 1 resolved alert, got %d", body.Count)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/alerts?limit=abc", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestUpdateAlertStatusEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	alert := domain.Alert{ID: "a1", AlertType: "hub_vendor", Severity: domain.SeverityLow, Status: domain.StatusNew}
	if err := st.CreateAlert(ctx, &alert); err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPatch, "/api/v1/alerts/a1", []byte(`{"status":"acknowledged"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	updated, err := st.ListAlerts(ctx, domain.AlertFilter{Status: domain.StatusAcknowledged})
	if err != nil || len(updated) != 1 {
		t.Fatalf("expected acknowledged alert, got %v / %v", updated, err)
	}

	t.Run("NotFound", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPatch, "/api/v1/alerts/missing", []byte(`{"status":"resolved"}`))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPatch, "/api/v1/alerts/a1", []byte(`{"status":"archived"}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRelationshipsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	if err := st.InsertEntity(ctx, domain.CanonicalEntity{ID: 1, Kind: domain.KindVendor, DisplayName: "Acme Paving", NormalizedName: "ACME PAVING"}); err != nil {
		t.Fatalf("failed to seed entity: %v", err)
	}
	edge := domain.RelationshipEdge{
		Kind1: domain.KindVendor, ID1: 1,
		Kind2: domain.KindVendor, ID2: 2,
		RelationType: domain.RelationSameAddress,
		Confidence:   0.8,
	}
	if _, err := st.UpsertEdge(ctx, edge); err != nil {
		t.Fatalf("failed to seed edge: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/relationships/vendor/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Entity *domain.CanonicalEntity   `json:"entity"`
		Edges  []domain.RelationshipEdge `json:"edges"`
		Count  int                       `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 1 {
		t.Fatalf("expected 1 edge, got %d", body.Count)
	}
	if body.Entity == nil || body.Entity.DisplayName != "Acme Paving" {
		t.Errorf("expected entity payload, got %+v", body.Entity)
	}

	t.Run("UnknownKind", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/relationships/supplier/1", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("BadID", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/relationships/vendor/abc", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestGraphStatsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	aggregates := []domain.PairAggregate{
		{VendorID: 1, AgencyID: 10, PaymentTotal: 50_000, PaymentCount: 5},
		{VendorID: 2, AgencyID: 10, PaymentTotal: 25_000, PaymentCount: 2},
	}
	for _, a := range aggregates {
		if err := st.InsertPairAggregate(ctx, a); err != nil {
			t.Fatalf("failed to seed aggregate: %v", err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/graph/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Nodes    int `json:"nodes"`
		Edges    int `json:"edges"`
		Vendors  int `json:"vendors"`
		Agencies int `json:"agencies"`
	}
	decodeBody(t, rec, &body)
	if body.Nodes != 3 || body.Edges != 2 {
		t.Errorf("expected 3 nodes / 2 edges, got %d / %d", body.Nodes, body.Edges)
	}
	if body.Vendors != 2 || body.Agencies != 1 {
		t.Errorf("expected 2 vendors / 1 agency, got %d / %d", body.Vendors, body.Agencies)
	}
}

func TestRunDetectionEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	// Two vendors at the same address plus a third so the cluster check
	// has something to find.
	for i, name := range []string{"ACME PAVING", "ACME PAVING LLC", "ACME ROADWORKS"} {
		e := domain.CanonicalEntity{
			ID: int64(i + 1), Kind: domain.KindVendor,
			DisplayName: name, NormalizedName: name,
			NormalizedAddress: "500 CONGRESS AVE AUSTIN TX 78701",
			Attributes:        domain.EntityAttributes{PaymentTotal: 400_000},
		}
		if err := st.InsertEntity(ctx, e); err != nil {
			t.Fatalf("failed to seed vendor: %v", err)
		}
	}

	t.Run("FullRun", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/runs", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var summary domain.RunSummary
		decodeBody(t, rec, &summary)
		if summary.RunID == "" {
			t.Error("expected run id")
		}
		if len(summary.Tasks) != 7 {
			t.Errorf("expected 7 tasks, got %d", len(summary.Tasks))
		}
		if summary.TotalAlerts == 0 {
			t.Error("expected the address cluster to produce an alert")
		}
	})

	t.Run("SingleRule", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/runs", []byte(`{"rule":"debarment"}`))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var summary domain.RunSummary
		decodeBody(t, rec, &summary)
		if len(summary.Tasks) != 1 || summary.Tasks[0].RuleName != "debarment" {
			t.Errorf("expected single debarment task, got %+v", summary.Tasks)
		}
	})

	t.Run("UnknownRule", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/runs", []byte(`{"rule":"nonexistent"}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}
