package rules

import (
	"context"
	"testing"
	"time"

	"github.com/openaudit/kestrel/internal/domain"
)

func seedContracts(t *testing.T, st interface {
	InsertContract(ctx context.Context, c domain.Contract) error
}, vendorID, agencyID, startID int64, values []float64, date string) {
	t.Helper()
	for i, v := range values {
		if err := st.InsertContract(context.Background(), domain.Contract{
			ID:        startID + int64(i),
			VendorID:  vendorID,
			AgencyID:  agencyID,
			Value:     v,
			StartDate: date,
		}); err != nil {
			t.Fatalf("failed to seed contract: %v", err)
		}
	}
}

func TestContractSplitting(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rule := &ContractSplittingRule{Now: func() time.Time { return now }}

	// Five near-identical awards just under $50k within the window.
	seedContracts(t, st, 1, 10, 100, []float64{45000, 45200, 44900, 45100, 45050}, "2024-02-15")

	// Two awards only: under the count threshold.
	seedContracts(t, st, 2, 10, 200, []float64{46000, 47000}, "2024-03-01")

	// Three awards but outside the 12-month window.
	seedContracts(t, st, 3, 10, 300, []float64{45500, 46500, 47500}, "2022-01-10")

	created, err := rule.Detect(ctx, deps)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if created != 1 {
		t.Errorf("expected 1 alert, got %d", created)
	}

	found, err := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "contract_splitting"})
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
		t.Errorf("expected high severity, got %s", found[0].Severity)
	}
}

func TestContractSplittingESBDWindow(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rule := &ContractSplittingRule{Now: func() time.Time { return now }}

	// Spread-out values just under the $25k posting floor: medium, no
	// CV escalation at three awards.
	seedContracts(t, st, 5, 20, 500, []float64{22500, 24000, 24800}, "2024-01-20")

	if _, err := rule.Detect(ctx, deps); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	found, _ := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "contract_splitting"})
	if len(found) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(found))
	}
	if found[0].Severity != domain.SeverityMedium {
		t.Errorf("expected medium severity for ESBD window, got %s", found[0].Severity)
	}
}

func TestContractSplittingEscalationCount(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	// Lower the minimum count so groups form below the escalation size.
	deps.Thresholds["contract_splitting_count"] = 2

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rule := &ContractSplittingRule{Now: func() time.Time { return now }}

	// Four near-identical awards: alert fires but stays at the window's
	// base severity. Escalation needs five, not min count plus two.
	seedContracts(t, st, 1, 10, 100, []float64{24000, 24010, 24020, 24030}, "2024-02-15")

	// Five near-identical awards: escalates.
	seedContracts(t, st, 2, 10, 200, []float64{24000, 24010, 24020, 24030, 24040}, "2024-02-15")

	if _, err := rule.Detect(ctx, deps); err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	found, err := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "contract_splitting"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(found))
	}

	byVendor := map[int64]domain.AlertSeverity{}
	for _, a := range found {
		byVendor[a.EntityID] = a.Severity
	}
	if byVendor[1] != domain.SeverityMedium {
		t.Errorf("expected medium severity at four awards, got %s", byVendor[1])
	}
	if byVendor[2] != domain.SeverityHigh {
		t.Errorf("expected high severity at five awards, got %s", byVendor[2])
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		below  float64
		above  float64
	}{
		{"NearIdentical", []float64{45000, 45200, 44900, 45100, 45050}, 0.1, 0},
		{"Spread", []float64{22500, 24000, 24800, 45000, 10000}, 1, 0.1},
		{"SingleValue", []float64{45000}, 0.001, -1},
		{"AllEqual", []float64{45000, 45000, 45000}, 0.001, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv := coefficientOfVariation(tt.values)
			if cv >= tt.below {
				t.Errorf("expected CV < %v, got %v", tt.below, cv)
			}
			if cv <= tt.above {
				t.Errorf("expected CV > %v, got %v", tt.above, cv)
			}
		})
	}
}

func TestFiscalYearHelpers(t *testing.T) {
	tests := []struct {
		year, month, want int
	}{
		{2023, 9, 2024},
		{2023, 12, 2024},
		{2024, 1, 2024},
		{2024, 8, 2024},
		{2024, 9, 2025},
	}
	for _, tt := range tests {
		if got := fiscalYear(tt.year, tt.month); got != tt.want {
			t.Errorf("fiscalYear(%d, %d) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}

	if !isYearEnd(7) || !isYearEnd(8) {
		t.Error("July and August are fiscal year end")
	}
	if isYearEnd(9) || isYearEnd(6) {
		t.Error("June and September are not fiscal year end")
	}
}

func TestFiscalYearRush(t *testing.T) {
	deps, st := newTestDeps(t)
	ctx := context.Background()

	// Agency 1: flat $50k/month Sep-Jun, then $400k in each of July and
	// August. Monthly average is (500k+800k)/12 ≈ 108k; the final two
	// months at $800k clear the 2x spike floor easily.
	for m := 9; m <= 12; m++ {
		if err := st.InsertMonthlySpend(ctx, domain.MonthlySpend{AgencyID: 1, Year: 2023, Month: m, Total: 50_000, Count: 10}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	for m := 1; m <= 6; m++ {
		if err := st.InsertMonthlySpend(ctx, domain.MonthlySpend{AgencyID: 1, Year: 2024, Month: m, Total: 50_000, Count: 10}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	for _, m := range []int{7, 8} {
		if err := st.InsertMonthlySpend(ctx, domain.MonthlySpend{AgencyID: 1, Year: 2024, Month: m, Total: 400_000, Count: 40}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	// Agency 2: flat spending all year, no spike.
	for m := 1; m <= 12; m++ {
		if err := st.InsertMonthlySpend(ctx, domain.MonthlySpend{AgencyID: 2, Year: 2024, Month: m, Total: 100_000, Count: 20}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	// Vendor 7: 70% of FY receipts land in July-August.
	if err := st.InsertVendorMonthlySpend(ctx, domain.VendorMonthlySpend{VendorID: 7, Year: 2024, Month: 3, Total: 30_000}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := st.InsertVendorMonthlySpend(ctx, domain.VendorMonthlySpend{VendorID: 7, Year: 2024, Month: 8, Total: 70_000}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rule := &FiscalYearRushRule{}
	created, err := rule.Detect(ctx, deps)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if created != 2 {
		t.Errorf("expected 2 alerts, got %d", created)
	}

	spikes, _ := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "fiscal_year_end_rush"})
	if len(spikes) != 1 {
		t.Fatalf("expected 1 spike alert, got %d", len(spikes))
	}
	if spikes[0].EntityID != 1 || spikes[0].EntityKind != domain.KindAgency {
		t.Errorf("expected alert on agency 1, got %s %d", spikes[0].EntityKind, spikes[0].EntityID)
	}

	conc, _ := st.ListAlerts(ctx, domain.AlertFilter{AlertType: "vendor_fy_concentration"})
	if len(conc) != 1 {
		t.Fatalf("expected 1 concentration alert, got %d", len(conc))
	}
	if conc[0].EntityID != 7 {
		t.Errorf("expected alert on vendor 7, got %d", conc[0].EntityID)
	}
}
