package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
)

// FiscalYearRushRule flags agencies that dump their remaining budget in
// the last two months of the Texas fiscal year (September 1 through
// August 31), and vendors whose annual receipts concentrate in that
// same window.
type FiscalYearRushRule struct{}

func (r *FiscalYearRushRule) Name() string  { return "fiscal_year_rush" }
func (r *FiscalYearRushRule) Title() string { return "Fiscal year-end spending rush" }

// fiscalYear returns the Texas fiscal year a calendar month belongs to,
// named by its ending year: September 2023 is FY2024.
func fiscalYear(year, month int) int {
	if month >= 9 {
		return year + 1
	}
	return year
}

// isYearEnd reports whether the month is one of the final two months of
// the fiscal year (July or August).
func isYearEnd(month int) bool {
	return month == 7 || month == 8
}

func (r *FiscalYearRushRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	created := 0

	n, err := r.detectAgencySpikes(ctx, deps)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectVendorConcentration(ctx, deps)
	if err != nil {
		return created, err
	}
	created += n

	return created, nil
}

func (r *FiscalYearRushRule) detectAgencySpikes(ctx context.Context, deps *Deps) (int, error) {
	multiplier := deps.Thresholds.Float("fy_end_spike_multiplier", 2.0)
	minAmount := deps.Thresholds.Float("fy_end_min_amount", 100_000)

	spend, err := deps.Store.ListMonthlySpend(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load monthly spend: %w", err)
	}

	type fyKey struct {
		agencyID int64
		fy       int
	}
	type fyTotals struct {
		total   float64
		yearEnd float64
		months  int
	}

	totals := make(map[fyKey]*fyTotals)
	for _, m := range spend {
		k := fyKey{m.AgencyID, fiscalYear(m.Year, m.Month)}
		t := totals[k]
		if t == nil {
			t = &fyTotals{}
			totals[k] = t
		}
		t.total += m.Total
		t.months++
		if isYearEnd(m.Month) {
			t.yearEnd += m.Total
		}
	}

	keys := make([]fyKey, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].agencyID != keys[j].agencyID {
			return keys[i].agencyID < keys[j].agencyID
		}
		return keys[i].fy < keys[j].fy
	})

	created := 0
	for _, k := range keys {
		t := totals[k]
		if t.months < 6 || t.total < minAmount {
			continue
		}

		monthlyAvg := t.total / float64(t.months)
		// The final two months together against twice the monthly
		// average, scaled by the spike multiplier.
		spikeFloor := multiplier * 2 * monthlyAvg
		if t.yearEnd < spikeFloor {
			continue
		}

		severity := domain.SeverityMedium
		if t.yearEnd >= 2*spikeFloor {
			severity = domain.SeverityHigh
		}

		agencyName := deps.EntityName(ctx, domain.KindAgency, k.agencyID)
		ratio := t.yearEnd / monthlyAvg

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "fiscal_year_end_rush",
			Severity:    severity,
			Title:       fmt.Sprintf("FY%d year-end spending spike: %s", k.fy, agencyName),
			Description: fmt.Sprintf("Agency %q spent $%.2f in July-August of FY%d, %.1fx its monthly average of $%.2f", agencyName, t.yearEnd, k.fy, ratio, monthlyAvg),
			EntityKind:  domain.KindAgency,
			EntityID:    k.agencyID,
			Evidence: map[string]any{
				"agencyId":       k.agencyID,
				"agencyName":     agencyName,
				"fiscalYear":     k.fy,
				"yearEndTotal":   t.yearEnd,
				"fiscalYearTotal": t.total,
				"monthlyAverage": monthlyAvg,
				"ratio":          ratio,
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

func (r *FiscalYearRushRule) detectVendorConcentration(ctx context.Context, deps *Deps) (int, error) {
	minShare := deps.Thresholds.Float("fy_end_vendor_concentration", 0.60)
	minTotal := deps.Thresholds.Float("fy_end_vendor_min_total", 50_000)

	spend, err := deps.Store.ListVendorMonthlySpend(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load vendor monthly spend: %w", err)
	}

	type fyKey struct {
		vendorID int64
		fy       int
	}
	type fyTotals struct {
		total   float64
		yearEnd float64
	}

	totals := make(map[fyKey]*fyTotals)
	for _, m := range spend {
		k := fyKey{m.VendorID, fiscalYear(m.Year, m.Month)}
		t := totals[k]
		if t == nil {
			t = &fyTotals{}
			totals[k] = t
		}
		t.total += m.Total
		if isYearEnd(m.Month) {
			t.yearEnd += m.Total
		}
	}

	keys := make([]fyKey, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].vendorID != keys[j].vendorID {
			return keys[i].vendorID < keys[j].vendorID
		}
		return keys[i].fy < keys[j].fy
	})

	created := 0
	for _, k := range keys {
		t := totals[k]
		if t.total < minTotal {
			continue
		}
		share := t.yearEnd / t.total
		if share < minShare {
			continue
		}

		severity := domain.SeverityLow
		if share >= 0.8 {
			severity = domain.SeverityMedium
		}

		vendorName := deps.EntityName(ctx, domain.KindVendor, k.vendorID)

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "vendor_fy_concentration",
			Severity:    severity,
			Title:       fmt.Sprintf("FY%d year-end payment concentration: %s", k.fy, vendorName),
			Description: fmt.Sprintf("Vendor %q received %.0f%% of its FY%d payments ($%.2f of $%.2f) in July-August", vendorName, share*100, k.fy, t.yearEnd, t.total),
			EntityKind:  domain.KindVendor,
			EntityID:    k.vendorID,
			Evidence: map[string]any{
				"vendorId":     k.vendorID,
				"vendorName":   vendorName,
				"fiscalYear":   k.fy,
				"yearEndTotal": t.yearEnd,
				"annualTotal":  t.total,
				"share":        share,
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
