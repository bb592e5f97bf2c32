package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/match"
)

// EmployeeVendorRule finds state employees who look like the owners of
// paid vendors, by name match and by shared registered address.
type EmployeeVendorRule struct{}

func (r *EmployeeVendorRule) Name() string  { return "employee_vendor" }
func (r *EmployeeVendorRule) Title() string { return "Employee-vendor conflict screening" }

func (r *EmployeeVendorRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	vendors, err := deps.Store.ListEntities(ctx, domain.KindVendor)
	if err != nil {
		return 0, fmt.Errorf("failed to load vendors: %w", err)
	}
	employees, err := deps.Store.ListEntities(ctx, domain.KindEmployee)
	if err != nil {
		return 0, fmt.Errorf("failed to load employees: %w", err)
	}
	if len(vendors) == 0 || len(employees) == 0 {
		return 0, nil
	}

	vendorByID := make(map[int64]domain.CanonicalEntity, len(vendors))
	for _, v := range vendors {
		vendorByID[v.ID] = v
	}
	employeeByID := make(map[int64]domain.CanonicalEntity, len(employees))
	for _, e := range employees {
		employeeByID[e.ID] = e
	}

	created := 0

	n, err := r.detectNameMatches(ctx, deps, employees, vendorByID, employeeByID)
	if err != nil {
		return created, err
	}
	created += n

	n, err = r.detectAddressMatches(ctx, deps, vendors, employees)
	if err != nil {
		return created, err
	}
	created += n

	return created, nil
}

func (r *EmployeeVendorRule) detectNameMatches(ctx context.Context, deps *Deps, employees []domain.CanonicalEntity, vendorByID, employeeByID map[int64]domain.CanonicalEntity) (int, error) {
	threshold := deps.Thresholds.Float("employee_vendor_name_similarity", 0.90)

	vendors := make([]domain.CanonicalEntity, 0, len(vendorByID))
	for _, v := range vendorByID {
		vendors = append(vendors, v)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i].ID < vendors[j].ID })

	result, err := deps.Matcher.Match(ctx, employees, vendors, match.Options{Threshold: threshold})
	if err != nil {
		return 0, fmt.Errorf("employee-vendor matching failed: %w", err)
	}

	created := 0
	for _, p := range result.Pairs {
		employee := employeeByID[p.ID1]
		vendor := vendorByID[p.ID2]

		_, err := deps.Store.UpsertEdge(ctx, domain.RelationshipEdge{
			Kind1:        domain.KindVendor,
			ID1:          vendor.ID,
			Kind2:        domain.KindEmployee,
			ID2:          employee.ID,
			RelationType: domain.RelationNameMatch,
			Confidence:   p.Score,
			Evidence: map[string]any{
				"employeeName": employee.DisplayName,
				"vendorName":   vendor.DisplayName,
				"similarity":   p.Score,
				"jobTitle":     employee.Attributes.JobTitle,
			},
		})
		if err != nil {
			return created, fmt.Errorf("failed to record name-match edge: %w", err)
		}

		if vendor.Attributes.PaymentTotal <= 0 {
			continue
		}

		severity := domain.SeverityMedium
		if p.Score >= 0.95 || vendor.Attributes.PaymentTotal >= 100_000 {
			severity = domain.SeverityHigh
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   "employee_vendor_match",
			Severity:    severity,
			Title:       fmt.Sprintf("Vendor name matches state employee: %s", vendor.DisplayName),
			Description: fmt.Sprintf("Paid vendor %q ($%.2f) matches employee %q at %.2f", vendor.DisplayName, vendor.Attributes.PaymentTotal, employee.DisplayName, p.Score),
			EntityKind:  domain.KindVendor,
			EntityID:    vendor.ID,
			Evidence: map[string]any{
				"vendorId":     vendor.ID,
				"vendorName":   vendor.DisplayName,
				"employeeId":   employee.ID,
				"employeeName": employee.DisplayName,
				"jobTitle":     employee.Attributes.JobTitle,
				"similarity":   p.Score,
				"paymentTotal": vendor.Attributes.PaymentTotal,
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

// detectAddressMatches records an address_match edge when a vendor's
// registered address equals an employee's. Address data for employees
// is sparse, so this only raises edges, not alerts, feeding the
// related-party network rule instead.
func (r *EmployeeVendorRule) detectAddressMatches(ctx context.Context, deps *Deps, vendors, employees []domain.CanonicalEntity) (int, error) {
	byAddr := make(map[string][]domain.CanonicalEntity)
	for _, e := range employees {
		if e.NormalizedAddress != "" {
			byAddr[e.NormalizedAddress] = append(byAddr[e.NormalizedAddress], e)
		}
	}
	if len(byAddr) == 0 {
		return 0, nil
	}

	for _, v := range vendors {
		if v.NormalizedAddress == "" {
			continue
		}
		for _, e := range byAddr[v.NormalizedAddress] {
			_, err := deps.Store.UpsertEdge(ctx, domain.RelationshipEdge{
				Kind1:        domain.KindVendor,
				ID1:          v.ID,
				Kind2:        domain.KindEmployee,
				ID2:          e.ID,
				RelationType: domain.RelationAddressMatch,
				Confidence:   0.8,
				Evidence: map[string]any{
					"address":      v.NormalizedAddress,
					"vendorName":   v.DisplayName,
					"employeeName": e.DisplayName,
				},
			})
			if err != nil {
				return 0, fmt.Errorf("failed to record address-match edge: %w", err)
			}
		}
	}
	return 0, nil
}
