package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
)

// CELRule evaluates a user-configured CEL expression against every
// vendor-agency pair aggregate. A truthy result raises an alert with
// the configured type and severity.
type CELRule struct {
	cfg     domain.CustomRuleConfig
	program cel.Program
}

// NewCELRule compiles the expression up front so a bad rule fails at
// startup, not mid-run.
func NewCELRule(cfg domain.CustomRuleConfig) (*CELRule, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if cfg.Expression == "" {
		return nil, fmt.Errorf("expression is required")
	}

	env, err := cel.NewEnv(
		cel.Variable("payment_total", cel.DoubleType),
		cel.Variable("payment_count", cel.IntType),
		cel.Variable("contract_total", cel.DoubleType),
		cel.Variable("contract_count", cel.IntType),
		cel.Variable("vendor_name", cel.StringType),
		cel.Variable("agency_name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return &CELRule{cfg: cfg, program: program}, nil
}

func (r *CELRule) Name() string { return r.cfg.Name }

func (r *CELRule) Title() string {
	if r.cfg.Title != "" {
		return r.cfg.Title
	}
	return r.cfg.Name
}

func (r *CELRule) Detect(ctx context.Context, deps *Deps) (int, error) {
	aggregates, err := deps.Store.ListPairAggregates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pair aggregates: %w", err)
	}

	alertType := r.cfg.AlertType
	if alertType == "" {
		alertType = r.cfg.Name
	}
	severity := r.cfg.Severity
	if severity == "" {
		severity = domain.SeverityLow
	}

	created := 0
	evalErrors := 0
	for _, a := range aggregates {
		vendorName := deps.EntityName(ctx, domain.KindVendor, a.VendorID)
		agencyName := deps.EntityName(ctx, domain.KindAgency, a.AgencyID)

		out, _, err := r.program.Eval(map[string]any{
			"payment_total":  a.PaymentTotal,
			"payment_count":  a.PaymentCount,
			"contract_total": a.ContractTotal,
			"contract_count": a.ContractCount,
			"vendor_name":    vendorName,
			"agency_name":    agencyName,
		})
		if err != nil {
			evalErrors++
			deps.Logger.Warn("CEL evaluation failed",
				"rule", r.cfg.Name,
				"vendor_id", a.VendorID,
				"agency_id", a.AgencyID,
				"error", err,
			)
			continue
		}
		if toScore(out) <= 0 {
			continue
		}

		_, isNew, err := deps.Alerts.Create(ctx, alerts.Request{
			AlertType:   alertType,
			Severity:    severity,
			Title:       fmt.Sprintf("%s: %s / %s", r.Title(), vendorName, agencyName),
			Description: fmt.Sprintf("Custom rule %q matched vendor %q with agency %q", r.cfg.Name, vendorName, agencyName),
			EntityKind:  domain.KindVendor,
			EntityID:    a.VendorID,
			Evidence: map[string]any{
				"rule":          r.cfg.Name,
				"expression":    r.cfg.Expression,
				"vendorId":      a.VendorID,
				"agencyId":      a.AgencyID,
				"paymentTotal":  a.PaymentTotal,
				"paymentCount":  a.PaymentCount,
				"contractTotal": a.ContractTotal,
				"contractCount": a.ContractCount,
			},
		})
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}

	if evalErrors > 0 {
		deps.Logger.Warn("CEL rule finished with evaluation errors", "rule", r.cfg.Name, "errors", evalErrors)
	}
	return created, nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
