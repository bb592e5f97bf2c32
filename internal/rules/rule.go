// Package rules contains the detection rules and the orchestrator that
// runs them. Each rule reads entities, aggregates, and the relationship
// graph, records edges it discovers, and raises alerts through the
// alert engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/graph"
	"github.com/openaudit/kestrel/internal/match"
	"github.com/openaudit/kestrel/internal/store"
)

// Rule is one detection check. Detect returns the number of alerts it
// created. Rules must be safe to run concurrently with each other.
type Rule interface {
	Name() string
	Title() string
	Detect(ctx context.Context, deps *Deps) (int, error)
}

// Deps carries everything a rule needs. One Deps is built per run, so
// the lazily built graph is shared across the rules of that run and
// discarded afterward.
type Deps struct {
	Store      domain.Store
	Alerts     *alerts.Engine
	Matcher    *match.Engine
	Thresholds domain.Thresholds
	Cache      domain.Cache
	Logger     *slog.Logger

	graphOnce sync.Once
	graph     *graph.Graph
	graphErr  error
}

// NewDeps builds the per-run dependency set.
func NewDeps(st domain.Store, alertEngine *alerts.Engine, matcher *match.Engine, thresholds domain.Thresholds, cache domain.Cache, logger *slog.Logger) *Deps {
	if logger == nil {
		logger = slog.Default()
	}
	if thresholds == nil {
		thresholds = domain.Thresholds{}
	}
	return &Deps{
		Store:      st,
		Alerts:     alertEngine,
		Matcher:    matcher,
		Thresholds: thresholds,
		Cache:      cache,
		Logger:     logger,
	}
}

// Graph materializes the payment graph on first use. Relationship edges
// at confidence >= 0.7 are included as vendor-vendor links.
func (d *Deps) Graph(ctx context.Context) (*graph.Graph, error) {
	d.graphOnce.Do(func() {
		aggregates, err := d.Store.ListPairAggregates(ctx)
		if err != nil {
			d.graphErr = fmt.Errorf("failed to load pair aggregates: %w", err)
			return
		}
		edges, err := d.Store.QueryEdgesAbove(ctx, 0.7)
		if err != nil {
			d.graphErr = fmt.Errorf("failed to load relationship edges: %w", err)
			return
		}
		d.graph = graph.Build(aggregates, edges)
	})
	return d.graph, d.graphErr
}

// EntityName resolves a display name for evidence, going through the
// cache when one is wired. A missing entity yields a placeholder rather
// than failing the rule.
func (d *Deps) EntityName(ctx context.Context, kind domain.EntityKind, id int64) string {
	if d.Cache != nil {
		if e, err := d.Cache.GetEntity(ctx, kind, id); err == nil && e != nil {
			return e.DisplayName
		}
	}

	e, err := d.Store.GetEntity(ctx, kind, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.Logger.Warn("entity lookup failed", "kind", kind, "id", id, "error", err)
		}
		return fmt.Sprintf("%s %d", kind, id)
	}

	if d.Cache != nil {
		_ = d.Cache.SetEntity(ctx, e, 5*time.Minute)
	}
	return e.DisplayName
}

// Builtin returns the standard rule set, plus any enabled CEL rules
// from configuration. An invalid CEL expression fails construction.
func Builtin(cfg domain.DetectionConfig) ([]Rule, error) {
	rules := []Rule{
		&VendorClusteringRule{},
		&DebarmentRule{},
		&EmployeeVendorRule{},
		&NetworkAnalysisRule{},
		&RelatedPartyRule{},
		&ContractSplittingRule{},
		&FiscalYearRushRule{},
	}

	for _, rc := range cfg.CustomRules {
		if !rc.Enabled {
			continue
		}
		r, err := NewCELRule(rc)
		if err != nil {
			return nil, fmt.Errorf("custom rule %q: %w", rc.Name, err)
		}
		rules = append(rules, r)
	}

	return rules, nil
}
