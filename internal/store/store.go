// Package store implements the SQL-backed persistence layer for
// entities, relationship edges, and alerts. It supports SQLite for
// development and PostgreSQL for production deployments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openaudit/kestrel/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateAlert is returned by CreateAlert when an open alert
	// already covers the same (type, entity kind, entity id).
	ErrDuplicateAlert = errors.New("open alert already exists")
)

// SQLStore implements domain.Store backed by database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a store from configuration. Supported drivers are
// "sqlite" (default) and "postgres".
func New(cfg domain.StoreConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var db *sql.DB
	var err error

	switch driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
// SQLite accepts ? natively.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
		} else {
			sb.WriteRune(ch)
		}
	}
	return sb.String()
}

// --- Entity reads ---

const entityColumns = `kind, id, display_name, normalized_name, normalized_address,
	account_number, payment_total, payment_count, agency_id, job_title,
	source, exclusion_type, excluding_agency`

func scanEntity(row interface{ Scan(...any) error }) (*domain.CanonicalEntity, error) {
	var e domain.CanonicalEntity
	var normName, normAddr, acctNum, jobTitle, source, exclType, exclAgency sql.NullString
	var agencyID sql.NullInt64

	err := row.Scan(
		&e.Kind, &e.ID, &e.DisplayName, &normName, &normAddr,
		&acctNum, &e.Attributes.PaymentTotal, &e.Attributes.PaymentCount,
		&agencyID, &jobTitle, &source, &exclType, &exclAgency,
	)
	if err != nil {
		return nil, err
	}
	e.NormalizedName = normName.String
	e.NormalizedAddress = normAddr.String
	e.Attributes.AccountNumber = acctNum.String
	e.Attributes.AgencyID = agencyID.Int64
	e.Attributes.JobTitle = jobTitle.String
	e.Attributes.Source = source.String
	e.Attributes.ExclusionType = exclType.String
	e.Attributes.ExcludingAgency = exclAgency.String
	return &e, nil
}

func (s *SQLStore) ListEntities(ctx context.Context, kind domain.EntityKind) ([]domain.CanonicalEntity, error) {
	query := s.rebind(`SELECT ` + entityColumns + ` FROM entities WHERE kind = ? ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.CanonicalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func (s *SQLStore) GetEntity(ctx context.Context, kind domain.EntityKind, id int64) (*domain.CanonicalEntity, error) {
	query := s.rebind(`SELECT ` + entityColumns + ` FROM entities WHERE kind = ? AND id = ?`)
	e, err := scanEntity(s.db.QueryRowContext(ctx, query, string(kind), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// --- Aggregate reads ---

func (s *SQLStore) ListPairAggregates(ctx context.Context) ([]domain.PairAggregate, error) {
	query := `SELECT vendor_id, agency_id, payment_total, payment_count, contract_total, contract_count
		FROM pair_aggregates ORDER BY vendor_id, agency_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pair aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []domain.PairAggregate
	for rows.Next() {
		var a domain.PairAggregate
		if err := rows.Scan(&a.VendorID, &a.AgencyID, &a.PaymentTotal, &a.PaymentCount, &a.ContractTotal, &a.ContractCount); err != nil {
			return nil, fmt.Errorf("failed to scan pair aggregate: %w", err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

func (s *SQLStore) ListContracts(ctx context.Context, minValue, maxValue float64, since time.Time) ([]domain.Contract, error) {
	query := `SELECT id, vendor_id, agency_id, contract_number, value, start_date, description FROM contracts WHERE 1=1`
	var args []any

	if minValue > 0 {
		query += ` AND value >= ?`
		args = append(args, minValue)
	}
	if maxValue > 0 {
		query += ` AND value <= ?`
		args = append(args, maxValue)
	}
	if !since.IsZero() {
		query += ` AND start_date >= ?`
		args = append(args, since.Format("2006-01-02"))
	}
	query += ` ORDER BY vendor_id, agency_id, start_date`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []domain.Contract
	for rows.Next() {
		var c domain.Contract
		var number, desc sql.NullString
		if err := rows.Scan(&c.ID, &c.VendorID, &c.AgencyID, &number, &c.Value, &c.StartDate, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		c.ContractNumber = number.String
		c.Description = desc.String
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (s *SQLStore) ListMonthlySpend(ctx context.Context) ([]domain.MonthlySpend, error) {
	query := `SELECT agency_id, year, month, total, count FROM monthly_spend ORDER BY agency_id, year, month`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list monthly spend: %w", err)
	}
	defer rows.Close()

	var spend []domain.MonthlySpend
	for rows.Next() {
		var m domain.MonthlySpend
		if err := rows.Scan(&m.AgencyID, &m.Year, &m.Month, &m.Total, &m.Count); err != nil {
			return nil, fmt.Errorf("failed to scan monthly spend: %w", err)
		}
		spend = append(spend, m)
	}
	return spend, rows.Err()
}

func (s *SQLStore) ListVendorMonthlySpend(ctx context.Context) ([]domain.VendorMonthlySpend, error) {
	query := `SELECT vendor_id, year, month, total FROM vendor_monthly_spend ORDER BY vendor_id, year, month`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendor monthly spend: %w", err)
	}
	defer rows.Close()

	var spend []domain.VendorMonthlySpend
	for rows.Next() {
		var m domain.VendorMonthlySpend
		if err := rows.Scan(&m.VendorID, &m.Year, &m.Month, &m.Total); err != nil {
			return nil, fmt.Errorf("failed to scan vendor monthly spend: %w", err)
		}
		spend = append(spend, m)
	}
	return spend, rows.Err()
}

// --- Relationship edges ---

// UpsertEdge inserts an edge or raises the stored confidence. The
// stored confidence is monotonically non-decreasing: an incoming edge
// replaces the row only when its confidence is strictly greater. Safe
// for concurrent callers; the losing writer observes unchanged.
func (s *SQLStore) UpsertEdge(ctx context.Context, edge domain.RelationshipEdge) (domain.UpsertResult, error) {
	if edge.Confidence < 0 || edge.Confidence > 1 {
		return domain.UpsertUnchanged, fmt.Errorf("%w: confidence %v out of range", ErrInvalidInput, edge.Confidence)
	}
	if edge.RelationType == "" {
		return domain.UpsertUnchanged, fmt.Errorf("%w: relation type is required", ErrInvalidInput)
	}
	if edge.Kind1 == edge.Kind2 && edge.ID1 == edge.ID2 {
		return domain.UpsertUnchanged, fmt.Errorf("%w: self edge", ErrInvalidInput)
	}

	edge = edge.Canonicalize()

	var evidence []byte
	if edge.Evidence != nil {
		var err error
		evidence, err = json.Marshal(edge.Evidence)
		if err != nil {
			return domain.UpsertUnchanged, fmt.Errorf("failed to marshal evidence: %w", err)
		}
	}

	now := time.Now().UTC()

	insert := s.rebind(`INSERT INTO relationship_edges
		(kind_1, id_1, kind_2, id_2, relation_type, confidence, evidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind_1, id_1, kind_2, id_2, relation_type) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, insert,
		string(edge.Kind1), edge.ID1, string(edge.Kind2), edge.ID2,
		edge.RelationType, edge.Confidence, nullableBytes(evidence), now, now)
	if err != nil {
		return domain.UpsertUnchanged, fmt.Errorf("failed to insert edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return domain.UpsertInserted, nil
	}

	update := s.rebind(`UPDATE relationship_edges
		SET confidence = ?, evidence = ?, updated_at = ?
		WHERE kind_1 = ? AND id_1 = ? AND kind_2 = ? AND id_2 = ? AND relation_type = ?
		AND confidence < ?`)
	res, err = s.db.ExecContext(ctx, update,
		edge.Confidence, nullableBytes(evidence), now,
		string(edge.Kind1), edge.ID1, string(edge.Kind2), edge.ID2,
		edge.RelationType, edge.Confidence)
	if err != nil {
		return domain.UpsertUnchanged, fmt.Errorf("failed to update edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertUnchanged, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

const edgeColumns = `kind_1, id_1, kind_2, id_2, relation_type, confidence, evidence`

func scanEdges(rows *sql.Rows) ([]domain.RelationshipEdge, error) {
	var edges []domain.RelationshipEdge
	for rows.Next() {
		var e domain.RelationshipEdge
		var evidence sql.NullString
		if err := rows.Scan(&e.Kind1, &e.ID1, &e.Kind2, &e.ID2, &e.RelationType, &e.Confidence, &evidence); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if evidence.Valid && evidence.String != "" {
			if err := json.Unmarshal([]byte(evidence.String), &e.Evidence); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
			}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// QueryRelated returns every edge touching (kind, id), regardless of
// which canonical side the entity is stored on.
func (s *SQLStore) QueryRelated(ctx context.Context, kind domain.EntityKind, id int64) ([]domain.RelationshipEdge, error) {
	query := s.rebind(`SELECT ` + edgeColumns + ` FROM relationship_edges
		WHERE (kind_1 = ? AND id_1 = ?) OR (kind_2 = ? AND id_2 = ?)
		ORDER BY confidence DESC, relation_type`)
	rows, err := s.db.QueryContext(ctx, query, string(kind), id, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query related edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (s *SQLStore) QueryPairs(ctx context.Context, relationType string) ([]domain.RelationshipEdge, error) {
	query := s.rebind(`SELECT ` + edgeColumns + ` FROM relationship_edges
		WHERE relation_type = ?
		ORDER BY kind_1, id_1, kind_2, id_2`)
	rows, err := s.db.QueryContext(ctx, query, relationType)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (s *SQLStore) QueryEdgesAbove(ctx context.Context, minConfidence float64) ([]domain.RelationshipEdge, error) {
	query := s.rebind(`SELECT ` + edgeColumns + ` FROM relationship_edges
		WHERE confidence >= ?
		ORDER BY kind_1, id_1, kind_2, id_2, relation_type`)
	rows, err := s.db.QueryContext(ctx, query, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// --- Alerts ---

func (s *SQLStore) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}
	if alert.AlertType == "" {
		return fmt.Errorf("%w: alert type is required", ErrInvalidInput)
	}

	var evidence []byte
	if alert.Evidence != nil {
		var err error
		evidence, err = json.Marshal(alert.Evidence)
		if err != nil {
			return fmt.Errorf("failed to marshal evidence: %w", err)
		}
	}

	if alert.Status == "" {
		alert.Status = domain.StatusNew
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	// The partial unique index on open (alert_type, entity_kind,
	// entity_id) rows makes create-if-absent atomic: a concurrent
	// writer that loses the race sees zero rows inserted, never a
	// second open alert.
	query := s.rebind(`INSERT INTO alerts
		(id, alert_type, severity, title, description, entity_kind, entity_id, evidence, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query,
		alert.ID, alert.AlertType, string(alert.Severity), alert.Title, alert.Description,
		string(alert.EntityKind), alert.EntityID, nullableBytes(evidence),
		string(alert.Status), alert.CreatedAt, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s for %s %d", ErrDuplicateAlert, alert.AlertType, alert.EntityKind, alert.EntityID)
	}
	return nil
}

// FindOpenAlert returns the open alert for (type, entity), or
// ErrNotFound when every alert for the key is terminal or absent.
func (s *SQLStore) FindOpenAlert(ctx context.Context, alertType string, kind domain.EntityKind, id int64) (*domain.Alert, error) {
	query := s.rebind(`SELECT id, alert_type, severity, title, description, entity_kind, entity_id, evidence, status, created_at
		FROM alerts
		WHERE alert_type = ? AND entity_kind = ? AND entity_id = ?
		AND status IN ('new', 'acknowledged', 'investigating')
		ORDER BY created_at DESC LIMIT 1`)
	a, err := scanAlert(s.db.QueryRowContext(ctx, query, alertType, string(kind), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}
	return a, nil
}

func scanAlert(row interface{ Scan(...any) error }) (*domain.Alert, error) {
	var a domain.Alert
	var desc, entityKind, evidence sql.NullString
	var entityID sql.NullInt64
	err := row.Scan(&a.ID, &a.AlertType, &a.Severity, &a.Title, &desc,
		&entityKind, &entityID, &evidence, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Description = desc.String
	a.EntityKind = domain.EntityKind(entityKind.String)
	a.EntityID = entityID.Int64
	if evidence.Valid && evidence.String != "" {
		if err := json.Unmarshal([]byte(evidence.String), &a.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}
	return &a, nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	query := `SELECT id, alert_type, severity, title, description, entity_kind, entity_id, evidence, status, created_at
		FROM alerts WHERE 1=1`
	var args []any

	if filter.AlertType != "" {
		query += ` AND alert_type = ?`
		args = append(args, filter.AlertType)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(filter.Severity))
	}
	if filter.EntityKind != "" {
		query += ` AND entity_kind = ?`
		args = append(args, string(filter.EntityKind))
	}
	if filter.EntityID != 0 {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *SQLStore) UpdateAlertStatus(ctx context.Context, alertID string, status domain.AlertStatus) error {
	switch status {
	case domain.StatusNew, domain.StatusAcknowledged, domain.StatusInvestigating,
		domain.StatusResolved, domain.StatusFalsePositive:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	query := s.rebind(`UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(status), time.Now().UTC(), alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Lifecycle ---

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// --- Seeding helpers ---
//
// Entity and aggregate tables are ingestion-owned. These writers exist
// for the ingestion pipeline and for tests; they are not part of
// domain.Store.

func (s *SQLStore) InsertEntity(ctx context.Context, e domain.CanonicalEntity) error {
	query := s.rebind(`INSERT INTO entities
		(kind, id, display_name, normalized_name, normalized_address, account_number,
		payment_total, payment_count, agency_id, job_title, source, exclusion_type, excluding_agency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		string(e.Kind), e.ID, e.DisplayName, e.NormalizedName, e.NormalizedAddress,
		e.Attributes.AccountNumber, e.Attributes.PaymentTotal, e.Attributes.PaymentCount,
		e.Attributes.AgencyID, e.Attributes.JobTitle, e.Attributes.Source,
		e.Attributes.ExclusionType, e.Attributes.ExcludingAgency)
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertPairAggregate(ctx context.Context, a domain.PairAggregate) error {
	query := s.rebind(`INSERT INTO pair_aggregates
		(vendor_id, agency_id, payment_total, payment_count, contract_total, contract_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		a.VendorID, a.AgencyID, a.PaymentTotal, a.PaymentCount, a.ContractTotal, a.ContractCount)
	if err != nil {
		return fmt.Errorf("failed to insert pair aggregate: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertContract(ctx context.Context, c domain.Contract) error {
	query := s.rebind(`INSERT INTO contracts
		(id, vendor_id, agency_id, contract_number, value, start_date, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.VendorID, c.AgencyID, c.ContractNumber, c.Value, c.StartDate, c.Description)
	if err != nil {
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertMonthlySpend(ctx context.Context, m domain.MonthlySpend) error {
	query := s.rebind(`INSERT INTO monthly_spend (agency_id, year, month, total, count) VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, m.AgencyID, m.Year, m.Month, m.Total, m.Count)
	if err != nil {
		return fmt.Errorf("failed to insert monthly spend: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertVendorMonthlySpend(ctx context.Context, m domain.VendorMonthlySpend) error {
	query := s.rebind(`INSERT INTO vendor_monthly_spend (vendor_id, year, month, total) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, m.VendorID, m.Year, m.Month, m.Total)
	if err != nil {
		return fmt.Errorf("failed to insert vendor monthly spend: %w", err)
	}
	return nil
}
