package store

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.
//
// Entity collections and transaction aggregates are written by the
// ingestion pipeline; relationship edges and alerts are written here.

const schemaEntities = `
CREATE TABLE IF NOT EXISTS entities (
    kind TEXT NOT NULL,
    id BIGINT NOT NULL,
    display_name TEXT NOT NULL,
    normalized_name TEXT,
    normalized_address TEXT,
    account_number TEXT,
    payment_total REAL NOT NULL DEFAULT 0,
    payment_count BIGINT NOT NULL DEFAULT 0,
    agency_id BIGINT,
    job_title TEXT,
    source TEXT,
    exclusion_type TEXT,
    excluding_agency TEXT,
    PRIMARY KEY (kind, id)
);

CREATE INDEX IF NOT EXISTS idx_entities_normalized ON entities(kind, normalized_name);
`

const schemaPairAggregates = `
CREATE TABLE IF NOT EXISTS pair_aggregates (
    vendor_id BIGINT NOT NULL,
    agency_id BIGINT NOT NULL,
    payment_total REAL NOT NULL DEFAULT 0,
    payment_count BIGINT NOT NULL DEFAULT 0,
    contract_total REAL NOT NULL DEFAULT 0,
    contract_count BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (vendor_id, agency_id)
);
`

const schemaContracts = `
CREATE TABLE IF NOT EXISTS contracts (
    id BIGINT PRIMARY KEY,
    vendor_id BIGINT NOT NULL,
    agency_id BIGINT NOT NULL,
    contract_number TEXT,
    value REAL NOT NULL,
    start_date TEXT NOT NULL,
    description TEXT
);

CREATE INDEX IF NOT EXISTS idx_contracts_vendor ON contracts(vendor_id, agency_id);
CREATE INDEX IF NOT EXISTS idx_contracts_value ON contracts(value);
`

const schemaMonthlySpend = `
CREATE TABLE IF NOT EXISTS monthly_spend (
    agency_id BIGINT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    total REAL NOT NULL DEFAULT 0,
    count BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (agency_id, year, month)
);

CREATE TABLE IF NOT EXISTS vendor_monthly_spend (
    vendor_id BIGINT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    total REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (vendor_id, year, month)
);
`

const schemaRelationshipEdges = `
CREATE TABLE IF NOT EXISTS relationship_edges (
    kind_1 TEXT NOT NULL,
    id_1 BIGINT NOT NULL,
    kind_2 TEXT NOT NULL,
    id_2 BIGINT NOT NULL,
    relation_type TEXT NOT NULL,
    confidence REAL NOT NULL,
    evidence TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (kind_1, id_1, kind_2, id_2, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_edges_entity1 ON relationship_edges(kind_1, id_1);
CREATE INDEX IF NOT EXISTS idx_edges_entity2 ON relationship_edges(kind_2, id_2);
CREATE INDEX IF NOT EXISTS idx_edges_type ON relationship_edges(relation_type);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    entity_kind TEXT,
    entity_id BIGINT,
    evidence TEXT,
    status TEXT NOT NULL DEFAULT 'new',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_type ON alerts(alert_type);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, severity);
CREATE INDEX IF NOT EXISTS idx_alerts_entity ON alerts(alert_type, entity_kind, entity_id, status);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_key ON alerts(alert_type, entity_kind, entity_id)
    WHERE entity_kind != '' AND status IN ('new', 'acknowledged', 'investigating');
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEntities,
		schemaPairAggregates,
		schemaContracts,
		schemaMonthlySpend,
		schemaRelationshipEdges,
		schemaAlerts,
	}
}
