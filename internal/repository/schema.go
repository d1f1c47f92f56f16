package repository

// Schema definitions for the Redress audit store.
// Compatible with both SQLite and PostgreSQL.

// amount holds the payable compensation as a decimal string, NULL when absent.
const schemaCalculations = `
CREATE TABLE IF NOT EXISTS calculations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    strategy TEXT NOT NULL,
    scenario TEXT NOT NULL,
    outcome TEXT NOT NULL,
    eligible INTEGER NOT NULL DEFAULT 0,
    amount TEXT,
    request TEXT NOT NULL,
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calculations_tenant ON calculations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_calculations_created ON calculations(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_calculations_outcome ON calculations(tenant_id, outcome);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCalculations,
	}
}
