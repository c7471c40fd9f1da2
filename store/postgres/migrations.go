package postgres

// Documents are stored as JSONB with the lookup columns the ledger queries
// on denormalized alongside. The document is the source of truth; the
// denormalized columns are rewritten on every put.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS ledger_accounts (
    uid         TEXT PRIMARY KEY,
    doc         JSONB NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    period_end  TIMESTAMPTZ,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_accounts_fingerprint ON ledger_accounts (fingerprint, period_end) WHERE fingerprint != '';
`,
	`
CREATE TABLE IF NOT EXISTS ledger_device_trials (
    device_hash TEXT PRIMARY KEY,
    doc         JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	`
CREATE TABLE IF NOT EXISTS ledger_device_restores (
    token_hash TEXT PRIMARY KEY,
    doc        JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
}
