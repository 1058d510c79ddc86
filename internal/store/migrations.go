package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS export_runs (
	id          TEXT PRIMARY KEY,
	jql         TEXT NOT NULL,
	first_step  TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	issue_count INTEGER NOT NULL DEFAULT 0,
	row_count   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transitions (
	run_id           TEXT NOT NULL REFERENCES export_runs(id) ON DELETE CASCADE,
	issue_key        TEXT NOT NULL,
	seq              INTEGER NOT NULL,
	from_status      TEXT,
	to_status        TEXT NOT NULL,
	transitioned_at  TEXT NOT NULL,
	duration_seconds REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (issue_key, seq)
);

CREATE INDEX IF NOT EXISTS idx_transitions_run_id ON transitions(run_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE export_runs ADD COLUMN skipped_count INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_transitions_to_status ON transitions(to_status);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
