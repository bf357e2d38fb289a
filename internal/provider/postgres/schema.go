// Package postgres implements a durable Postgres run store for lakeloader.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS lakeloader_runs (
    run_id       TEXT PRIMARY KEY,
    workflow     TEXT NOT NULL,
    status       TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ,
    failed       TEXT[] NOT NULL DEFAULT '{}',
    blocked      TEXT[] NOT NULL DEFAULT '{}',
    skipped      TEXT[] NOT NULL DEFAULT '{}',
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_lakeloader_runs_workflow ON lakeloader_runs (workflow, started_at DESC);

CREATE TABLE IF NOT EXISTS lakeloader_step_runs (
    id           BIGSERIAL PRIMARY KEY,
    run_id       TEXT NOT NULL,
    node_id      TEXT NOT NULL,
    attempt      INTEGER NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT,
    row_count    BIGINT NOT NULL DEFAULT 0,
    started_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_lakeloader_step_runs_run ON lakeloader_step_runs (run_id, id);
`
