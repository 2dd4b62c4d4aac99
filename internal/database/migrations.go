package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func RunMigrations(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	migrations := []string{
		createEnumTypes,
		createProjectsTable,
		createProjectIndexes,
		createUsageRecordsTable,
	}

	for i, migration := range migrations {
		log.Debug("Running migration", zap.Int("step", i+1), zap.Int("total", len(migrations)))
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("All migrations completed successfully", zap.Int("count", len(migrations)))
	return nil
}

const createEnumTypes = `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'plan_t') THEN
    CREATE TYPE plan_t AS ENUM ('basic', 'independent', 'team', 'commercial', 'trial');
  END IF;
END$$;

DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'project_type_t') THEN
    CREATE TYPE project_type_t AS ENUM ('project', 'tenant', 'stage');
  END IF;
END$$;
`

const createProjectsTable = `
CREATE TABLE IF NOT EXISTS projects (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  type project_type_t NOT NULL DEFAULT 'project',
  plan plan_t NOT NULL DEFAULT 'basic',
  trial TIMESTAMP WITH TIME ZONE,
  project TEXT REFERENCES projects(id),
  remote BOOLEAN NOT NULL DEFAULT FALSE,
  owner TEXT,
  settings JSONB NOT NULL DEFAULT '{}'::jsonb,
  deleted TIMESTAMP WITH TIME ZONE,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

// Names are unique among live projects only.
const createProjectIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_live_name ON projects(name) WHERE deleted IS NULL;
CREATE INDEX IF NOT EXISTS idx_projects_parent ON projects(project) WHERE deleted IS NULL;
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner);
`

const createUsageRecordsTable = `
CREATE TABLE IF NOT EXISTS usage_records (
  key TEXT PRIMARY KEY,
  snapshot JSONB,
  last_success_at TIMESTAMP WITH TIME ZONE NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`
