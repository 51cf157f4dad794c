package tasks

import "embed"

// Migrations holds the postgres schema, applied with pkg/migration.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"

// MigrationsTable keeps the task store's version apart from other schemas
// sharing the database.
const MigrationsTable = "tasks_schema_migrations"
