// Package migrate implements component M: applying ordered schema migrations
// to the analytical store at startup, idempotently. The
// can_apply/should_apply/apply/has_succeeded/rollback_instructions verb set
// is carried directly from original_source's
// tensorzero-internal/src/clickhouse/migration_manager/mod.rs into the Go
// interface below.
package migrate

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/log"
)

// Migration is one ordered schema change. Implementations are typically one
// struct per `internal/chdb/migrate/migrations/NNNN_*.go` file, named after
// the ClickHouse object they create or alter.
type Migration interface {
	// Name identifies this migration in logs and in has_succeeded's check.
	Name() string

	// CanApply reports whether the migration's preconditions hold (e.g. a
	// prerequisite table already exists). A CanApply failure aborts startup.
	CanApply(ctx context.Context, conn driver.Conn) error

	// ShouldApply reports whether this migration's target state is already
	// in place. false is a silent skip, not an error.
	ShouldApply(ctx context.Context, conn driver.Conn) (bool, error)

	// Apply performs the migration.
	Apply(ctx context.Context, conn driver.Conn) error

	// RollbackInstructions returns a human-readable description of how to
	// undo Apply, logged when Apply fails so an operator can act manually;
	// this package never rolls back automatically.
	RollbackInstructions() string
}

// Run ensures the analytical database exists, then applies every migration
// in order. should_apply==false is a silent skip; a can_apply failure aborts
// immediately; an apply failure logs rollback instructions and aborts
// (spec.md §4.M).
func Run(ctx context.Context, conn driver.Conn, databaseName string, migrations []Migration) error {
	if err := ensureDatabase(ctx, conn, databaseName); err != nil {
		return gwerrors.Wrap(gwerrors.KindInternalError, err, "ensure analytical database %q", databaseName)
	}

	for _, m := range migrations {
		if err := m.CanApply(ctx, conn); err != nil {
			return gwerrors.Wrap(gwerrors.KindInternalError, err, "migration %q: precondition failed", m.Name())
		}

		should, err := m.ShouldApply(ctx, conn)
		if err != nil {
			return gwerrors.Wrap(gwerrors.KindInternalError, err, "migration %q: should_apply check failed", m.Name())
		}

		if !should {
			log.Debug(ctx, "migration already applied, skipping", log.String("migration", m.Name()))
			continue
		}

		log.Info(ctx, "applying migration", log.String("migration", m.Name()))

		if err := m.Apply(ctx, conn); err != nil {
			log.Error(ctx, "migration failed, manual rollback required",
				log.String("migration", m.Name()),
				log.String("rollback", m.RollbackInstructions()),
				log.Cause(err))

			return gwerrors.Wrap(gwerrors.KindInternalError, err, "migration %q failed", m.Name())
		}
	}

	return nil
}

func ensureDatabase(ctx context.Context, conn driver.Conn, name string) error {
	return conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(name))
}

// quoteIdent backtick-quotes a ClickHouse identifier. Migration names and the
// database name here are operator-controlled config values, not end-user
// input, so this is a correctness measure (reserved-word identifiers),
// not an injection defense.
func quoteIdent(name string) string {
	return "`" + name + "`"
}
