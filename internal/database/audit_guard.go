package database

import (
	"errors"
	"fmt"
	"strings"

	"standings/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// auditAppendOnly is the message raised by the audit triggers on both dialects.
const auditAppendOnly = "standings_audit_log is append-only"

const auditGuardCallback = "standings:audit_append_only"

// sqliteAuditTriggers mirror the postgres trigger from the initial migration.
var sqliteAuditTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS trg_standings_audit_log_no_update
	BEFORE UPDATE ON standings_audit_log
	BEGIN SELECT RAISE(ABORT, '` + auditAppendOnly + `'); END;`,
	`CREATE TRIGGER IF NOT EXISTS trg_standings_audit_log_no_delete
	BEFORE DELETE ON standings_audit_log
	BEGIN SELECT RAISE(ABORT, '` + auditAppendOnly + `'); END;`,
}

var postgresAuditTriggers = []string{
	`CREATE OR REPLACE FUNCTION standings_audit_log_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION '` + auditAppendOnly + `' USING ERRCODE = 'restrict_violation';
END;
$$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS ` + auditTrigger + ` ON standings_audit_log;`,
	`CREATE TRIGGER ` + auditTrigger + `
	BEFORE UPDATE OR DELETE ON standings_audit_log
	FOR EACH ROW EXECUTE FUNCTION standings_audit_log_immutable();`,
}

// ensureAuditTriggers installs the append-only triggers on a schema built by AutoMigrate.
func ensureAuditTriggers(db *gorm.DB) error {
	var stmts []string
	switch db.Dialector.Name() {
	case "sqlite":
		stmts = sqliteAuditTriggers
	case "postgres":
		stmts = postgresAuditTriggers
	default:
		return nil
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("install audit triggers: %w", err)
		}
	}
	return nil
}

// isAuditViolation reports whether err came from an audit trigger.
func isAuditViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23001" && strings.Contains(pgErr.Message, auditAppendOnly)
	}
	return strings.Contains(err.Error(), auditAppendOnly)
}

func translateAuditViolation(db *gorm.DB) {
	if db.Error != nil && isAuditViolation(db.Error) {
		db.Error = models.NewImmutableRecordError("audit log entries are append-only")
	}
}

// registerAuditGuard makes writes rejected by the audit triggers fail with IMMUTABLE_RECORD,
// including raw Exec and UpdateColumn calls that skip model hooks. Repeated calls are no-ops.
func registerAuditGuard(db *gorm.DB) error {
	cb := db.Callback()
	if cb.Raw().Get(auditGuardCallback) != nil {
		return nil
	}
	if err := cb.Update().After("gorm:update").Register(auditGuardCallback, translateAuditViolation); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register(auditGuardCallback, translateAuditViolation); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register(auditGuardCallback, translateAuditViolation)
}
