// Package database provides the SQLite connection behind the SmartAuth
// identity store.
//
// It manages:
//   - Opening the database with WAL mode, foreign keys and a busy timeout
//   - Forward and backward schema migrations tracked in schema_migrations
//   - Transaction helpers and classification of SQLite errors
//
// All queries use parameterised statements. The database file is chmod 0600
// because it holds password hashes and live session tokens.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and live in the top-level migrations package.
package database
