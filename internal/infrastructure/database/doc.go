// Package database provides SQLite connectivity for the fleetsim artifact journal.
//
// This package manages:
//   - Connections to a file database (optionally WAL) or a private in-memory one
//   - Versioned schema migrations read from an fs.FS
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each migration is applied in its own
// transaction and recorded in schema_migrations.
package database
