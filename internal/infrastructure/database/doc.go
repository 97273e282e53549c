// Package database provides the SQLite store behind the miio bridge's
// device inventory.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Embedded schema migrations (see the migrations directory)
//   - Connection lifecycle and health checks
//
// Device rows hold the 32 hex character token each device needs, so the
// database file is restricted to 0600 and queries are always parameterised.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Tables use STRICT mode and new columns must be
// nullable or carry a default.
package database
