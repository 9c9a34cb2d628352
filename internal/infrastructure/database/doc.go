// Package database owns the host's SQLite file: connection setup (WAL,
// busy timeout, single-writer pool), health checks and forward-only
// migrations.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. Added
// columns must be NULLable or carry a DEFAULT so existing rows stay valid.
package database
