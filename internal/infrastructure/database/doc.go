// Package database provides the SQLite connection behind the config entry
// store.
//
// Schema changes are embedded SQL files named
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// and applied in version order, each in its own transaction, with applied
// versions recorded in schema_migrations. Migrations are additive: new
// columns are nullable or carry a default.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
