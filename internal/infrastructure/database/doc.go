// Package database provides the SQLite store of the NGBS Icon bridge.
//
// It opens the database file (creating its directory, enabling WAL and a
// busy timeout) and applies schema migrations read from an fs.FS, usually
// the embedded migrations package:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default, and
// every .up.sql has a matching .down.sql.
package database
