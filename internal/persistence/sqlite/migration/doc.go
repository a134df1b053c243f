// Package migration applies versioned schema changes to the SQL store.
//
// Migration files are embedded in the binary under files/ and follow the naming
// convention {version}_{description}.sql (e.g. "001_members_and_bookings.sql").
// Each file runs in its own transaction together with the row that records it
// in schema_migrations, so a failed file leaves no partial schema behind.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(migration.Files, "files"), migration.NewExecutor(db, rebind), logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
