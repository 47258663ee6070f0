// Package all wires all built-in storage backends into the storage factory.
//
// Importing it for side effects makes the "postgres", "mssql", "mysql" and
// "sqlite" kinds available to storage.New.
package all

import (
	_ "multab/internal/storage/mssql"
	_ "multab/internal/storage/mysql"
	_ "multab/internal/storage/postgres"
	_ "multab/internal/storage/sqlite"
)
