package database

import "strings"

// Driver represents a storage backend type.
type Driver string

const (
	// DriverPostgres represents PostgreSQL.
	DriverPostgres Driver = "postgres"
	// DriverSQLite represents an embedded SQLite file.
	DriverSQLite Driver = "sqlite"
	// DriverMongo represents a MongoDB deployment. It is a document store,
	// so NewConnection refuses it and callers build a Mongo client instead.
	DriverMongo Driver = "mongodb"
)

// DetectDriver parses a connection string and returns the driver type.
// Returns DriverSQLite for empty URLs to enable zero-config local mode.
func DetectDriver(url string) Driver {
	if url == "" {
		return DriverSQLite
	}

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		return DriverMongo
	case strings.HasPrefix(url, "sqlite://"),
		strings.HasPrefix(url, "file:"),
		strings.HasSuffix(url, ".db"),
		strings.HasSuffix(url, ".sqlite"),
		strings.HasSuffix(url, ".sqlite3"):
		return DriverSQLite
	}

	return DriverPostgres
}

// IsSQL reports whether the driver is served by a Connection.
func (d Driver) IsSQL() bool {
	return d == DriverPostgres || d == DriverSQLite
}
