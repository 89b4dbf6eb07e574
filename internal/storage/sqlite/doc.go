// Package sqlite persists peak-finding runs and their peak tables in a
// SQLite database. The schema is embedded and applied with golang-migrate
// when the store is opened.
package sqlite
