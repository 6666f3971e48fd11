// Package mysql opens the shared MySQL connection pool and applies the
// embedded schema migrations under deploy/migrations. Order and reward
// stores receive the resulting *sql.DB.
package mysql
