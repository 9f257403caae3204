// Package mysql persists chat exchanges. It ships a JSON-lines file
// repository for local runs and a MySQL repository whose schema is applied
// from the embedded migrations in deploy/migrations.
package mysql
