// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: per-key advisory transaction locks for reservation
// acquisition, ON CONFLICT DO NOTHING content dedup, embedded SQL
// migrations.
package postgres
