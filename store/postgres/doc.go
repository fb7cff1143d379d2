// Package postgres implements the store using pgx/v5 with raw SQL.
// Compare-and-set transitions run as SELECT ... FOR UPDATE inside a
// transaction, so concurrent dispatchers serialize on the job row.
// Migrations are embedded SQL files applied in filename order.
package postgres
