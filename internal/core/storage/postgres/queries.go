package postgres

import "fmt"

// Catalog statements. The data_sets catalog table is created by the baseline
// migration and records each data set's capped size.
const (
	queryDataSetExists = `SELECT EXISTS (SELECT 1 FROM data_sets WHERE id = $1)`

	queryCappedSize = `SELECT capped_size FROM data_sets WHERE id = $1`

	queryInsertCatalog = `INSERT INTO data_sets (id, capped_size) VALUES ($1, $2)`

	queryEnsureCatalog = `INSERT INTO data_sets (id, capped_size) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING`

	queryDeleteCatalog = `DELETE FROM data_sets WHERE id = $1`

	queryExistingTables = `SELECT tablename FROM pg_tables WHERE tablename = ANY($1)`
)

// Per-data-set statements. Tables are dynamic, so these are format helpers
// rather than prepared statements.

const tableColumns = `(
	id TEXT PRIMARY KEY,
	record JSONB NOT NULL,
	ts TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	inserted_seq BIGSERIAL
)`

func createTableSQL(id string) string {
	return fmt.Sprintf("CREATE TABLE %s %s", tableName(id), tableColumns)
}

// ensureTableSQL backs lazy collection creation: the table appears on first
// write, not at configuration time.
func ensureTableSQL(id string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", tableName(id), tableColumns)
}

func dropTableSQL(id string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", tableName(id))
}

func emptyTableSQL(id string) string {
	return fmt.Sprintf("DELETE FROM %s", tableName(id))
}

func saveRecordSQL(id string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, record, ts, updated_at) VALUES ($1, $2::jsonb, $3, $4)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, ts = EXCLUDED.ts, updated_at = EXCLUDED.updated_at`,
		tableName(id))
}

// evictSQL trims a capped data set to its configured size, dropping the
// oldest-inserted rows first.
func evictSQL(id string) string {
	t := tableName(id)
	return fmt.Sprintf(`DELETE FROM %s WHERE inserted_seq NOT IN (SELECT inserted_seq FROM %s ORDER BY inserted_seq DESC LIMIT $1)`, t, t)
}

func lastUpdatedSQL(id string) string {
	return fmt.Sprintf("SELECT max(updated_at) FROM %s", tableName(id))
}

func batchLastUpdatedSQL(id string, arg int) string {
	return fmt.Sprintf("SELECT $%d::text, max(updated_at) FROM %s", arg, tableName(id))
}
