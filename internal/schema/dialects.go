package schema

var dialects = map[string]dialect{
	"postgres": {
		name: "postgres",
		tablesSQL: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`,
		columnsSQL: `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?`,
		foreignKeys: `SELECT kcu.table_name AS dependent_table,
				kcu.column_name AS dependent_column,
				ccu.table_name AS referenced_table,
				ccu.column_name AS referenced_column
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			JOIN information_schema.constraint_column_usage ccu
				ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY'
				AND tc.table_schema = current_schema()
				AND ccu.table_name = ?`,
		deferChecks: "SET CONSTRAINTS ALL DEFERRED",
	},
	"sqlite": {
		name: "sqlite",
		tablesSQL: `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`,
		columnsSQL: `SELECT name FROM pragma_table_info(?)`,
		// "to" is NULL when the key targets the referenced table's primary key
		foreignKeys: `SELECT m.name AS dependent_table,
				p."from" AS dependent_column,
				p."table" AS referenced_table,
				COALESCE(p."to", 'id') AS referenced_column
			FROM sqlite_master m
			JOIN pragma_foreign_key_list(m.name) p
			WHERE m.type = 'table' AND p."table" = ?`,
		deferChecks: "PRAGMA defer_foreign_keys = ON",
	},
}
