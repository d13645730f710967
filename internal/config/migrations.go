package config

import (
	"fmt"
	"strings"
)

// columnTypes maps the placeholders used in the schema below to each
// driver's column types.
var columnTypes = map[string]*strings.Replacer{
	DriverSQLite: strings.NewReplacer(
		"{{PK}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{KEY}}", "TEXT",
		"{{TEXT}}", "TEXT",
		"{{TIME}}", "DATETIME",
		"{{BOOL}}", "INTEGER",
		"{{FALSE}}", "0",
	),
	DriverPostgres: strings.NewReplacer(
		"{{PK}}", "BIGSERIAL PRIMARY KEY",
		"{{KEY}}", "TEXT",
		"{{TEXT}}", "TEXT",
		"{{TIME}}", "TIMESTAMPTZ",
		"{{BOOL}}", "BOOLEAN",
		"{{FALSE}}", "FALSE",
	),
	DriverMySQL: strings.NewReplacer(
		"{{PK}}", "BIGINT AUTO_INCREMENT PRIMARY KEY",
		"{{KEY}}", "VARCHAR(191)",
		"{{TEXT}}", "LONGTEXT",
		"{{TIME}}", "DATETIME(6)",
		"{{BOOL}}", "TINYINT(1)",
		"{{FALSE}}", "0",
	),
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cpt_options (
		option_name {{KEY}} PRIMARY KEY,
		option_value {{TEXT}} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS post_types (
		name {{KEY}} PRIMARY KEY,
		label {{KEY}} NOT NULL,
		description {{TEXT}} NOT NULL,
		public {{BOOL}} NOT NULL DEFAULT {{FALSE}},
		publicly_queryable {{BOOL}} NOT NULL DEFAULT {{FALSE}},
		show_ui {{BOOL}} NOT NULL DEFAULT {{FALSE}},
		builtin {{BOOL}} NOT NULL DEFAULT {{FALSE}}
	)`,

	`CREATE TABLE IF NOT EXISTS registered_meta (
		post_type {{KEY}} NOT NULL,
		meta_key {{KEY}} NOT NULL,
		PRIMARY KEY (post_type, meta_key)
	)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id {{PK}},
		post_type {{KEY}} NOT NULL,
		title {{TEXT}} NOT NULL,
		content {{TEXT}} NOT NULL,
		excerpt {{TEXT}} NOT NULL,
		slug {{KEY}} NOT NULL,
		status {{KEY}} NOT NULL,
		author BIGINT NOT NULL DEFAULT 0,
		featured_media BIGINT NOT NULL DEFAULT 0,
		created_at {{TIME}} NOT NULL,
		modified_at {{TIME}} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS post_meta (
		post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		meta_key {{KEY}} NOT NULL,
		meta_value {{TEXT}} NOT NULL,
		PRIMARY KEY (post_id, meta_key)
	)`,

	`CREATE TABLE IF NOT EXISTS relationships (
		id {{PK}},
		slug {{KEY}} UNIQUE NOT NULL,
		name {{KEY}} NOT NULL,
		parent_types {{TEXT}} NOT NULL,
		child_types {{TEXT}} NOT NULL,
		parent_max INTEGER NOT NULL DEFAULT -1,
		child_max INTEGER NOT NULL DEFAULT -1,
		is_active {{BOOL}} NOT NULL DEFAULT {{FALSE}}
	)`,

	`CREATE TABLE IF NOT EXISTS associations (
		relationship_id BIGINT NOT NULL REFERENCES relationships(id) ON DELETE CASCADE,
		parent_id BIGINT NOT NULL,
		child_id BIGINT NOT NULL,
		PRIMARY KEY (relationship_id, parent_id, child_id)
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id {{PK}},
		email {{KEY}} UNIQUE NOT NULL,
		password_hash {{KEY}} NOT NULL,
		name {{KEY}} NOT NULL,
		last_login_at {{TIME}},
		created_at {{TIME}} NOT NULL
	)`,
}

// indexes are created separately because MySQL has no CREATE INDEX IF NOT
// EXISTS; there a duplicate key name error is treated as already applied.
var indexes = []string{
	`CREATE INDEX idx_posts_type_status ON posts(post_type, status)`,
}

func (s *Store) migrate() error {
	repl, ok := columnTypes[s.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", s.driver)
	}

	for _, m := range schema {
		stmt := repl.Replace(m)
		if _, err := s.db.Exec(stmt); err != nil {
			if isAlreadyApplied(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	for _, idx := range indexes {
		stmt := idx
		if s.driver != DriverMySQL {
			stmt = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		if _, err := s.db.Exec(stmt); err != nil {
			if isAlreadyApplied(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// isAlreadyApplied treats column and index re-creation as a no-op so that
// migrations stay idempotent across restarts.
func isAlreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "duplicate key name")
}
