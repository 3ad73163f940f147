package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a database carries the token store schema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure.
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"session_tokens", "schema_migrations"} {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies the session_tokens columns.
func (v *SchemaValidator) ValidateTableStructure() error {
	columns := map[string]string{
		"slot":       "TEXT",
		"token":      "TEXT",
		"updated_at": "DATETIME",
	}
	if err := v.validateColumns("session_tokens", columns); err != nil {
		return fmt.Errorf("session_tokens table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies the secondary indexes.
func (v *SchemaValidator) ValidateIndexes() error {
	const index = "idx_session_tokens_updated_at"
	exists, err := v.exists("index", index)
	if err != nil {
		return fmt.Errorf("error checking index %s: %w", index, err)
	}
	if !exists {
		return fmt.Errorf("required index %s does not exist", index)
	}
	return nil
}

// ValidateConstraints verifies that an empty token is rejected. The probe
// runs in a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO session_tokens (slot, token) VALUES ('__probe__', '')`); err == nil {
		return fmt.Errorf("check constraint not enforced: session_tokens.token")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", column, gotType, wantType)
		}
	}
	return nil
}
