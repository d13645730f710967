package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetOption returns the raw value of a named option. The boolean is false
// when the option has never been written.
func (s *Store) GetOption(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		s.db.Rebind("SELECT option_value FROM cpt_options WHERE option_name = ?"), name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", name, err)
	}
	return value, true, nil
}

// SetOption creates or replaces a named option.
func (s *Store) SetOption(ctx context.Context, name, value string) error {
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO cpt_options (option_name, option_value) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE option_value = VALUES(option_value)`
	default:
		q = `INSERT INTO cpt_options (option_name, option_value) VALUES (?, ?)
			ON CONFLICT (option_name) DO UPDATE SET option_value = excluded.option_value`
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), name, value); err != nil {
		return fmt.Errorf("set option %s: %w", name, err)
	}
	return nil
}

// DeleteOption removes a named option. Deleting a missing option is not an
// error.
func (s *Store) DeleteOption(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM cpt_options WHERE option_name = ?"), name); err != nil {
		return fmt.Errorf("delete option %s: %w", name, err)
	}
	return nil
}
