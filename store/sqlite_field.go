package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteFieldValueStore implements FieldValueStore backed by SQLite.
type SQLiteFieldValueStore struct {
	db *sql.DB
}

func (s *SQLiteFieldValueStore) Get(ctx context.Context, ticketID int64, fieldKey string) (*FieldValue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fieldValueColumns+` FROM ticket_custom_field
		WHERE ticket_id = ? AND field_key = ? AND is_deleted = 0`, ticketID, fieldKey)
	if err != nil {
		return nil, fmt.Errorf("query field value: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query field value: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanSQLiteFieldValue(rows)
}

func (s *SQLiteFieldValueStore) ListForTicket(ctx context.Context, ticketID int64) ([]*FieldValue, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fieldValueColumns+` FROM ticket_custom_field
		WHERE ticket_id = ? AND is_deleted = 0 ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list field values: %w", err)
	}
	defer rows.Close()

	var values []*FieldValue
	for rows.Next() {
		fv, err := scanSQLiteFieldValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, fv)
	}
	return values, rows.Err()
}

func scanSQLiteFieldValue(rows *sql.Rows) (*FieldValue, error) {
	var fv FieldValue
	var (
		char, radio, checkbox, sel, multiSel, text, username sql.Null[string]
		intVal                                               sql.Null[int64]
		floatVal                                             sql.Null[float64]
		boolVal                                              sql.Null[int16]
		date, datetime                                       sql.Null[string]
		created, modified                                    string
	)
	err := rows.Scan(
		&fv.ID, &fv.TicketID, &fv.FieldKey, &char, &intVal,
		&floatVal, &boolVal, &date, &datetime, &radio,
		&checkbox, &sel, &multiSel, &text, &username,
		&fv.IsDeleted, &created, &modified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan field value: %w", err)
	}

	fv.ValueChar = nullStringPtr(char)
	if intVal.Valid {
		fv.ValueInt = &intVal.V
	}
	if floatVal.Valid {
		fv.ValueFloat = &floatVal.V
	}
	if boolVal.Valid {
		fv.ValueBool = &boolVal.V
	}
	if fv.ValueDate, err = nullTimePtr(date, sqliteDateLayout); err != nil {
		return nil, err
	}
	if fv.ValueDatetime, err = nullTimePtr(datetime, sqliteTimeLayout); err != nil {
		return nil, err
	}
	fv.ValueRadio = nullStringPtr(radio)
	fv.ValueCheckbox = nullStringPtr(checkbox)
	fv.ValueSelect = nullStringPtr(sel)
	fv.ValueMultiSelect = nullStringPtr(multiSel)
	fv.ValueText = nullStringPtr(text)
	fv.ValueUsername = nullStringPtr(username)

	if fv.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if fv.GmtModified, err = parseSQLiteTime(modified); err != nil {
		return nil, err
	}
	return &fv, nil
}
