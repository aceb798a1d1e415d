package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const fieldValueColumns = `id, ticket_id, field_key, value_char, value_int,
	value_float, value_bool, value_date, value_datetime, value_radio,
	value_checkbox, value_select, value_multi_select, value_text, value_username,
	is_deleted, gmt_created, gmt_modified`

// PGFieldValueStore implements FieldValueStore backed by PostgreSQL.
type PGFieldValueStore struct {
	pool *pgxpool.Pool
}

func (s *PGFieldValueStore) Get(ctx context.Context, ticketID int64, fieldKey string) (*FieldValue, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+fieldValueColumns+` FROM ticket_custom_field
		WHERE ticket_id = $1 AND field_key = $2 AND is_deleted = FALSE`, ticketID, fieldKey)
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
	return scanFieldValue(rows)
}

func (s *PGFieldValueStore) ListForTicket(ctx context.Context, ticketID int64) ([]*FieldValue, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+fieldValueColumns+` FROM ticket_custom_field
		WHERE ticket_id = $1 AND is_deleted = FALSE ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list field values: %w", err)
	}
	defer rows.Close()

	var values []*FieldValue
	for rows.Next() {
		fv, err := scanFieldValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, fv)
	}
	return values, rows.Err()
}

func scanFieldValue(rows pgx.Rows) (*FieldValue, error) {
	var fv FieldValue
	err := rows.Scan(
		&fv.ID, &fv.TicketID, &fv.FieldKey, &fv.ValueChar, &fv.ValueInt,
		&fv.ValueFloat, &fv.ValueBool, &fv.ValueDate, &fv.ValueDatetime, &fv.ValueRadio,
		&fv.ValueCheckbox, &fv.ValueSelect, &fv.ValueMultiSelect, &fv.ValueText, &fv.ValueUsername,
		&fv.IsDeleted, &fv.GmtCreated, &fv.GmtModified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan field value: %w", err)
	}
	return &fv, nil
}
