package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteTicketStore implements TicketStore backed by SQLite.
type SQLiteTicketStore struct {
	db *sql.DB
}

func (s *SQLiteTicketStore) Create(ctx context.Context, t *Ticket, fields []*FieldValue, entry *FlowEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	nowStr := formatSQLiteTime(now)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ticket_record (sn, title, workflow_id, state_id, parent_ticket_id,
			parent_ticket_state_id, participant_type_id, participant, creator, relation,
			is_deleted, gmt_created, gmt_modified)
		VALUES (?,?,?,?,?,?,?,?,?,?,0,?,?)`,
		t.SN, t.Title, t.WorkflowID, t.StateID, t.ParentTicketID,
		t.ParentTicketStateID, t.ParticipantTypeID, t.Participant, t.Creator, t.Relation,
		nowStr, nowStr)
	if err != nil {
		if isSQLiteDuplicate(err) {
			return fmt.Errorf("%w: ticket sn %s", ErrDuplicate, t.SN)
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ticket insert id: %w", err)
	}
	t.GmtCreated, t.GmtModified = now, now

	for _, fv := range fields {
		fv.TicketID = t.ID
		if err := upsertFieldValueSQLiteTx(ctx, tx, fv, now); err != nil {
			return err
		}
	}

	if entry != nil {
		entry.TicketID = t.ID
		if err := insertFlowEntrySQLiteTx(ctx, tx, entry, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteTicketStore) Get(ctx context.Context, id int64) (*Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ticketColumns+` FROM ticket_record
		WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query ticket: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanSQLiteTicket(rows)
}

func (s *SQLiteTicketStore) GetByIDs(ctx context.Context, ids []int64) ([]*Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+ticketColumns+` FROM ticket_record
		WHERE id IN (`+sqlitePlaceholders(len(ids))+`) AND is_deleted = 0 ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets by ids: %w", err)
	}
	defer rows.Close()
	return collectSQLiteTickets(rows)
}

func (s *SQLiteTicketStore) Count(ctx context.Context, f TicketFilter) (int, error) {
	where, args := sqliteTicketFilterSQL(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_record`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

func (s *SQLiteTicketStore) List(ctx context.Context, f TicketFilter) ([]*Ticket, error) {
	where, args := sqliteTicketFilterSQL(f)

	order := ` ORDER BY gmt_created DESC, id DESC`
	if !f.Reverse {
		order = ` ORDER BY gmt_created ASC, id ASC`
	}

	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = DefaultPagination().Limit
	}
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM ticket_record`+where+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	return collectSQLiteTickets(rows)
}

func (s *SQLiteTicketStore) ApplyTransition(ctx context.Context, u *TransitionUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// The single connection serializes writers; the guard below still
	// rejects transitions raced out between read and write.
	var currentStateID int64
	err = tx.QueryRowContext(ctx, `SELECT state_id FROM ticket_record
		WHERE id = ? AND is_deleted = 0`, u.TicketID).Scan(&currentStateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: ticket %d", ErrNotFound, u.TicketID)
		}
		return fmt.Errorf("read ticket %d: %w", u.TicketID, err)
	}
	if u.FromStateID != 0 && currentStateID != u.FromStateID {
		return fmt.Errorf("%w: ticket %d moved from state %d to %d",
			ErrConflict, u.TicketID, u.FromStateID, currentStateID)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE ticket_record SET state_id = ?, participant_type_id = ?,
			participant = ?, relation = ?, gmt_modified = ?
		WHERE id = ?`,
		u.ToStateID, u.ParticipantTypeID, u.Participant, u.Relation,
		formatSQLiteTime(now), u.TicketID)
	if err != nil {
		return fmt.Errorf("update ticket %d: %w", u.TicketID, err)
	}

	for _, fv := range u.Fields {
		fv.TicketID = u.TicketID
		if err := upsertFieldValueSQLiteTx(ctx, tx, fv, now); err != nil {
			return err
		}
	}

	if u.Entry != nil {
		u.Entry.TicketID = u.TicketID
		if err := insertFlowEntrySQLiteTx(ctx, tx, u.Entry, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteTicketStore) SoftDelete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ticket_record SET is_deleted = 1,
		gmt_modified = ? WHERE id = ? AND is_deleted = 0`,
		formatSQLiteTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("delete ticket %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ticket %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: ticket %d", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteTicketStore) CountCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	// Soft-deleted rows keep their serial slot, so no is_deleted filter.
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_record
		WHERE gmt_created >= ? AND gmt_created < ?`,
		formatSQLiteTime(start), formatSQLiteTime(end)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets created between: %w", err)
	}
	return n, nil
}

func (s *SQLiteTicketStore) CountByCreatorSince(ctx context.Context, creator string, workflowID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_record
		WHERE creator = ? AND workflow_id = ? AND gmt_created >= ?
		AND is_deleted = 0`, creator, workflowID, formatSQLiteTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets by creator: %w", err)
	}
	return n, nil
}

func collectSQLiteTickets(rows *sql.Rows) ([]*Ticket, error) {
	var tickets []*Ticket
	for rows.Next() {
		t, err := scanSQLiteTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func scanSQLiteTicket(rows *sql.Rows) (*Ticket, error) {
	var t Ticket
	var created, modified string
	err := rows.Scan(
		&t.ID, &t.SN, &t.Title, &t.WorkflowID, &t.StateID, &t.ParentTicketID,
		&t.ParentTicketStateID, &t.ParticipantTypeID, &t.Participant, &t.Creator,
		&t.Relation, &t.IsDeleted, &created, &modified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	if t.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if t.GmtModified, err = parseSQLiteTime(modified); err != nil {
		return nil, err
	}
	return &t, nil
}

// sqliteTicketFilterSQL builds the WHERE clause shared by Count and List.
// Comma-column membership wraps both sides in commas so tokens match
// whole, never as substrings.
func sqliteTicketFilterSQL(f TicketFilter) (string, []any) {
	query := ` WHERE is_deleted = 0`
	args := []any{}

	if f.SN != "" {
		query += ` AND sn = ?`
		args = append(args, f.SN)
	}
	if f.TitleContains != "" {
		query += ` AND title LIKE '%' || ? || '%'`
		args = append(args, f.TitleContains)
	}
	if f.Creator != "" {
		query += ` AND creator = ?`
		args = append(args, f.Creator)
	}
	if f.CreateStart != nil {
		query += ` AND gmt_created >= ?`
		args = append(args, formatSQLiteTime(*f.CreateStart))
	}
	if f.CreateEnd != nil {
		query += ` AND gmt_created <= ?`
		args = append(args, formatSQLiteTime(*f.CreateEnd))
	}
	if len(f.WorkflowIDs) > 0 {
		query += ` AND workflow_id IN (` + sqlitePlaceholders(len(f.WorkflowIDs)) + `)`
		for _, id := range f.WorkflowIDs {
			args = append(args, id)
		}
	}
	if f.DutyUsername != "" {
		parts := []string{
			`(participant_type_id = ? AND participant = ?)`,
			`(participant_type_id = ? AND (',' || participant || ',') LIKE '%,' || ? || ',%')`,
		}
		dutyArgs := []any{
			ParticipantPersonal, f.DutyUsername,
			ParticipantMulti, f.DutyUsername,
		}
		if len(f.DutyDeptIDs) > 0 {
			parts = append(parts,
				`(participant_type_id = ? AND participant IN (`+sqlitePlaceholders(len(f.DutyDeptIDs))+`))`)
			dutyArgs = append(dutyArgs, ParticipantDept)
			for _, id := range int64Strings(f.DutyDeptIDs) {
				dutyArgs = append(dutyArgs, id)
			}
		}
		if len(f.DutyRoleIDs) > 0 {
			parts = append(parts,
				`(participant_type_id = ? AND participant IN (`+sqlitePlaceholders(len(f.DutyRoleIDs))+`))`)
			dutyArgs = append(dutyArgs, ParticipantRole)
			for _, id := range int64Strings(f.DutyRoleIDs) {
				dutyArgs = append(dutyArgs, id)
			}
		}
		query += ` AND (` + strings.Join(parts, " OR ") + `)`
		args = append(args, dutyArgs...)
	}
	if f.RelationUsername != "" {
		query += ` AND (',' || relation || ',') LIKE '%,' || ? || ',%'`
		args = append(args, f.RelationUsername)
	}

	return query, args
}

func sqlitePlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func upsertFieldValueSQLiteTx(ctx context.Context, tx *sql.Tx, fv *FieldValue, now time.Time) error {
	nowStr := formatSQLiteTime(now)
	var id int64
	var created string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO ticket_custom_field (ticket_id, field_key, value_char, value_int,
			value_float, value_bool, value_date, value_datetime, value_radio,
			value_checkbox, value_select, value_multi_select, value_text, value_username,
			is_deleted, gmt_created, gmt_modified)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,0,?,?)
		ON CONFLICT (ticket_id, field_key) DO UPDATE SET
			value_char = excluded.value_char, value_int = excluded.value_int,
			value_float = excluded.value_float, value_bool = excluded.value_bool,
			value_date = excluded.value_date, value_datetime = excluded.value_datetime,
			value_radio = excluded.value_radio, value_checkbox = excluded.value_checkbox,
			value_select = excluded.value_select, value_multi_select = excluded.value_multi_select,
			value_text = excluded.value_text, value_username = excluded.value_username,
			is_deleted = 0, gmt_modified = excluded.gmt_modified
		RETURNING id, gmt_created`,
		fv.TicketID, fv.FieldKey, fv.ValueChar, fv.ValueInt,
		fv.ValueFloat, fv.ValueBool, sqliteDateArg(fv.ValueDate), sqliteTimeArg(fv.ValueDatetime),
		fv.ValueRadio, fv.ValueCheckbox, fv.ValueSelect, fv.ValueMultiSelect,
		fv.ValueText, fv.ValueUsername, nowStr, nowStr,
	).Scan(&id, &created)
	if err != nil {
		return fmt.Errorf("upsert field %s of ticket %d: %w", fv.FieldKey, fv.TicketID, err)
	}
	fv.ID = id
	if fv.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return err
	}
	fv.GmtModified = now
	return nil
}

func insertFlowEntrySQLiteTx(ctx context.Context, tx *sql.Tx, e *FlowEntry, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ticket_flow_log (ticket_id, state_id, transition_id,
			participant_type_id, participant, suggestion, is_deleted, gmt_created)
		VALUES (?,?,?,?,?,?,0,?)`,
		e.TicketID, e.StateID, e.TransitionID, e.ParticipantTypeID,
		e.Participant, e.Suggestion, formatSQLiteTime(now))
	if err != nil {
		return fmt.Errorf("insert flow entry for ticket %d: %w", e.TicketID, err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("flow entry insert id: %w", err)
	}
	e.GmtCreated = now
	return nil
}
