package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `id, sn, title, workflow_id, state_id, parent_ticket_id,
	parent_ticket_state_id, participant_type_id, participant, creator, relation,
	is_deleted, gmt_created, gmt_modified`

// PGTicketStore implements TicketStore backed by PostgreSQL.
type PGTicketStore struct {
	pool *pgxpool.Pool
}

func (s *PGTicketStore) Create(ctx context.Context, t *Ticket, fields []*FieldValue, entry *FlowEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO ticket_record (sn, title, workflow_id, state_id, parent_ticket_id,
			parent_ticket_state_id, participant_type_id, participant, creator, relation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, gmt_created, gmt_modified`,
		t.SN, t.Title, t.WorkflowID, t.StateID, t.ParentTicketID,
		t.ParentTicketStateID, t.ParticipantTypeID, t.Participant, t.Creator, t.Relation,
	).Scan(&t.ID, &t.GmtCreated, &t.GmtModified)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: ticket sn %s", ErrDuplicate, t.SN)
		}
		return fmt.Errorf("insert ticket: %w", err)
	}

	for _, fv := range fields {
		fv.TicketID = t.ID
		if err := upsertFieldValueTx(ctx, tx, fv); err != nil {
			return err
		}
	}

	if entry != nil {
		entry.TicketID = t.ID
		if err := insertFlowEntryTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PGTicketStore) Get(ctx context.Context, id int64) (*Ticket, error) {
	return s.scanOne(ctx, `SELECT `+ticketColumns+` FROM ticket_record
		WHERE id = $1 AND is_deleted = FALSE`, id)
}

func (s *PGTicketStore) GetByIDs(ctx context.Context, ids []int64) ([]*Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+ticketColumns+` FROM ticket_record
		WHERE id = ANY($1) AND is_deleted = FALSE ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query tickets by ids: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PGTicketStore) Count(ctx context.Context, f TicketFilter) (int, error) {
	where, args := ticketFilterSQL(f)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_record`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

func (s *PGTicketStore) List(ctx context.Context, f TicketFilter) ([]*Ticket, error) {
	where, args := ticketFilterSQL(f)

	order := ` ORDER BY gmt_created DESC, id DESC`
	if !f.Reverse {
		order = ` ORDER BY gmt_created ASC, id ASC`
	}

	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = DefaultPagination().Limit
	}
	query := fmt.Sprintf(`SELECT %s FROM ticket_record%s%s LIMIT $%d OFFSET $%d`,
		ticketColumns, where, order, len(args)+1, len(args)+2)
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PGTicketStore) ApplyTransition(ctx context.Context, u *TransitionUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var currentStateID int64
	err = tx.QueryRow(ctx, `SELECT state_id FROM ticket_record
		WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`, u.TicketID).Scan(&currentStateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: ticket %d", ErrNotFound, u.TicketID)
		}
		return fmt.Errorf("lock ticket %d: %w", u.TicketID, err)
	}
	if u.FromStateID != 0 && currentStateID != u.FromStateID {
		return fmt.Errorf("%w: ticket %d moved from state %d to %d",
			ErrConflict, u.TicketID, u.FromStateID, currentStateID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE ticket_record SET state_id = $2, participant_type_id = $3,
			participant = $4, relation = $5, gmt_modified = NOW()
		WHERE id = $1`,
		u.TicketID, u.ToStateID, u.ParticipantTypeID, u.Participant, u.Relation)
	if err != nil {
		return fmt.Errorf("update ticket %d: %w", u.TicketID, err)
	}

	for _, fv := range u.Fields {
		fv.TicketID = u.TicketID
		if err := upsertFieldValueTx(ctx, tx, fv); err != nil {
			return err
		}
	}

	if u.Entry != nil {
		u.Entry.TicketID = u.TicketID
		if err := insertFlowEntryTx(ctx, tx, u.Entry); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PGTicketStore) SoftDelete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE ticket_record SET is_deleted = TRUE,
		gmt_modified = NOW() WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("delete ticket %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: ticket %d", ErrNotFound, id)
	}
	return nil
}

func (s *PGTicketStore) CountCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	// Soft-deleted rows keep their serial slot, so no is_deleted filter.
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_record
		WHERE gmt_created >= $1 AND gmt_created < $2`, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets created between: %w", err)
	}
	return n, nil
}

func (s *PGTicketStore) CountByCreatorSince(ctx context.Context, creator string, workflowID int64, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_record
		WHERE creator = $1 AND workflow_id = $2 AND gmt_created >= $3
		AND is_deleted = FALSE`, creator, workflowID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets by creator: %w", err)
	}
	return n, nil
}

func (s *PGTicketStore) scanOne(ctx context.Context, query string, args ...any) (*Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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
	return scanTicket(rows)
}

func scanTicket(rows pgx.Rows) (*Ticket, error) {
	var t Ticket
	err := rows.Scan(
		&t.ID, &t.SN, &t.Title, &t.WorkflowID, &t.StateID, &t.ParentTicketID,
		&t.ParentTicketStateID, &t.ParticipantTypeID, &t.Participant, &t.Creator,
		&t.Relation, &t.IsDeleted, &t.GmtCreated, &t.GmtModified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	return &t, nil
}

// ticketFilterSQL builds the WHERE clause shared by Count and List.
func ticketFilterSQL(f TicketFilter) (string, []any) {
	query := ` WHERE is_deleted = FALSE`
	args := []any{}
	idx := 1

	add := func(cond string, vals ...any) {
		query += cond
		args = append(args, vals...)
		idx += len(vals)
	}

	if f.SN != "" {
		add(fmt.Sprintf(` AND sn = $%d`, idx), f.SN)
	}
	if f.TitleContains != "" {
		add(fmt.Sprintf(` AND title ILIKE '%%' || $%d || '%%'`, idx), f.TitleContains)
	}
	if f.Creator != "" {
		add(fmt.Sprintf(` AND creator = $%d`, idx), f.Creator)
	}
	if f.CreateStart != nil {
		add(fmt.Sprintf(` AND gmt_created >= $%d`, idx), *f.CreateStart)
	}
	if f.CreateEnd != nil {
		add(fmt.Sprintf(` AND gmt_created <= $%d`, idx), *f.CreateEnd)
	}
	if len(f.WorkflowIDs) > 0 {
		add(fmt.Sprintf(` AND workflow_id = ANY($%d)`, idx), f.WorkflowIDs)
	}
	if f.DutyUsername != "" {
		add(fmt.Sprintf(` AND ((participant_type_id = $%d AND participant = $%d)
			OR (participant_type_id = $%d AND $%d = ANY(string_to_array(participant, ',')))
			OR (participant_type_id = $%d AND participant = ANY($%d))
			OR (participant_type_id = $%d AND participant = ANY($%d)))`,
			idx, idx+1, idx+2, idx+3, idx+4, idx+5, idx+6, idx+7),
			ParticipantPersonal, f.DutyUsername,
			ParticipantMulti, f.DutyUsername,
			ParticipantDept, int64Strings(f.DutyDeptIDs),
			ParticipantRole, int64Strings(f.DutyRoleIDs))
	}
	if f.RelationUsername != "" {
		add(fmt.Sprintf(` AND $%d = ANY(string_to_array(relation, ','))`, idx), f.RelationUsername)
	}

	return query, args
}

// int64Strings renders ids in the text form the participant column uses.
func int64Strings(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

func upsertFieldValueTx(ctx context.Context, tx pgx.Tx, fv *FieldValue) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO ticket_custom_field (ticket_id, field_key, value_char, value_int,
			value_float, value_bool, value_date, value_datetime, value_radio,
			value_checkbox, value_select, value_multi_select, value_text, value_username)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (ticket_id, field_key) DO UPDATE SET
			value_char = EXCLUDED.value_char, value_int = EXCLUDED.value_int,
			value_float = EXCLUDED.value_float, value_bool = EXCLUDED.value_bool,
			value_date = EXCLUDED.value_date, value_datetime = EXCLUDED.value_datetime,
			value_radio = EXCLUDED.value_radio, value_checkbox = EXCLUDED.value_checkbox,
			value_select = EXCLUDED.value_select, value_multi_select = EXCLUDED.value_multi_select,
			value_text = EXCLUDED.value_text, value_username = EXCLUDED.value_username,
			is_deleted = FALSE, gmt_modified = NOW()
		RETURNING id, gmt_created, gmt_modified`,
		fv.TicketID, fv.FieldKey, fv.ValueChar, fv.ValueInt,
		fv.ValueFloat, fv.ValueBool, fv.ValueDate, fv.ValueDatetime, fv.ValueRadio,
		fv.ValueCheckbox, fv.ValueSelect, fv.ValueMultiSelect, fv.ValueText, fv.ValueUsername,
	).Scan(&fv.ID, &fv.GmtCreated, &fv.GmtModified)
	if err != nil {
		return fmt.Errorf("upsert field %s of ticket %d: %w", fv.FieldKey, fv.TicketID, err)
	}
	return nil
}

func insertFlowEntryTx(ctx context.Context, tx pgx.Tx, e *FlowEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO ticket_flow_log (ticket_id, state_id, transition_id,
			participant_type_id, participant, suggestion)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, gmt_created`,
		e.TicketID, e.StateID, e.TransitionID, e.ParticipantTypeID, e.Participant, e.Suggestion,
	).Scan(&e.ID, &e.GmtCreated)
	if err != nil {
		return fmt.Errorf("insert flow entry for ticket %d: %w", e.TicketID, err)
	}
	return nil
}
