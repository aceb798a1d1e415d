package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGCatalog implements Catalog backed by PostgreSQL.
type PGCatalog struct {
	pool *pgxpool.Pool
}

func (s *PGCatalog) WorkflowByID(ctx context.Context, id int64) (*Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, display_form_str,
		view_permission_check, limit_expression, is_deleted, gmt_created, gmt_modified
		FROM workflow_record WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query workflow: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanWorkflow(rows)
}

func (s *PGCatalog) StateByID(ctx context.Context, id int64) (*State, error) {
	return s.scanOneState(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE id = $1 AND is_deleted = FALSE`, id)
}

func (s *PGCatalog) StartState(ctx context.Context, workflowID int64) (*State, error) {
	return s.scanOneState(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE workflow_id = $1 AND is_deleted = FALSE
		ORDER BY order_id, id LIMIT 1`, workflowID)
}

func (s *PGCatalog) WorkflowStates(ctx context.Context, workflowID int64) ([]*State, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE workflow_id = $1 AND is_deleted = FALSE ORDER BY order_id, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	defer rows.Close()

	var states []*State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *PGCatalog) StatesByIDs(ctx context.Context, ids []int64) (map[int64]*State, error) {
	out := make(map[int64]*State, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE id = ANY($1) AND is_deleted = FALSE`, ids)
	if err != nil {
		return nil, fmt.Errorf("query states by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out[st.ID] = st
	}
	return out, rows.Err()
}

func (s *PGCatalog) StateTransitions(ctx context.Context, stateID int64) ([]*Transition, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+transitionColumns+` FROM workflow_transition
		WHERE source_state_id = $1 AND is_deleted = FALSE ORDER BY order_id, id`, stateID)
	if err != nil {
		return nil, fmt.Errorf("list state transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*Transition
	for rows.Next() {
		tr, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

func (s *PGCatalog) TransitionByID(ctx context.Context, id int64) (*Transition, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+transitionColumns+` FROM workflow_transition
		WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return nil, fmt.Errorf("query transition: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query transition: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanTransition(rows)
}

func (s *PGCatalog) FieldSchema(ctx context.Context, workflowID int64) ([]*CustomField, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, workflow_id, field_key, field_name,
		field_type_id, order_id, field_choice, is_deleted, gmt_created, gmt_modified
		FROM workflow_custom_field
		WHERE workflow_id = $1 AND is_deleted = FALSE ORDER BY order_id, field_key`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list field schema: %w", err)
	}
	defer rows.Close()

	var fields []*CustomField
	for rows.Next() {
		var cf CustomField
		err := rows.Scan(
			&cf.ID, &cf.WorkflowID, &cf.FieldKey, &cf.FieldName,
			&cf.FieldTypeID, &cf.OrderID, &cf.FieldChoice, &cf.IsDeleted,
			&cf.GmtCreated, &cf.GmtModified,
		)
		if err != nil {
			return nil, fmt.Errorf("scan custom field: %w", err)
		}
		fields = append(fields, &cf)
	}
	return fields, rows.Err()
}

func (s *PGCatalog) CheckNewPermission(ctx context.Context, username string, workflowID int64) (bool, error) {
	w, err := s.WorkflowByID(ctx, workflowID)
	if err != nil {
		return false, err
	}
	rule, err := w.LimitRule()
	if err != nil {
		return false, err
	}
	if rule.Count <= 0 || rule.Period <= 0 {
		return true, nil
	}

	since := time.Now().Add(-time.Duration(rule.Period) * time.Hour)
	var n int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_record
		WHERE creator = $1 AND workflow_id = $2 AND gmt_created >= $3
		AND is_deleted = FALSE`, username, workflowID, since).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count recent tickets: %w", err)
	}
	return n < rule.Count, nil
}

const stateColumns = `id, workflow_id, name, is_hidden, order_id,
	participant_type_id, participant, state_field_str, is_deleted,
	gmt_created, gmt_modified`

const transitionColumns = `id, workflow_id, name, source_state_id,
	destination_state_id, order_id, is_deleted, gmt_created, gmt_modified`

func (s *PGCatalog) scanOneState(ctx context.Context, query string, args ...any) (*State, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query state: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanState(rows)
}

func scanState(rows pgx.Rows) (*State, error) {
	var st State
	var fieldStr string
	err := rows.Scan(
		&st.ID, &st.WorkflowID, &st.Name, &st.IsHidden, &st.OrderID,
		&st.ParticipantTypeID, &st.Participant, &fieldStr, &st.IsDeleted,
		&st.GmtCreated, &st.GmtModified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	st.Fields, err = ParseStateFields(fieldStr)
	if err != nil {
		return nil, fmt.Errorf("state %d: %w", st.ID, err)
	}
	return &st, nil
}

func scanTransition(rows pgx.Rows) (*Transition, error) {
	var tr Transition
	err := rows.Scan(
		&tr.ID, &tr.WorkflowID, &tr.Name, &tr.SourceStateID,
		&tr.DestinationStateID, &tr.OrderID, &tr.IsDeleted,
		&tr.GmtCreated, &tr.GmtModified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan transition: %w", err)
	}
	return &tr, nil
}

func scanWorkflow(rows pgx.Rows) (*Workflow, error) {
	var w Workflow
	var displayForm string
	err := rows.Scan(
		&w.ID, &w.Name, &w.Description, &displayForm,
		&w.ViewPermissionCheck, &w.LimitExpression, &w.IsDeleted,
		&w.GmtCreated, &w.GmtModified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	w.DisplayFormFields, err = ParseDisplayForm(displayForm)
	if err != nil {
		return nil, fmt.Errorf("workflow %d: %w", w.ID, err)
	}
	return &w, nil
}
