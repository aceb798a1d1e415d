package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteCatalog implements Catalog backed by SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

func (s *SQLiteCatalog) WorkflowByID(ctx context.Context, id int64) (*Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, display_form_str,
		view_permission_check, limit_expression, is_deleted, gmt_created, gmt_modified
		FROM workflow_record WHERE id = ? AND is_deleted = 0`, id)
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
	return scanSQLiteWorkflow(rows)
}

func (s *SQLiteCatalog) StateByID(ctx context.Context, id int64) (*State, error) {
	return s.scanOneState(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE id = ? AND is_deleted = 0`, id)
}

func (s *SQLiteCatalog) StartState(ctx context.Context, workflowID int64) (*State, error) {
	return s.scanOneState(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE workflow_id = ? AND is_deleted = 0
		ORDER BY order_id, id LIMIT 1`, workflowID)
}

func (s *SQLiteCatalog) WorkflowStates(ctx context.Context, workflowID int64) ([]*State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE workflow_id = ? AND is_deleted = 0 ORDER BY order_id, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	defer rows.Close()

	var states []*State
	for rows.Next() {
		st, err := scanSQLiteState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *SQLiteCatalog) StatesByIDs(ctx context.Context, ids []int64) (map[int64]*State, error) {
	out := make(map[int64]*State, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM workflow_state
		WHERE id IN (`+sqlitePlaceholders(len(ids))+`) AND is_deleted = 0`, args...)
	if err != nil {
		return nil, fmt.Errorf("query states by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanSQLiteState(rows)
		if err != nil {
			return nil, err
		}
		out[st.ID] = st
	}
	return out, rows.Err()
}

func (s *SQLiteCatalog) StateTransitions(ctx context.Context, stateID int64) ([]*Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transitionColumns+` FROM workflow_transition
		WHERE source_state_id = ? AND is_deleted = 0 ORDER BY order_id, id`, stateID)
	if err != nil {
		return nil, fmt.Errorf("list state transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*Transition
	for rows.Next() {
		tr, err := scanSQLiteTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

func (s *SQLiteCatalog) TransitionByID(ctx context.Context, id int64) (*Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transitionColumns+` FROM workflow_transition
		WHERE id = ? AND is_deleted = 0`, id)
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
	return scanSQLiteTransition(rows)
}

func (s *SQLiteCatalog) FieldSchema(ctx context.Context, workflowID int64) ([]*CustomField, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, workflow_id, field_key, field_name,
		field_type_id, order_id, field_choice, is_deleted, gmt_created, gmt_modified
		FROM workflow_custom_field
		WHERE workflow_id = ? AND is_deleted = 0 ORDER BY order_id, field_key`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list field schema: %w", err)
	}
	defer rows.Close()

	var fields []*CustomField
	for rows.Next() {
		var cf CustomField
		var created, modified string
		err := rows.Scan(
			&cf.ID, &cf.WorkflowID, &cf.FieldKey, &cf.FieldName,
			&cf.FieldTypeID, &cf.OrderID, &cf.FieldChoice, &cf.IsDeleted,
			&created, &modified,
		)
		if err != nil {
			return nil, fmt.Errorf("scan custom field: %w", err)
		}
		if cf.GmtCreated, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		if cf.GmtModified, err = parseSQLiteTime(modified); err != nil {
			return nil, err
		}
		fields = append(fields, &cf)
	}
	return fields, rows.Err()
}

func (s *SQLiteCatalog) CheckNewPermission(ctx context.Context, username string, workflowID int64) (bool, error) {
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
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_record
		WHERE creator = ? AND workflow_id = ? AND gmt_created >= ?
		AND is_deleted = 0`, username, workflowID, formatSQLiteTime(since)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count recent tickets: %w", err)
	}
	return n < rule.Count, nil
}

func (s *SQLiteCatalog) scanOneState(ctx context.Context, query string, args ...any) (*State, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return scanSQLiteState(rows)
}

func scanSQLiteState(rows *sql.Rows) (*State, error) {
	var st State
	var fieldStr, created, modified string
	err := rows.Scan(
		&st.ID, &st.WorkflowID, &st.Name, &st.IsHidden, &st.OrderID,
		&st.ParticipantTypeID, &st.Participant, &fieldStr, &st.IsDeleted,
		&created, &modified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	if st.Fields, err = ParseStateFields(fieldStr); err != nil {
		return nil, fmt.Errorf("state %d: %w", st.ID, err)
	}
	if st.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if st.GmtModified, err = parseSQLiteTime(modified); err != nil {
		return nil, err
	}
	return &st, nil
}

func scanSQLiteTransition(rows *sql.Rows) (*Transition, error) {
	var tr Transition
	var created, modified string
	err := rows.Scan(
		&tr.ID, &tr.WorkflowID, &tr.Name, &tr.SourceStateID,
		&tr.DestinationStateID, &tr.OrderID, &tr.IsDeleted,
		&created, &modified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan transition: %w", err)
	}
	if tr.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if tr.GmtModified, err = parseSQLiteTime(modified); err != nil {
		return nil, err
	}
	return &tr, nil
}

func scanSQLiteWorkflow(rows *sql.Rows) (*Workflow, error) {
	var w Workflow
	var displayForm, created, modified string
	err := rows.Scan(
		&w.ID, &w.Name, &w.Description, &displayForm,
		&w.ViewPermissionCheck, &w.LimitExpression, &w.IsDeleted,
		&created, &modified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	if w.DisplayFormFields, err = ParseDisplayForm(displayForm); err != nil {
		return nil, fmt.Errorf("workflow %d: %w", w.ID, err)
	}
	if w.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if w.GmtModified, err = parseSQLiteTime(modified); err != nil {
		return nil, err
	}
	return &w, nil
}
