package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteFlowLogStore implements FlowLogStore backed by SQLite.
type SQLiteFlowLogStore struct {
	db *sql.DB
}

func (s *SQLiteFlowLogStore) CountForTicket(ctx context.Context, ticketID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticket_flow_log
		WHERE ticket_id = ? AND is_deleted = 0`, ticketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count flow entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteFlowLogStore) ListForTicket(ctx context.Context, ticketID int64, p Pagination) ([]*FlowEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPagination().Limit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+flowEntryColumns+` FROM ticket_flow_log
		WHERE ticket_id = ? AND is_deleted = 0
		ORDER BY id DESC LIMIT ? OFFSET ?`, ticketID, limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list flow entries: %w", err)
	}
	defer rows.Close()
	return collectSQLiteFlowEntries(rows)
}

func (s *SQLiteFlowLogStore) AllForTicket(ctx context.Context, ticketID int64) ([]*FlowEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+flowEntryColumns+` FROM ticket_flow_log
		WHERE ticket_id = ? AND is_deleted = 0 ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list flow entries: %w", err)
	}
	defer rows.Close()
	return collectSQLiteFlowEntries(rows)
}

func collectSQLiteFlowEntries(rows *sql.Rows) ([]*FlowEntry, error) {
	var entries []*FlowEntry
	for rows.Next() {
		var e FlowEntry
		var created string
		err := rows.Scan(
			&e.ID, &e.TicketID, &e.StateID, &e.TransitionID,
			&e.ParticipantTypeID, &e.Participant, &e.Suggestion, &e.IsDeleted, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("scan flow entry: %w", err)
		}
		if e.GmtCreated, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
