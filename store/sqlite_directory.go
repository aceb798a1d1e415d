package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteDirectory implements Directory backed by SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

func (s *SQLiteDirectory) UserByName(ctx context.Context, username string) (*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, alias, email, dept_id,
		is_deleted, gmt_created, gmt_modified FROM account_user
		WHERE username = ? AND is_deleted = 0`, username)
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query user: %w", err)
		}
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	var u User
	var created, modified string
	err = rows.Scan(&u.ID, &u.Username, &u.Alias, &u.Email, &u.DeptID,
		&u.IsDeleted, &created, &modified)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if u.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if u.GmtModified, err = parseSQLiteTime(modified); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteDirectory) UpDeptIDs(ctx context.Context, username string) ([]int64, error) {
	u, err := s.UserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.DeptID == 0 {
		return nil, nil
	}

	var ids []int64
	seen := map[int64]bool{}
	deptID := u.DeptID
	for range maxDeptDepth {
		if deptID == 0 || seen[deptID] {
			break
		}
		d, err := s.deptByID(ctx, deptID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		seen[deptID] = true
		ids = append(ids, d.ID)
		deptID = d.ParentDeptID
	}
	return ids, nil
}

func (s *SQLiteDirectory) RoleIDs(ctx context.Context, username string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ur.role_id FROM account_user_role ur
		JOIN account_user u ON u.id = ur.user_id
		WHERE u.username = ? AND u.is_deleted = 0 AND ur.is_deleted = 0
		ORDER BY ur.role_id`, username)
	if err != nil {
		return nil, fmt.Errorf("query role ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteDirectory) DeptUsernames(ctx context.Context, deptID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM account_user
		WHERE dept_id = ? AND is_deleted = 0 ORDER BY id`, deptID)
	if err != nil {
		return nil, fmt.Errorf("query dept usernames: %w", err)
	}
	defer rows.Close()
	return collectSQLiteUsernames(rows)
}

func (s *SQLiteDirectory) RoleUsernames(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT u.username FROM account_user u
		JOIN account_user_role ur ON ur.user_id = u.id
		WHERE ur.role_id = ? AND u.is_deleted = 0 AND ur.is_deleted = 0
		ORDER BY u.id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("query role usernames: %w", err)
	}
	defer rows.Close()
	return collectSQLiteUsernames(rows)
}

func (s *SQLiteDirectory) DeptApprover(ctx context.Context, username string) (string, error) {
	u, err := s.UserByName(ctx, username)
	if err != nil {
		return "", err
	}

	seen := map[int64]bool{}
	deptID := u.DeptID
	for range maxDeptDepth {
		if deptID == 0 || seen[deptID] {
			break
		}
		d, err := s.deptByID(ctx, deptID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return "", err
		}
		if d.Approver != "" {
			return d.Approver, nil
		}
		seen[deptID] = true
		deptID = d.ParentDeptID
	}
	return "", nil
}

func (s *SQLiteDirectory) deptByID(ctx context.Context, id int64) (*Dept, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_dept_id, leader, approver,
		is_deleted, gmt_created, gmt_modified FROM account_dept
		WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return nil, fmt.Errorf("query dept: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query dept: %w", err)
		}
		return nil, fmt.Errorf("%w: dept %d", ErrNotFound, id)
	}
	var d Dept
	var created, modified string
	err = rows.Scan(&d.ID, &d.Name, &d.ParentDeptID, &d.Leader, &d.Approver,
		&d.IsDeleted, &created, &modified)
	if err != nil {
		return nil, fmt.Errorf("scan dept: %w", err)
	}
	if d.GmtCreated, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if d.GmtModified, err = parseSQLiteTime(modified); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectSQLiteUsernames(rows *sql.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
