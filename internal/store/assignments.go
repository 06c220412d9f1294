package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/shared"
)

// HasAssignments reports whether any assignments are cached for the user.
func (s *SQLiteStore) HasAssignments(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM assignments WHERE user_id = ?)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check cached assignments: %w", err)
	}
	return exists, nil
}

// ListAssignments returns the user's cached assignments by due date, undated last.
func (s *SQLiteStore) ListAssignments(ctx context.Context, userID string) ([]domain.Assignment, error) {
	query := `
		SELECT assignment_id, title, course_name, course_code, due_at, description,
		       points_possible, submission_types, html_url, completed, source
		FROM assignments WHERE user_id = ?
		ORDER BY due_at IS NULL, due_at, assignment_id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close assignment rows", "error", closeErr)
		}
	}()

	var items []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var courseName, courseCode, description, submissionTypes, htmlURL sql.NullString
		var dueAt sql.NullInt64
		var points sql.NullFloat64
		var source string

		if err := rows.Scan(
			&a.ID, &a.Title, &courseName, &courseCode, &dueAt, &description,
			&points, &submissionTypes, &htmlURL, &a.Completed, &source,
		); err != nil {
			return nil, fmt.Errorf("scan assignment row: %w", err)
		}

		a.CourseName = courseName.String
		a.CourseCode = courseCode.String
		a.Description = description.String
		a.HTMLURL = htmlURL.String
		a.Source = domain.Source(source)
		if dueAt.Valid {
			ts := time.Unix(dueAt.Int64, 0).UTC()
			a.DueAt = &ts
		}
		if points.Valid {
			p := points.Float64
			a.PointsPossible = &p
		}
		if submissionTypes.String != "" {
			a.SubmissionTypes = strings.Split(submissionTypes.String, ",")
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}

	return items, nil
}

// ReplaceAssignments deletes the user's cached assignments and inserts items
// in a single transaction, so readers never see a partial set.
func (s *SQLiteStore) ReplaceAssignments(ctx context.Context, userID string, items []domain.Assignment) error {
	insert := `
	INSERT INTO assignments (user_id, assignment_id, title, course_name, course_code,
		due_at, description, points_possible, submission_types, html_url,
		completed, source, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, assignment_id) DO UPDATE SET
		title = excluded.title,
		course_name = excluded.course_name,
		course_code = excluded.course_code,
		due_at = excluded.due_at,
		description = excluded.description,
		points_possible = excluded.points_possible,
		submission_types = excluded.submission_types,
		html_url = excluded.html_url,
		completed = excluded.completed,
		source = excluded.source,
		fetched_at = excluded.fetched_at`

	fetchedAt := s.now().Unix()

	err := shared.RetryOnConflict(ctx, s.backoff, "replace_assignments", func() error {
		return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE user_id = ?`, userID); err != nil {
				return fmt.Errorf("delete cached assignments: %w", err)
			}
			for _, a := range items {
				var points any
				if a.PointsPossible != nil {
					points = *a.PointsPossible
				}
				source := a.Source
				if source == "" {
					source = domain.SourceCanvas
				}
				if _, err := tx.ExecContext(ctx, insert,
					userID, a.ID, a.Title, nullString(a.CourseName), nullString(a.CourseCode),
					nullTime(a.DueAt), nullString(a.Description), points,
					nullString(strings.Join(a.SubmissionTypes, ",")), nullString(a.HTMLURL),
					a.Completed, string(source), fetchedAt,
				); err != nil {
					return fmt.Errorf("insert assignment %s: %w", a.ID, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("replace assignments: %w", err)
	}
	return nil
}
