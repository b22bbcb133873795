package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/repository"
)

// Compile-time check that *DB implements repository.SnippetRepository.
var _ repository.SnippetRepository = (*DB)(nil)

// COLUMN ENCODING:
// SQLite has no array or timestamp type, so two fields are stored as TEXT:
//
//	tags → a JSON array, e.g. ["loop","python"]; always normalized first
//	date → dateLayout in UTC, e.g. 2024-05-01T09:30:00.000Z
//
// A fixed-width UTC layout makes "ORDER BY date" on the text column the same
// as ordering by time. Every read normalizes again, so rows written by an
// older build still come out in the current shape.

// dateLayout is fixed-width UTC with milliseconds, so dates sort as text.
const dateLayout = "2006-01-02T15:04:05.000Z07:00"

const snippetColumns = `id, title, content, language, tags, date, user_id, client_token`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnippet reads one row selected with snippetColumns, in that order.
func scanSnippet(row rowScanner) (*model.Snippet, error) {
	var (
		s        model.Snippet
		language string
		tags     string
		date     string
	)
	if err := row.Scan(&s.ID, &s.Title, &s.Content, &language, &tags, &date, &s.UserID, &s.ClientToken); err != nil {
		return nil, err
	}
	s.Language = model.Language(language)

	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", s.ID, err)
	}
	s.Tags = model.NormalizeTags(s.Tags)

	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("decoding date of %s: %w", s.ID, err)
	}
	s.Date = model.NormalizeDate(t)
	return &s, nil
}

func encodeTags(tags []string) (string, error) {
	b, err := json.Marshal(model.NormalizeTags(tags))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeDate(t time.Time) string {
	return model.NormalizeDate(t).Format(dateLayout)
}

// Create inserts snippet under a new xid. xids are 20 URL-safe characters
// and sort by creation time, which keeps deep links short.
//
// The caller's snippet is updated in place: after Create it carries the ID
// and the normalized date and tags exactly as stored. client_token is stored
// as given so the change feed can hand it back to the creating client.
func (db *DB) Create(ctx context.Context, snippet *model.Snippet) error {
	snippet.ID = xid.New().String()
	if snippet.Date.IsZero() {
		snippet.Date = model.Now()
	}
	snippet.Date = model.NormalizeDate(snippet.Date)
	snippet.Tags = model.NormalizeTags(snippet.Tags)

	tags, err := encodeTags(snippet.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO snippets (`+snippetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snippet.ID,
		snippet.Title,
		snippet.Content,
		string(snippet.Language),
		tags,
		encodeDate(snippet.Date),
		snippet.UserID,
		snippet.ClientToken,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating snippet: %w", err)
	}

	return nil
}

// GetByID returns one snippet, or NotFound.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	s, err := scanSnippet(db.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, fmt.Errorf("sqlite: getting snippet %s: %w", id, err)
	}
	return s, nil
}

// ListByUser returns userID's snippets, newest date first. Ties are broken by
// id, which for xids means creation order.
func (db *DB) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error) {
	// === PAGINATION ===
	// LIMIT -1 is SQLite for "no limit"; the zero ListOptions means all rows.
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+snippetColumns+`
		 FROM snippets
		 WHERE user_id = ?
		 ORDER BY date DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets of %s: %w", userID, err)
	}
	defer rows.Close()

	// An empty list, not nil, so the JSON API answers [] instead of null.
	snippets := []model.Snippet{}
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snippet row: %w", err)
		}
		snippets = append(snippets, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snippets: %w", err)
	}

	return snippets, nil
}

// Update applies patch inside a transaction so concurrent patches of the same
// snippet cannot interleave between the read and the write.
//
// READ-MODIFY-WRITE:
// The patch only names the fields to change, so the current row is read,
// patch.Apply fills in the rest, and the whole row is written back. The
// owner and the client token are never part of a patch and are left alone.
//
// The deferred Rollback is a no-op once Commit has succeeded.
func (db *DB) Update(ctx context.Context, id string, patch model.Patch) (*model.Snippet, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning update of %s: %w", id, err)
	}
	defer tx.Rollback()

	cur, err := scanSnippet(tx.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, fmt.Errorf("sqlite: loading snippet %s: %w", id, err)
	}

	next := patch.Apply(*cur)
	tags, err := encodeTags(next.Tags)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE snippets
		 SET title = ?, content = ?, language = ?, tags = ?, date = ?
		 WHERE id = ?`,
		next.Title,
		next.Content,
		string(next.Language),
		tags,
		encodeDate(next.Date),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating snippet %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing update of %s: %w", id, err)
	}
	return &next, nil
}

// Delete removes one snippet, or returns NotFound.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM snippets WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting snippet %s: %w", id, err)
	}

	// DELETE of a missing row is not an SQL error; zero rows means NotFound.
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("snippet", id)
	}

	return nil
}
