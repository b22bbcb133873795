package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/repository"
)

// Compile-time check that *DB implements repository.UserRepository.
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, github_id, login, email, avatar_url, created_at, updated_at`

// scanUser reads one row selected with userColumns. Timestamps use the same
// text layout as snippet dates.
func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                model.User
		created, updated string
	)
	if err := row.Scan(&u.ID, &u.GitHubID, &u.Login, &u.Email, &u.AvatarURL, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if u.CreatedAt, err = time.Parse(dateLayout, created); err != nil {
		return nil, fmt.Errorf("decoding created_at of user %s: %w", u.ID, err)
	}
	if u.UpdatedAt, err = time.Parse(dateLayout, updated); err != nil {
		return nil, fmt.Errorf("decoding updated_at of user %s: %w", u.ID, err)
	}
	return &u, nil
}

// Upsert inserts a user on first login and refreshes the profile on later
// ones. The internal id and created_at never change once assigned; the
// stored row is read back into user.
//
// ON CONFLICT ... DO UPDATE:
// github_id is UNIQUE, so the INSERT either creates the row or turns into an
// UPDATE of the profile columns. excluded.<col> is the value the INSERT
// tried to write. The freshly generated xid is simply discarded on conflict,
// which is why the row is read back instead of trusting user.ID.
func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	now := encodeDate(time.Now())

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(github_id) DO UPDATE SET
			login = excluded.login,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
		xid.New().String(),
		user.GitHubID,
		user.Login,
		user.Email,
		user.AvatarURL,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting user (githubID=%d): %w", user.GitHubID, err)
	}

	stored, err := db.GetUserByGitHubID(ctx, user.GitHubID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

// GetUserByID returns apperror.ErrNotFound if no user has that id.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByGitHubID looks a user up by the stable GitHub id.
func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
		}
		return nil, fmt.Errorf("sqlite: getting user by github_id %d: %w", githubID, err)
	}
	return u, nil
}
