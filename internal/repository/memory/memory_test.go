package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/repository"
)

func TestSnippetLifecycle(t *testing.T) {
	ctx := context.Background()
	r := New()
	day := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

	a := &model.Snippet{Title: "a", Content: "x", Language: model.CSS, UserID: "u1", Date: day}
	b := &model.Snippet{Title: "b", Content: "y", Language: model.HTML, UserID: "u1", Date: day.Add(time.Hour), Tags: []string{"z", "z"}}
	c := &model.Snippet{Title: "c", Content: "z", Language: model.HTML, UserID: "u2"}
	for _, s := range []*model.Snippet{a, b, c} {
		require.NoError(t, r.Create(ctx, s))
		require.NotEmpty(t, s.ID)
	}
	assert.Equal(t, []string{"z"}, b.Tags)
	assert.False(t, c.Date.IsZero())

	list, err := r.ListByUser(ctx, "u1", repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID, "newest first")

	page, err := r.ListByUser(ctx, "u1", repository.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, page[0].ID)

	updated, err := r.Update(ctx, a.ID, model.Patch{Title: model.Ptr("a2")})
	require.NoError(t, err)
	assert.Equal(t, "a2", updated.Title)
	assert.True(t, updated.Date.Equal(day))

	require.NoError(t, r.Delete(ctx, a.ID))
	_, err = r.GetByID(ctx, a.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	assert.True(t, errors.Is(r.Delete(ctx, a.ID), apperror.ErrNotFound))

	_, err = r.Update(ctx, a.ID, model.Patch{Title: model.Ptr("x")})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := New()
	s := &model.Snippet{Title: "a", Content: "x", Language: model.CSS, UserID: "u1", Tags: []string{"t"}}
	require.NoError(t, r.Create(ctx, s))

	got, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	got.Tags[0] = "mutated"

	again, err := r.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, again.Tags)
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	r := New()

	first := &model.User{GitHubID: 7, Login: "old"}
	require.NoError(t, r.Upsert(ctx, first))

	second := &model.User{GitHubID: 7, Login: "new"}
	require.NoError(t, r.Upsert(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	got, err := r.GetUserByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Login)

	_, err = r.GetUserByID(ctx, "nope")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
