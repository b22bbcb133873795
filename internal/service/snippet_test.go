package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/metrics"
	"github.com/sakif/snippetvault/internal/model"
	"github.com/sakif/snippetvault/internal/remote"
	"github.com/sakif/snippetvault/internal/repository"
)

// =========================================================================
// MOCK COLLECTION
// =========================================================================
//
// mockCollection implements Collection over a map. It records the patches it
// receives so tests can check that only changed fields reach storage, and
// createErr simulates a storage failure.

type mockCollection struct {
	snippets  map[string]model.Snippet
	nextID    int
	patches   []model.Patch
	createErr error
}

func newMockCollection() *mockCollection {
	return &mockCollection{snippets: make(map[string]model.Snippet)}
}

func (m *mockCollection) Subscribe(_ context.Context, userID string, onChange remote.ChangeFunc) (remote.Unsubscribe, error) {
	for _, s := range m.snippets {
		if s.UserID == userID {
			onChange(remote.AddedEvent(s))
		}
	}
	return func() {}, nil
}

func (m *mockCollection) Create(_ context.Context, s model.Snippet) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	m.nextID++
	s.ID = fmt.Sprintf("mock-%d", m.nextID)
	m.snippets[s.ID] = s.Clone()
	return s.ID, nil
}

func (m *mockCollection) Update(_ context.Context, id string, patch model.Patch) error {
	s, ok := m.snippets[id]
	if !ok {
		return apperror.NotFound("snippet", id)
	}
	m.patches = append(m.patches, patch)
	m.snippets[id] = patch.Apply(s)
	return nil
}

func (m *mockCollection) Delete(_ context.Context, id string) error {
	if _, ok := m.snippets[id]; !ok {
		return apperror.NotFound("snippet", id)
	}
	delete(m.snippets, id)
	return nil
}

func (m *mockCollection) GetByID(_ context.Context, id string) (*model.Snippet, error) {
	s, ok := m.snippets[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	s = s.Clone()
	return &s, nil
}

func (m *mockCollection) ListByUser(_ context.Context, userID string, opts repository.ListOptions) ([]model.Snippet, error) {
	list := []model.Snippet{}
	for _, s := range m.snippets {
		if s.UserID == userID {
			list = append(list, s.Clone())
		}
	}
	if opts.Offset >= len(list) {
		return []model.Snippet{}, nil
	}
	list = list[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(list) {
		list = list[:opts.Limit]
	}
	return list, nil
}

// =========================================================================
// TEST HELPERS
// =========================================================================

var fixedNow = time.Date(2024, 5, 15, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*SnippetService, *mockCollection) {
	t.Helper()
	coll := newMockCollection()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewSnippetService(coll, logger, WithClock(func() time.Time { return fixedNow }))
	return svc, coll
}

func loopDraft() model.Draft {
	return model.Draft{
		Title:    "Loop",
		Content:  "for x in range(3): print(x)",
		Language: model.Python,
		Tags:     []string{"loops", " basics "},
	}
}

func mustCreate(t *testing.T, svc *SnippetService, userID string) *model.Snippet {
	t.Helper()
	s, err := svc.Create(context.Background(), userID, loopDraft(), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate_Success(t *testing.T) {
	svc, coll := newTestService(t)

	snippet, err := svc.Create(context.Background(), "user-a", loopDraft(), "tok-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if snippet.ID == "" {
		t.Error("expected snippet to have an ID")
	}
	if snippet.UserID != "user-a" {
		t.Errorf("UserID = %q, want %q", snippet.UserID, "user-a")
	}
	if !snippet.Date.Equal(fixedNow) {
		t.Errorf("Date = %v, want creation time %v", snippet.Date, fixedNow)
	}
	if got := strings.Join(snippet.Tags, ","); got != "basics,loops" {
		t.Errorf("Tags = %q, want normalized %q", got, "basics,loops")
	}

	stored := coll.snippets[snippet.ID]
	if stored.ClientToken != "tok-1" {
		t.Errorf("stored ClientToken = %q, want %q", stored.ClientToken, "tok-1")
	}
}

func TestCreate_KeepsSuppliedDate(t *testing.T) {
	svc, _ := newTestService(t)

	d := loopDraft()
	d.Date = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	snippet, err := svc.Create(context.Background(), "user-a", d, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !snippet.Date.Equal(d.Date) {
		t.Errorf("Date = %v, want %v", snippet.Date, d.Date)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *model.Draft)
	}{
		{"empty title", func(d *model.Draft) { d.Title = "" }},
		{"whitespace title", func(d *model.Draft) { d.Title = "   " }},
		{"title too long", func(d *model.Draft) { d.Title = strings.Repeat("a", model.MaxTitleLength+1) }},
		{"empty content", func(d *model.Draft) { d.Content = "" }},
		{"unknown language", func(d *model.Draft) { d.Language = "cobol" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, coll := newTestService(t)
			d := loopDraft()
			tt.mutate(&d)

			_, err := svc.Create(context.Background(), "user-a", d, "")
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
			if len(coll.snippets) != 0 {
				t.Errorf("invalid draft was stored")
			}
		})
	}
}

func TestCreate_RequiresUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), "", loopDraft(), "")
	if !errors.Is(err, apperror.ErrAuthRequired) {
		t.Errorf("error = %v, want ErrAuthRequired", err)
	}
}

func TestCreate_StorageError(t *testing.T) {
	svc, coll := newTestService(t)
	coll.createErr = errors.New("disk full")

	_, err := svc.Create(context.Background(), "user-a", loopDraft(), "")
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error = %v, want wrapped storage error", err)
	}
}

// =========================================================================
// GET BY ID / LIST TESTS
// =========================================================================

func TestGetByID_Success(t *testing.T) {
	svc, _ := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	found, err := svc.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Title != "Loop" {
		t.Errorf("Title = %q, want %q", found.Title, "Loop")
	}
}

func TestGetByID_Errors(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		id   string
		want error
	}{
		{"empty", "  ", apperror.ErrValidation},
		{"unknown", "nope", apperror.ErrNotFound},
		{"placeholder", model.PlaceholderPrefix + "tok", apperror.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetByID(context.Background(), tt.id)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestList_OnlyOwnSnippets(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "user-a")
	mustCreate(t, svc, "user-a")
	mustCreate(t, svc, "user-b")

	list, err := svc.List(context.Background(), "user-a", 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	for _, s := range list {
		if s.UserID != "user-a" {
			t.Errorf("List() leaked snippet of %q", s.UserID)
		}
	}
}

func TestList_ClampsBadValues(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "user-a")

	list, err := svc.List(context.Background(), "user-a", -5, -10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}

	if _, err := svc.List(context.Background(), "", 10, 0); !errors.Is(err, apperror.ErrAuthRequired) {
		t.Errorf("anonymous List() error = %v, want ErrAuthRequired", err)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUpdate_SendsOnlyChangedFields(t *testing.T) {
	svc, coll := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	updated, err := svc.Update(context.Background(), "user-a", created.ID, model.Patch{
		Title:   model.Ptr("Loop 2"),
		Content: model.Ptr(created.Content),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "Loop 2" {
		t.Errorf("Title = %q, want %q", updated.Title, "Loop 2")
	}
	if !updated.Date.Equal(created.Date) {
		t.Errorf("Date changed on edit: %v -> %v", created.Date, updated.Date)
	}

	if len(coll.patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(coll.patches))
	}
	if got := coll.patches[0].Fields(); len(got) != 1 || got[0] != "title" {
		t.Errorf("patch fields = %v, want [title]", got)
	}
}

func TestUpdate_NoChangeSkipsStorage(t *testing.T) {
	svc, coll := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	_, err := svc.Update(context.Background(), "user-a", created.ID, model.Patch{Title: model.Ptr(" Loop ")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(coll.patches) != 0 {
		t.Errorf("storage received %d patches, want 0", len(coll.patches))
	}
}

func TestUpdate_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Update(context.Background(), "user-a", "nonexistent", model.Patch{Title: model.Ptr("x")})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestUpdate_WrongOwner ensures a caller who doesn't own the snippet gets ErrForbidden.
func TestUpdate_WrongOwner(t *testing.T) {
	svc, coll := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	_, err := svc.Update(context.Background(), "user-b", created.ID, model.Patch{Title: model.Ptr("hack")})
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}
	if coll.snippets[created.ID].Title != "Loop" {
		t.Error("snippet was modified by a non-owner")
	}
}

func TestUpdate_InvalidPatch(t *testing.T) {
	svc, _ := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	_, err := svc.Update(context.Background(), "user-a", created.ID, model.Patch{Language: model.Ptr(model.Language("go"))})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

// =========================================================================
// DELETE TESTS
// =========================================================================

func TestDelete_Success(t *testing.T) {
	svc, _ := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	if err := svc.Delete(context.Background(), "user-a", created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := svc.GetByID(context.Background(), created.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("after delete: error = %v, want ErrNotFound", err)
	}
}

func TestDelete_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	tests := []struct {
		name   string
		userID string
		id     string
		want   error
	}{
		{"empty id", "user-a", "", apperror.ErrValidation},
		{"unknown id", "user-a", "nope", apperror.ErrNotFound},
		{"wrong owner", "user-b", created.ID, apperror.ErrForbidden},
		{"anonymous", "", created.ID, apperror.ErrAuthRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Delete(context.Background(), tt.userID, tt.id)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =========================================================================
// METRICS / SUBSCRIBE
// =========================================================================

func TestMutationsAreCounted(t *testing.T) {
	coll := newMockCollection()
	_, m := metrics.NewRegistry()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewSnippetService(coll, logger, WithMetrics(m))

	created := mustCreate(t, svc, "user-a")
	_ = svc.Delete(context.Background(), "user-b", created.ID)
	_ = svc.Delete(context.Background(), "user-a", created.ID)

	body := scrapeMetrics(t, m)
	for _, want := range []string{
		`snippetvault_snippet_mutations_total{op="create",result="ok"} 1`,
		`snippetvault_snippet_mutations_total{op="delete",result="error"} 1`,
		`snippetvault_snippet_mutations_total{op="delete",result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestSubscribe(t *testing.T) {
	svc, _ := newTestService(t)
	created := mustCreate(t, svc, "user-a")

	var got []remote.Event
	unsub, err := svc.Subscribe(context.Background(), "user-a", func(ev remote.Event) { got = append(got, ev) })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsub()

	if len(got) != 1 || got[0].ID != created.ID {
		t.Errorf("initial events = %+v, want one added event for %s", got, created.ID)
	}

	if _, err := svc.Subscribe(context.Background(), "", func(remote.Event) {}); !errors.Is(err, apperror.ErrAuthRequired) {
		t.Errorf("anonymous Subscribe() error = %v, want ErrAuthRequired", err)
	}
}
