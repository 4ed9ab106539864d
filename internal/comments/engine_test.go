package comments

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/store"
)

// memStore is an in-memory commentStore preserving insertion order.
type memStore struct {
	articles map[string]store.Article
	comments []store.Comment
	clock    time.Time
}

func newMemStore() *memStore {
	return &memStore{
		articles: make(map[string]store.Article),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) addArticle(id, authorID string) {
	m.articles[id] = store.Article{ID: id, AuthorID: authorID, Title: "t"}
}

func (m *memStore) GetArticle(_ context.Context, articleID string) (store.Article, error) {
	article, ok := m.articles[articleID]
	if !ok {
		return store.Article{}, sql.ErrNoRows
	}
	return article, nil
}

func (m *memStore) InsertComment(_ context.Context, comment store.Comment) error {
	m.clock = m.clock.Add(time.Second)
	comment.CreatedAt = m.clock
	comment.UpdatedAt = m.clock
	m.comments = append(m.comments, comment)
	return nil
}

func (m *memStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	for _, c := range m.comments {
		if c.ID == commentID {
			return c, nil
		}
	}
	return store.Comment{}, sql.ErrNoRows
}

func (m *memStore) ListCommentsByArticle(_ context.Context, articleID string) ([]store.Comment, error) {
	items := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.ArticleID == articleID {
			items = append(items, c)
		}
	}
	return items, nil
}

func (m *memStore) ListCommentsByParent(_ context.Context, parentID string) ([]store.Comment, error) {
	items := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.ParentID != nil && *c.ParentID == parentID {
			items = append(items, c)
		}
	}
	return items, nil
}

func (m *memStore) UpdateCommentText(_ context.Context, commentID, text string) error {
	for i := range m.comments {
		if m.comments[i].ID == commentID {
			m.comments[i].Text = text
			m.comments[i].UpdatedAt = m.comments[i].UpdatedAt.Add(time.Second)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) DeleteComment(_ context.Context, commentID string) error {
	for i := range m.comments {
		if m.comments[i].ID == commentID {
			m.comments = append(m.comments[:i], m.comments[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func newEngine(t *testing.T) (*Engine, *memStore) {
	t.Helper()
	ms := newMemStore()
	return New(ms, zerolog.Nop()), ms
}

func TestCreateTopLevelComment(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")

	comment, err := e.Create(context.Background(), "nice post", "u2", "a1", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if comment.ID == "" || comment.Text != "nice post" || comment.ParentID != nil {
		t.Fatalf("unexpected comment: %+v", comment)
	}
}

func TestCreateRejectsEmptyText(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")

	if _, err := e.Create(context.Background(), "   ", "u2", "a1", nil); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestCreateRejectsMissingArticle(t *testing.T) {
	e, _ := newEngine(t)
	if _, err := e.Create(context.Background(), "hello", "u2", "nope", nil); !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}

func TestCreateRejectsMissingParent(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")
	parent := "ghost"
	if _, err := e.Create(context.Background(), "hello", "u2", "a1", &parent); !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
}

func TestCreateRejectsParentFromOtherArticle(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")
	ms.addArticle("a2", "author-1")

	parent, err := e.Create(context.Background(), "on a1", "u2", "a1", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := e.Create(context.Background(), "reply", "u3", "a2", &parent.ID); !errors.Is(err, ErrWrongArticle) {
		t.Fatalf("expected ErrWrongArticle, got %v", err)
	}
}

func TestUpdateIsAuthorOnly(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")
	comment, _ := e.Create(context.Background(), "original", "u2", "a1", nil)

	if _, err := e.Update(context.Background(), comment.ID, "hacked", "u3"); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}

	updated, err := e.Update(context.Background(), comment.ID, "edited", "u2")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Text != "edited" {
		t.Fatalf("text = %q, want edited", updated.Text)
	}
}

func TestUpdateMissingComment(t *testing.T) {
	e, _ := newEngine(t)
	if _, err := e.Update(context.Background(), "ghost", "text", "u1"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

// buildThread creates root -> two replies, one grand-reply under the first
// reply, plus an unrelated top-level comment. Returns ids in that order.
func buildThread(t *testing.T, e *Engine) (root, r1, r2, grand, other string) {
	t.Helper()
	ctx := context.Background()
	rootC, err := e.Create(ctx, "root", "u1", "a1", nil)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	r1C, err := e.Create(ctx, "reply 1", "u2", "a1", &rootC.ID)
	if err != nil {
		t.Fatalf("create reply 1: %v", err)
	}
	r2C, err := e.Create(ctx, "reply 2", "u3", "a1", &rootC.ID)
	if err != nil {
		t.Fatalf("create reply 2: %v", err)
	}
	grandC, err := e.Create(ctx, "grand reply", "u1", "a1", &r1C.ID)
	if err != nil {
		t.Fatalf("create grand reply: %v", err)
	}
	otherC, err := e.Create(ctx, "separate thread", "u3", "a1", nil)
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	return rootC.ID, r1C.ID, r2C.ID, grandC.ID, otherC.ID
}

func TestDeleteCascadesThroughDescendants(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")
	root, r1, r2, grand, other := buildThread(t, e)

	if err := e.Delete(context.Background(), root, "u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	for _, id := range []string{root, r1, r2, grand} {
		if _, err := ms.GetComment(context.Background(), id); !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("comment %s should be gone", id)
		}
	}
	// No surviving comment may point at a deleted one.
	deleted := map[string]bool{root: true, r1: true, r2: true, grand: true}
	for _, c := range ms.comments {
		if c.ParentID != nil && deleted[*c.ParentID] {
			t.Fatalf("comment %s still references deleted parent %s", c.ID, *c.ParentID)
		}
	}
	// The unrelated thread is unaffected.
	if _, err := ms.GetComment(context.Background(), other); err != nil {
		t.Fatalf("unrelated comment was removed: %v", err)
	}
}

func TestDeleteIsAuthorOnly(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")
	root, _, _, _, _ := buildThread(t, e)

	if err := e.Delete(context.Background(), root, "someone-else"); !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected ErrNotAuthor, got %v", err)
	}
}

func TestDeleteMissingComment(t *testing.T) {
	e, _ := newEngine(t)
	if err := e.Delete(context.Background(), "ghost", "u1"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

func flatten(nodes []*Node) []string {
	ids := make([]string, 0)
	var walk func(*Node)
	walk = func(n *Node) {
		ids = append(ids, n.ID)
		for _, child := range n.Replies {
			walk(child)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return ids
}

func TestListByArticleBuildsForest(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")
	root, r1, r2, grand, other := buildThread(t, e)

	forest, err := e.ListByArticle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("ListByArticle() error = %v", err)
	}
	if len(forest) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(forest))
	}

	// The pre-order flattening carries exactly the input set.
	ids := flatten(forest)
	want := map[string]bool{root: true, r1: true, r2: true, grand: true, other: true}
	if len(ids) != len(want) {
		t.Fatalf("flattened %d comments, want %d", len(ids), len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected id %s in forest", id)
		}
	}

	// Every non-root sits under its true parent.
	if forest[0].ID != root {
		t.Fatalf("first root = %s, want %s (creation order)", forest[0].ID, root)
	}
	if len(forest[0].Replies) != 2 || forest[0].Replies[0].ID != r1 || forest[0].Replies[1].ID != r2 {
		t.Fatalf("replies of root misplaced: %+v", forest[0].Replies)
	}
	if len(forest[0].Replies[0].Replies) != 1 || forest[0].Replies[0].Replies[0].ID != grand {
		t.Fatal("grand reply not nested under reply 1")
	}
}

func TestListByArticleTreatsDanglingParentAsRoot(t *testing.T) {
	e, ms := newEngine(t)
	ms.addArticle("a1", "author-1")

	ghost := "ghost-parent"
	ms.comments = append(ms.comments, store.Comment{
		ID: "orphan", Text: "orphan", AuthorID: "u1", ArticleID: "a1", ParentID: &ghost,
	})

	forest, err := e.ListByArticle(context.Background(), "a1")
	if err != nil {
		t.Fatalf("ListByArticle() must not fail on dangling parents: %v", err)
	}
	if len(forest) != 1 || forest[0].ID != "orphan" {
		t.Fatalf("orphan should surface as a root, got %+v", forest)
	}
}

func TestListByArticleMissingArticle(t *testing.T) {
	e, _ := newEngine(t)
	if _, err := e.ListByArticle(context.Background(), "nope"); !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}
