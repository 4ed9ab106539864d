package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/comments"
	"github.com/mouhebsa/blog-collaborator/internal/config"
	"github.com/mouhebsa/blog-collaborator/internal/notify"
	"github.com/mouhebsa/blog-collaborator/internal/registry"
	"github.com/mouhebsa/blog-collaborator/internal/session"
	"github.com/mouhebsa/blog-collaborator/internal/store"
)

// memBackend is an in-memory stand-in for the Postgres store, shared by the
// service, the comment engine, and the dispatcher in handler tests.
type memBackend struct {
	mu            sync.Mutex
	users         map[string]store.User
	articles      map[string]store.Article
	comments      []store.Comment
	notifications []store.Notification
	clock         time.Time
}

func newMemBackend() *memBackend {
	return &memBackend{
		users:    make(map[string]store.User),
		articles: make(map[string]store.Article),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memBackend) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memBackend) Ping(context.Context) error { return nil }

func (m *memBackend) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.CreatedAt = m.tick()
	m.users[user.ID] = user
	return nil
}

func (m *memBackend) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memBackend) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memBackend) UserExists(_ context.Context, email, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email || user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBackend) ListUsers(context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]store.User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	return users, nil
}

func (m *memBackend) UpdateUserRoles(_ context.Context, userID string, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Roles = roles
	m.users[userID] = user
	return nil
}

func (m *memBackend) InsertArticle(_ context.Context, article store.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	article.CreatedAt = m.tick()
	article.UpdatedAt = article.CreatedAt
	if author, ok := m.users[article.AuthorID]; ok {
		article.AuthorName = author.Username
	}
	m.articles[article.ID] = article
	return nil
}

func (m *memBackend) GetArticle(_ context.Context, articleID string) (store.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	article, ok := m.articles[articleID]
	if !ok {
		return store.Article{}, sql.ErrNoRows
	}
	return article, nil
}

func (m *memBackend) ListArticles(context.Context) ([]store.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	articles := make([]store.Article, 0, len(m.articles))
	for _, article := range m.articles {
		articles = append(articles, article)
	}
	return articles, nil
}

func (m *memBackend) UpdateArticle(_ context.Context, article store.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.articles[article.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Title = article.Title
	existing.Content = article.Content
	existing.Tags = article.Tags
	existing.UpdatedAt = m.tick()
	m.articles[article.ID] = existing
	return nil
}

func (m *memBackend) SetArticleCover(_ context.Context, articleID, coverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	article, ok := m.articles[articleID]
	if !ok {
		return sql.ErrNoRows
	}
	article.CoverURL = coverURL
	m.articles[articleID] = article
	return nil
}

func (m *memBackend) DeleteArticle(_ context.Context, articleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[articleID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.articles, articleID)
	return nil
}

func (m *memBackend) InsertComment(_ context.Context, comment store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment.CreatedAt = m.tick()
	comment.UpdatedAt = comment.CreatedAt
	if author, ok := m.users[comment.AuthorID]; ok {
		comment.AuthorName = author.Username
	}
	m.comments = append(m.comments, comment)
	return nil
}

func (m *memBackend) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.comments {
		if c.ID == commentID {
			return c, nil
		}
	}
	return store.Comment{}, sql.ErrNoRows
}

func (m *memBackend) ListCommentsByArticle(_ context.Context, articleID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.ArticleID == articleID {
			items = append(items, c)
		}
	}
	return items, nil
}

func (m *memBackend) ListCommentsByParent(_ context.Context, parentID string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, c := range m.comments {
		if c.ParentID != nil && *c.ParentID == parentID {
			items = append(items, c)
		}
	}
	return items, nil
}

func (m *memBackend) UpdateCommentText(_ context.Context, commentID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.comments {
		if m.comments[i].ID == commentID {
			m.comments[i].Text = text
			m.comments[i].UpdatedAt = m.tick()
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memBackend) DeleteComment(_ context.Context, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.comments {
		if m.comments[i].ID == commentID {
			m.comments = append(m.comments[:i], m.comments[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memBackend) InsertNotification(_ context.Context, notification store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = m.tick()
	}
	m.notifications = append(m.notifications, notification)
	return nil
}

func (m *memBackend) ListNotificationsByUser(_ context.Context, userID string) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Newest first, like the ORDER BY created_at DESC in the real store.
	items := make([]store.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			items = append(items, m.notifications[i])
		}
	}
	return items, nil
}

func (m *memBackend) MarkNotificationsRead(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
		}
	}
	return nil
}

// memSessions is an in-memory refresh token store.
type memSessions struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemSessions() *memSessions {
	return &memSessions{tokens: make(map[string]string)}
}

func (m *memSessions) Save(_ context.Context, tokenHash, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenHash] = userID
	return nil
}

func (m *memSessions) Lookup(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.tokens[tokenHash]
	if !ok {
		return "", session.ErrNotFound
	}
	return userID, nil
}

func (m *memSessions) Revoke(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenHash)
	return nil
}

func (m *memSessions) Ping(context.Context) error { return nil }

type testApp struct {
	server   *HTTPServer
	service  *Service
	backend  *memBackend
	registry *registry.Registry
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	backend := newMemBackend()
	reg := registry.New(zerolog.Nop())
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:      backend,
		sessions:   newMemSessions(),
		comments:   comments.New(backend, zerolog.Nop()),
		dispatcher: notify.New(backend, reg, zerolog.Nop()),
		registry:   reg,
		log:        zerolog.Nop(),
	}
	return &testApp{
		server:   NewHTTPServer(svc, "*", nil, zerolog.Nop()),
		service:  svc,
		backend:  backend,
		registry: reg,
	}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, req)
	return rr
}

// signup registers a user with the given roles and returns the session payload.
func (a *testApp) signup(t *testing.T, username string, roles ...string) map[string]any {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
		"roles":    roles,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body=%s", username, rr.Code, rr.Body.String())
	}
	return decodePayload(t, rr)
}

func decodePayload(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func asString(t *testing.T, payload map[string]any, key string) string {
	t.Helper()
	value, _ := payload[key].(string)
	if value == "" {
		t.Fatalf("expected %s in payload %v", key, payload)
	}
	return value
}
