// Package client is a Go client for the blog-collaborator API. It attaches
// the access token to every request and renews the session transparently when
// the server answers 401.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/comments"
	"github.com/mouhebsa/blog-collaborator/internal/search"
	"github.com/mouhebsa/blog-collaborator/internal/store"
)

// ErrLoggedOut is returned when the session cannot be renewed and the client
// has dropped its credentials.
var ErrLoggedOut = fmt.Errorf("logged out")

// APIError carries the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Session mirrors the server's auth payload.
type Session struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	UserID       string   `json:"userId"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
}

// AuthListener observes login state changes. Called with false on forced
// logout, true after a successful login or registration.
type AuthListener func(loggedIn bool)

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu        sync.Mutex
	access    string
	refresh   string
	userID    string
	listeners []AuthListener

	refresher *refreshCoordinator
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       zerolog.Nop(),
		refresher: newRefreshCoordinator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserID returns the authenticated user's id, empty when logged out.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Token returns the current access token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

// OnAuthState registers an observer for login state transitions.
func (c *Client) OnAuthState(fn AuthListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Client) notifyAuthState(loggedIn bool) {
	c.mu.Lock()
	listeners := make([]AuthListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(loggedIn)
	}
}

func (c *Client) storeSession(s Session) {
	c.mu.Lock()
	c.access = s.Token
	c.refresh = s.RefreshToken
	c.userID = s.UserID
	c.mu.Unlock()
	c.notifyAuthState(true)
}

func (c *Client) forceLogout() {
	c.mu.Lock()
	hadSession := c.access != "" || c.refresh != ""
	c.access = ""
	c.refresh = ""
	c.userID = ""
	c.mu.Unlock()
	if hadSession {
		c.log.Warn().Msg("session expired, logged out")
		c.notifyAuthState(false)
	}
}

// isAuthPath: requests to these endpoints never carry a bearer token and a
// 401 from them means the credentials themselves are bad.
func isAuthPath(path string) bool {
	return strings.HasPrefix(path, "/api/auth/")
}

// do runs one API call, renewing the session once if it hits a 401.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	usedToken := c.Token()
	status, respBody, err := c.roundTrip(ctx, method, path, raw, usedToken)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && !isAuthPath(path) {
		token, refreshErr := c.renewSession(ctx, usedToken)
		if refreshErr != nil {
			return refreshErr
		}
		status, respBody, err = c.roundTrip(ctx, method, path, raw, token)
		if err != nil {
			return err
		}
	}

	if status >= 400 {
		return decodeAPIError(status, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" && !isAuthPath(path) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

// renewSession funnels concurrent 401s through the coordinator so only one
// refresh call reaches the server; everyone else waits for its outcome.
func (c *Client) renewSession(ctx context.Context, staleToken string) (string, error) {
	leader, wait := c.refresher.acquire()
	if !leader {
		select {
		case result := <-wait:
			return result.token, result.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// A previous window may already have rotated the token while this
	// request was in flight. Reuse it instead of refreshing again.
	if current := c.Token(); current != "" && current != staleToken {
		c.refresher.finish(current, nil)
		return current, nil
	}

	token, err := c.refreshOnce(ctx)
	c.refresher.finish(token, err)
	return token, err
}

func (c *Client) refreshOnce(ctx context.Context) (string, error) {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()
	if refresh == "" {
		c.forceLogout()
		return "", ErrLoggedOut
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": refresh}, &session); err != nil {
		c.forceLogout()
		return "", fmt.Errorf("%w: %v", ErrLoggedOut, err)
	}

	c.mu.Lock()
	c.access = session.Token
	c.refresh = session.RefreshToken
	c.mu.Unlock()
	c.log.Debug().Msg("session renewed")
	return session.Token, nil
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status, Code: "SERVER_ERROR", Message: "request failed"}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Code != "" {
			apiErr.Code = envelope.Code
		}
		if envelope.Message != "" {
			apiErr.Message = envelope.Message
		}
	}
	return apiErr
}

// Auth

func (c *Client) Register(ctx context.Context, username, email, password string, roles []string) (Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]any{
		"username": username,
		"email":    email,
		"password": password,
		"roles":    roles,
	}, &session)
	if err != nil {
		return Session{}, err
	}
	c.storeSession(session)
	return session, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &session)
	if err != nil {
		return Session{}, err
	}
	c.storeSession(session)
	return session, nil
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", map[string]string{"refreshToken": refresh}, nil)
	c.forceLogout()
	return err
}

// Articles

func (c *Client) ListArticles(ctx context.Context) ([]store.Article, error) {
	var articles []store.Article
	err := c.do(ctx, http.MethodGet, "/api/articles", nil, &articles)
	return articles, err
}

func (c *Client) GetArticle(ctx context.Context, articleID string) (store.Article, error) {
	var article store.Article
	err := c.do(ctx, http.MethodGet, "/api/articles/"+articleID, nil, &article)
	return article, err
}

func (c *Client) CreateArticle(ctx context.Context, title, content string, tags []string) (store.Article, error) {
	var article store.Article
	err := c.do(ctx, http.MethodPost, "/api/articles", map[string]any{
		"title":   title,
		"content": content,
		"tags":    tags,
	}, &article)
	return article, err
}

func (c *Client) UpdateArticle(ctx context.Context, articleID, title, content string, tags []string) (store.Article, error) {
	var article store.Article
	err := c.do(ctx, http.MethodPut, "/api/articles/"+articleID, map[string]any{
		"title":   title,
		"content": content,
		"tags":    tags,
	}, &article)
	return article, err
}

func (c *Client) DeleteArticle(ctx context.Context, articleID string) error {
	return c.do(ctx, http.MethodDelete, "/api/articles/"+articleID, nil, nil)
}

func (c *Client) SearchArticles(ctx context.Context, query string) (search.Response, error) {
	var resp search.Response
	err := c.do(ctx, http.MethodGet, "/api/articles/search?q="+url.QueryEscape(query), nil, &resp)
	return resp, err
}

// Comments

func (c *Client) CreateComment(ctx context.Context, articleID, text string, parentID *string) (store.Comment, error) {
	body := map[string]any{"text": text, "articleId": articleID}
	if parentID != nil {
		body["parentCommentId"] = *parentID
	}
	var comment store.Comment
	err := c.do(ctx, http.MethodPost, "/api/comments", body, &comment)
	return comment, err
}

func (c *Client) ListComments(ctx context.Context, articleID string) ([]*comments.Node, error) {
	var tree []*comments.Node
	err := c.do(ctx, http.MethodGet, "/api/comments/article/"+articleID, nil, &tree)
	return tree, err
}

func (c *Client) UpdateComment(ctx context.Context, commentID, text string) (store.Comment, error) {
	var comment store.Comment
	err := c.do(ctx, http.MethodPut, "/api/comments/"+commentID, map[string]string{"text": text}, &comment)
	return comment, err
}

func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/comments/"+commentID, nil, nil)
}

// Notifications

func (c *Client) Notifications(ctx context.Context) ([]store.Notification, error) {
	var notifications []store.Notification
	err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &notifications)
	return notifications, err
}
