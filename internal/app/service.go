package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/auth"
	"github.com/mouhebsa/blog-collaborator/internal/authpw"
	"github.com/mouhebsa/blog-collaborator/internal/comments"
	"github.com/mouhebsa/blog-collaborator/internal/config"
	"github.com/mouhebsa/blog-collaborator/internal/covers"
	"github.com/mouhebsa/blog-collaborator/internal/notify"
	"github.com/mouhebsa/blog-collaborator/internal/rbac"
	"github.com/mouhebsa/blog-collaborator/internal/registry"
	"github.com/mouhebsa/blog-collaborator/internal/search"
	"github.com/mouhebsa/blog-collaborator/internal/store"
	"github.com/mouhebsa/blog-collaborator/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Email        string
	Roles        []string
	JTI          string
	ExpiresAt    time.Time
}

type RegisterInput struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type ArticleInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

type CommentInput struct {
	Text      string  `json:"text"`
	ArticleID string  `json:"articleId"`
	ParentID  *string `json:"parentCommentId"`
}

type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UserExists(ctx context.Context, email, username string) (bool, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserRoles(ctx context.Context, userID string, roles []string) error
	InsertArticle(ctx context.Context, article store.Article) error
	GetArticle(ctx context.Context, articleID string) (store.Article, error)
	ListArticles(ctx context.Context) ([]store.Article, error)
	UpdateArticle(ctx context.Context, article store.Article) error
	SetArticleCover(ctx context.Context, articleID, coverURL string) error
	DeleteArticle(ctx context.Context, articleID string) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexArticle(rec search.ArticleRecord)
	DeleteArticle(id string)
}

type coverService interface {
	Upload(ctx context.Context, articleID string, r io.Reader, size int64, contentType string) (string, error)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	comments   *comments.Engine
	dispatcher *notify.Dispatcher
	registry   *registry.Registry
	search     searchService
	covers     coverService // nil when object storage is not configured
	log        zerolog.Logger
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions sessionStore,
	engine *comments.Engine,
	dispatcher *notify.Dispatcher,
	reg *registry.Registry,
	searchSvc *search.Service,
	coverSvc *covers.Service,
	log zerolog.Logger,
) *Service {
	s := &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   sessions,
		comments:   engine,
		dispatcher: dispatcher,
		registry:   reg,
		log:        log,
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if coverSvc != nil {
		s.covers = coverSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) CoversEnabled() bool {
	return s.covers != nil
}

// Register creates an account and signs the user in. Requested roles are
// honored when valid; an empty request gets the default Reader role.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Session, error) {
	if err := authpw.ValidateRegistration(input.Username, input.Email, input.Password); err != nil {
		return Session{}, err
	}

	roles := input.Roles
	if len(roles) == 0 {
		roles = rbac.DefaultRoles
	}
	for _, role := range roles {
		if !rbac.Valid(role) {
			return Session{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("unknown role %q", role), map[string]any{"validRoles": rbac.ValidRoles()})
		}
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)

	taken, err := s.store.UserExists(ctx, email, username)
	if err != nil {
		return Session{}, err
	}
	if taken {
		return Session{}, domainError(http.StatusBadRequest, "USER_EXISTS", "Email or username already in use", nil)
	}

	hash, err := authpw.HashPassword(input.Password)
	if err != nil {
		return Session{}, err
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return Session{}, err
	}

	s.log.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	if err := authpw.CheckPassword(user.PasswordHash, password); err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token: the presented token is revoked and a
// fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Username, user.Roles, s.cfg.AccessTTL, jti)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Roles:        user.Roles,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		Username:  claims.Name,
		Roles:     claims.Roles,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Articles

func (s *Service) CreateArticle(ctx context.Context, session Session, input ArticleInput) (store.Article, error) {
	if !rbac.CanCreateArticle(session.Roles) {
		return store.Article{}, domainError(http.StatusForbidden, "FORBIDDEN", "Writer role required", nil)
	}
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Content) == "" {
		return store.Article{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title and content are required", nil)
	}

	article := store.Article{
		ID:       util.NewID("art"),
		Title:    input.Title,
		Content:  input.Content,
		Tags:     input.Tags,
		AuthorID: session.UserID,
	}
	if err := s.store.InsertArticle(ctx, article); err != nil {
		return store.Article{}, err
	}

	created, err := s.store.GetArticle(ctx, article.ID)
	if err != nil {
		return store.Article{}, err
	}
	s.indexArticle(created)
	return created, nil
}

func (s *Service) GetArticle(ctx context.Context, articleID string) (store.Article, error) {
	return s.store.GetArticle(ctx, articleID)
}

func (s *Service) ListArticles(ctx context.Context) ([]store.Article, error) {
	articles, err := s.store.ListArticles(ctx)
	if err != nil {
		return nil, err
	}
	if articles == nil {
		articles = []store.Article{}
	}
	return articles, nil
}

func (s *Service) UpdateArticle(ctx context.Context, session Session, articleID string, input ArticleInput) (store.Article, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return store.Article{}, err
	}
	if !rbac.CanEditArticle(session.Roles, article.AuthorID, session.UserID) {
		return store.Article{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not allowed to edit this article", nil)
	}
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Content) == "" {
		return store.Article{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title and content are required", nil)
	}

	article.Title = input.Title
	article.Content = input.Content
	article.Tags = input.Tags
	if err := s.store.UpdateArticle(ctx, article); err != nil {
		return store.Article{}, err
	}

	updated, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return store.Article{}, err
	}
	s.indexArticle(updated)
	return updated, nil
}

func (s *Service) DeleteArticle(ctx context.Context, session Session, articleID string) error {
	if !rbac.CanDeleteArticle(session.Roles) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Admin role required", nil)
	}
	if err := s.store.DeleteArticle(ctx, articleID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteArticle(articleID)
	}
	return nil
}

func (s *Service) SearchArticles(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) UploadCover(ctx context.Context, session Session, articleID string, r io.Reader, size int64, contentType string) (string, error) {
	if s.covers == nil {
		return "", domainError(http.StatusServiceUnavailable, "COVERS_UNAVAILABLE", "Cover storage not configured", nil)
	}
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return "", err
	}
	if !rbac.CanEditArticle(session.Roles, article.AuthorID, session.UserID) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Not allowed to edit this article", nil)
	}

	url, err := s.covers.Upload(ctx, articleID, r, size, contentType)
	if err != nil {
		if errors.Is(err, covers.ErrUnsupportedType) || errors.Is(err, covers.ErrTooLarge) {
			return "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		}
		return "", err
	}
	if err := s.store.SetArticleCover(ctx, articleID, url); err != nil {
		return "", err
	}
	return url, nil
}

func (s *Service) indexArticle(article store.Article) {
	if s.search == nil {
		return
	}
	s.search.IndexArticle(search.ArticleRecord{
		ID:         article.ID,
		Title:      article.Title,
		Content:    article.Content,
		Tags:       article.Tags,
		AuthorName: article.AuthorName,
	})
}

// Comments

func (s *Service) CreateComment(ctx context.Context, session Session, input CommentInput) (store.Comment, error) {
	comment, err := s.comments.Create(ctx, input.Text, session.UserID, input.ArticleID, input.ParentID)
	if err != nil {
		return store.Comment{}, err
	}

	// Notify after the comment is committed. The dispatcher swallows its own
	// failures; a cancelled request must not cut the push short.
	article, err := s.store.GetArticle(ctx, comment.ArticleID)
	if err == nil {
		s.dispatcher.CommentCreated(context.WithoutCancel(ctx), comment, article, session.Username)
	} else {
		s.log.Warn().Str("article_id", comment.ArticleID).Err(err).Msg("skip notification, article load failed")
	}
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, commentID, text string) (store.Comment, error) {
	return s.comments.Update(ctx, commentID, text, session.UserID)
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	return s.comments.Delete(ctx, commentID, session.UserID)
}

func (s *Service) ListComments(ctx context.Context, articleID string) ([]*comments.Node, error) {
	return s.comments.ListByArticle(ctx, articleID)
}

// Notifications

func (s *Service) Inbox(ctx context.Context, session Session) ([]store.Notification, error) {
	return s.dispatcher.Inbox(ctx, session.UserID)
}

// Users

func (s *Service) ListUsers(ctx context.Context, session Session) ([]store.User, error) {
	if !rbac.CanManageUsers(session.Roles) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Admin role required", nil)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []store.User{}
	}
	return users, nil
}

func (s *Service) UpdateUserRoles(ctx context.Context, session Session, userID string, roles []string) (store.User, error) {
	if !rbac.CanManageUsers(session.Roles) {
		return store.User{}, domainError(http.StatusForbidden, "FORBIDDEN", "Admin role required", nil)
	}
	if len(roles) == 0 {
		return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "at least one role is required", nil)
	}
	for _, role := range roles {
		if !rbac.Valid(role) {
			return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("unknown role %q", role), map[string]any{"validRoles": rbac.ValidRoles()})
		}
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return store.User{}, err
	}
	if err := s.store.UpdateUserRoles(ctx, userID, roles); err != nil {
		return store.User{}, err
	}
	return s.store.GetUserByID(ctx, userID)
}
