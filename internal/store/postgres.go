package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.Email, user.PasswordHash); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert user: %w", err)
	}

	for _, role := range user.Roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role)
			VALUES ($1, $2)
			ON CONFLICT (user_id, role) DO NOTHING
		`, user.ID, role); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	roles, err := s.getRoles(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Roles = roles
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	roles, err := s.getRoles(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Roles = roles
	return user, nil
}

func (s *PostgresStore) UserExists(ctx context.Context, email, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE email=$1 OR username=$2)
	`, email, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.created_at, u.updated_at, COALESCE(r.role, '')
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.id
		ORDER BY u.created_at ASC, u.id, r.role
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	index := make(map[string]int)
	for rows.Next() {
		var user User
		var role string
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.CreatedAt, &user.UpdatedAt, &role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if at, ok := index[user.ID]; ok {
			if role != "" {
				items[at].Roles = append(items[at].Roles, role)
			}
			continue
		}
		user.Roles = []string{}
		if role != "" {
			user.Roles = append(user.Roles, role)
		}
		index[user.ID] = len(items)
		items = append(items, user)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateUserRoles(ctx context.Context, userID string, roles []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update roles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=$1`, userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear roles: %w", err)
	}
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
			ON CONFLICT (user_id, role) DO NOTHING
		`, userID, role); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert role: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET updated_at=NOW() WHERE id=$1`, userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("touch user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update roles: %w", err)
	}
	return nil
}

func (s *PostgresStore) getRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=$1 ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("read roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0, 2)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Articles

func (s *PostgresStore) InsertArticle(ctx context.Context, article Article) error {
	tags, err := json.Marshal(article.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO articles (id, title, content, cover_url, tags, author_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, article.ID, article.Title, article.Content, article.CoverURL, tags, article.AuthorID)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

const articleColumns = `
	a.id, a.title, a.content, a.cover_url, a.tags, a.author_id,
	COALESCE(u.username, ''), a.created_at, a.updated_at
`

func scanArticle(scanner interface{ Scan(...any) error }) (Article, error) {
	var article Article
	var tags []byte
	err := scanner.Scan(
		&article.ID, &article.Title, &article.Content, &article.CoverURL, &tags,
		&article.AuthorID, &article.AuthorName, &article.CreatedAt, &article.UpdatedAt,
	)
	if err != nil {
		return Article{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &article.Tags); err != nil {
			return Article{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if article.Tags == nil {
		article.Tags = []string{}
	}
	return article, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, articleID string) (Article, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles a
		LEFT JOIN users u ON u.id = a.author_id
		WHERE a.id=$1
	`, articleID)
	return scanArticle(row)
}

func (s *PostgresStore) ListArticles(ctx context.Context) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles a
		LEFT JOIN users u ON u.id = a.author_id
		ORDER BY a.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, article)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, article Article) error {
	tags, err := json.Marshal(article.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET title=$2, content=$3, cover_url=$4, tags=$5, updated_at=NOW()
		WHERE id=$1
	`, article.ID, article.Title, article.Content, article.CoverURL, tags)
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetArticleCover(ctx context.Context, articleID, coverURL string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE articles SET cover_url=$2, updated_at=NOW() WHERE id=$1
	`, articleID, coverURL)
	if err != nil {
		return fmt.Errorf("set article cover: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set article cover: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, articleID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id=$1`, articleID)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SearchArticles(ctx context.Context, query string, limit int) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+articleColumns+`
		FROM articles a
		LEFT JOIN users u ON u.id = a.author_id
		WHERE a.title ILIKE '%' || $1 || '%'
			OR a.content ILIKE '%' || $1 || '%'
			OR a.tags::text ILIKE '%' || $1 || '%'
		ORDER BY a.created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, article)
	}
	return items, rows.Err()
}

// Comments

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, text, author_id, article_id, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.Text, comment.AuthorID, comment.ArticleID, comment.ParentID)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

const commentColumns = `
	c.id, c.text, c.author_id, COALESCE(u.username, ''), c.article_id,
	c.parent_comment_id, c.created_at, c.updated_at
`

func scanComment(scanner interface{ Scan(...any) error }) (Comment, error) {
	var comment Comment
	err := scanner.Scan(
		&comment.ID, &comment.Text, &comment.AuthorID, &comment.AuthorName,
		&comment.ArticleID, &comment.ParentID, &comment.CreatedAt, &comment.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, commentID)
	return scanComment(row)
}

func (s *PostgresStore) ListCommentsByArticle(ctx context.Context, articleID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.article_id=$1
		ORDER BY c.created_at ASC
	`, articleID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListCommentsByParent(ctx context.Context, parentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.parent_comment_id=$1
		ORDER BY c.created_at ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateCommentText(ctx context.Context, commentID, text string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET text=$2, updated_at=NOW() WHERE id=$1
	`, commentID, text)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Notifications

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, article_id, comment_id, type, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, notification.ID, notification.UserID, notification.ArticleID, notification.CommentID,
		notification.Type, notification.Message, notification.Read, notification.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotificationsByUser(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, article_id, comment_id, type, message, read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.ArticleID, &n.CommentID, &n.Type, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_id=$1 AND read=FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// ErrNoRows re-exported so callers do not need database/sql for the check.
var ErrNoRows = sql.ErrNoRows
