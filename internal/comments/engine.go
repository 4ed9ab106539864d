// Package comments enforces the threading invariants of article comments
// and owns their cascading lifecycle.
package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/store"
	"github.com/mouhebsa/blog-collaborator/internal/util"
)

var (
	ErrEmptyText       = errors.New("comment text is required")
	ErrArticleNotFound = errors.New("article not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrParentNotFound  = errors.New("parent comment not found")
	// ErrWrongArticle: the parent comment belongs to a different article.
	ErrWrongArticle = errors.New("parent comment does not belong to the specified article")
	ErrNotAuthor    = errors.New("only the comment author may do that")
)

type commentStore interface {
	GetArticle(ctx context.Context, articleID string) (store.Article, error)
	InsertComment(ctx context.Context, comment store.Comment) error
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	ListCommentsByArticle(ctx context.Context, articleID string) ([]store.Comment, error)
	ListCommentsByParent(ctx context.Context, parentID string) ([]store.Comment, error)
	UpdateCommentText(ctx context.Context, commentID, text string) error
	DeleteComment(ctx context.Context, commentID string) error
}

type Engine struct {
	store commentStore
	log   zerolog.Logger
}

func New(store commentStore, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Node is a comment with its direct replies, creation order preserved.
type Node struct {
	store.Comment
	Replies []*Node `json:"replies"`
}

// Create validates parentage and stores a new comment. The returned comment
// has the author's name resolved.
func (e *Engine) Create(ctx context.Context, text, authorID, articleID string, parentID *string) (store.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return store.Comment{}, ErrEmptyText
	}

	if _, err := e.store.GetArticle(ctx, articleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, ErrArticleNotFound
		}
		return store.Comment{}, fmt.Errorf("load article: %w", err)
	}

	if parentID != nil {
		parent, err := e.store.GetComment(ctx, *parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Comment{}, ErrParentNotFound
			}
			return store.Comment{}, fmt.Errorf("load parent: %w", err)
		}
		if parent.ArticleID != articleID {
			return store.Comment{}, ErrWrongArticle
		}
	}

	comment := store.Comment{
		ID:        util.NewID("cmt"),
		Text:      text,
		AuthorID:  authorID,
		ArticleID: articleID,
		ParentID:  parentID,
	}
	if err := e.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, err
	}
	return e.store.GetComment(ctx, comment.ID)
}

// Update replaces the comment text. Strictly author-only: no role override,
// unlike article editing.
func (e *Engine) Update(ctx context.Context, commentID, text, requesterID string) (store.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return store.Comment{}, ErrEmptyText
	}
	comment, err := e.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, ErrCommentNotFound
		}
		return store.Comment{}, fmt.Errorf("load comment: %w", err)
	}
	if comment.AuthorID != requesterID {
		return store.Comment{}, ErrNotAuthor
	}
	if err := e.store.UpdateCommentText(ctx, commentID, text); err != nil {
		return store.Comment{}, err
	}
	return e.store.GetComment(ctx, commentID)
}

// Delete removes the comment and every descendant reachable through
// parent links. The traversal is iterative (no recursion) and deletes
// children before their parent on each branch; order across branches is
// unspecified. No cross-record transaction wraps the cascade: a failure
// mid-way leaves already-deleted leaves gone, which readers tolerate.
func (e *Engine) Delete(ctx context.Context, commentID, requesterID string) error {
	comment, err := e.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCommentNotFound
		}
		return fmt.Errorf("load comment: %w", err)
	}
	if comment.AuthorID != requesterID {
		return ErrNotAuthor
	}

	// Walk the subtree, collecting ids in parent-before-child order, then
	// delete in reverse so every comment's children go first.
	order := []string{commentID}
	queue := []string{commentID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := e.store.ListCommentsByParent(ctx, current)
		if err != nil {
			return fmt.Errorf("list replies of %s: %w", current, err)
		}
		for _, child := range children {
			order = append(order, child.ID)
			queue = append(queue, child.ID)
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		if err := e.store.DeleteComment(ctx, order[i]); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Already gone, e.g. deleted concurrently.
				continue
			}
			return fmt.Errorf("delete comment %s: %w", order[i], err)
		}
	}
	e.log.Info().Str("comment_id", commentID).Int("removed", len(order)).Msg("comment cascade deleted")
	return nil
}

// ListByArticle returns the article's comment forest. The flat list comes
// back ordered by creation time ascending; a single pass nests each comment
// under its parent. A comment whose parent is missing from the set is kept
// as a root rather than dropped.
func (e *Engine) ListByArticle(ctx context.Context, articleID string) ([]*Node, error) {
	if _, err := e.store.GetArticle(ctx, articleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArticleNotFound
		}
		return nil, fmt.Errorf("load article: %w", err)
	}

	flat, err := e.store.ListCommentsByArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*Node, len(flat))
	for _, comment := range flat {
		nodes[comment.ID] = &Node{Comment: comment, Replies: []*Node{}}
	}

	roots := make([]*Node, 0)
	for _, comment := range flat {
		node := nodes[comment.ID]
		if comment.ParentID != nil {
			if parent, ok := nodes[*comment.ParentID]; ok {
				parent.Replies = append(parent.Replies, node)
				continue
			}
			// Dangling parent reference: orphan surfaces as a root.
		}
		roots = append(roots, node)
	}
	return roots, nil
}
