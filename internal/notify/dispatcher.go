// Package notify decides, persists, and pushes notifications for comment
// events. The whole package is a best-effort side channel: nothing here may
// fail or block the comment write path.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/registry"
	"github.com/mouhebsa/blog-collaborator/internal/store"
	"github.com/mouhebsa/blog-collaborator/internal/util"
)

type notificationStore interface {
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	InsertNotification(ctx context.Context, notification store.Notification) error
	ListNotificationsByUser(ctx context.Context, userID string) ([]store.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string) error
}

type Dispatcher struct {
	store    notificationStore
	registry *registry.Registry
	log      zerolog.Logger
}

func New(store notificationStore, reg *registry.Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: store, registry: reg, log: log}
}

// CommentCreated runs after a comment is stored. Top-level comments notify
// the article author, replies notify the parent comment's author; nobody is
// notified about their own comment. Errors are logged and swallowed.
func (d *Dispatcher) CommentCreated(ctx context.Context, comment store.Comment, article store.Article, commenterName string) {
	recipientID, kind, err := d.resolveRecipient(ctx, comment, article)
	if err != nil {
		d.log.Error().Err(err).Str("comment_id", comment.ID).Msg("notification recipient lookup failed")
		return
	}
	if recipientID == "" {
		// Commenting on your own thread produces nothing.
		return
	}

	title := article.Title
	if title == "" {
		title = "an article"
	}
	var message string
	if kind == store.NotificationNewComment {
		message = fmt.Sprintf("%s commented on %s", commenterName, title)
	} else {
		message = fmt.Sprintf("%s replied to your comment on %s", commenterName, title)
	}

	commentID := comment.ID
	notification := store.Notification{
		ID:        util.NewID("ntf"),
		UserID:    recipientID,
		ArticleID: article.ID,
		CommentID: &commentID,
		Type:      kind,
		Message:   message,
		Read:      false,
		CreatedAt: time.Now().UTC(),
	}

	if err := d.store.InsertNotification(ctx, notification); err != nil {
		d.log.Error().Err(err).Str("comment_id", comment.ID).Msg("notification persist failed")
		return
	}

	delivered := d.registry.Deliver(recipientID, notification)
	d.log.Info().
		Str("notification_id", notification.ID).
		Str("recipient", recipientID).
		Str("type", kind).
		Bool("pushed", delivered).
		Msg("notification created")
}

// resolveRecipient returns the user to notify and the notification type.
// An empty recipient means the event is self-directed and must be dropped.
func (d *Dispatcher) resolveRecipient(ctx context.Context, comment store.Comment, article store.Article) (string, string, error) {
	if comment.ParentID == nil {
		if article.AuthorID == comment.AuthorID {
			return "", "", nil
		}
		return article.AuthorID, store.NotificationNewComment, nil
	}

	parent, err := d.store.GetComment(ctx, *comment.ParentID)
	if err != nil {
		return "", "", fmt.Errorf("load parent comment: %w", err)
	}
	if parent.AuthorID == comment.AuthorID {
		return "", "", nil
	}
	return parent.AuthorID, store.NotificationNewReply, nil
}

// Inbox returns the user's notifications newest first and marks every
// unread one as read. Viewing the inbox clears all unread state; there is
// no per-item receipt.
func (d *Dispatcher) Inbox(ctx context.Context, userID string) ([]store.Notification, error) {
	items, err := d.store.ListNotificationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := d.store.MarkNotificationsRead(ctx, userID); err != nil {
		// The fetch already succeeded; losing the read-flag update only
		// means the items show as unread once more.
		d.log.Error().Err(err).Str("user_id", userID).Msg("mark notifications read failed")
	}
	return items, nil
}
