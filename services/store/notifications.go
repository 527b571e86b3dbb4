package store

import (
	"context"

	"sjsage522/modaggregator/internal/model"
	apperrors "sjsage522/modaggregator/pkg/errors"
)

const notificationLimit = 100

// Notifications stores user-visible change notices.
type Notifications struct {
	db *DB
}

func NewNotifications(db *DB) *Notifications {
	return &Notifications{db: db}
}

func (s *Notifications) Add(ctx context.Context, n *model.Notification) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (mod_id, site_id, title, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.RecordID, n.SiteID, n.Title, n.Message, n.Read, formatTime(n.CreatedAt))
	if err != nil {
		return 0, apperrors.NewStore("add notification", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.NewStore("add notification", err)
	}
	return id, nil
}

// List returns the latest notifications, newest first.
func (s *Notifications) List(ctx context.Context, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT id, mod_id, site_id, title, message, read, created_at FROM notifications`
	if unreadOnly {
		query += ` WHERE read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, notificationLimit)
	if err != nil {
		return nil, apperrors.NewStore("list notifications", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var (
			n         model.Notification
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.RecordID, &n.SiteID, &n.Title, &n.Message, &n.Read, &createdAt); err != nil {
			return nil, apperrors.NewStore("scan notification", err)
		}
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStore("list notifications", err)
	}
	return out, nil
}

// MarkRead flags notification id as read. Unknown IDs are ignored.
func (s *Notifications) MarkRead(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id); err != nil {
		return apperrors.NewStore("mark notification read", err)
	}
	return nil
}
