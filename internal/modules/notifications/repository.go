// Package notifications delivers fire-and-forget messages to users.
// Settlement enqueues; a dispatcher goroutine persists each message and
// pushes it to connected websocket clients. Delivery failures are
// logged, never propagated into settlement.
package notifications

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notification kinds.
const (
	KindTradeExecuted     = "TradeExecuted"
	KindOrderCancelled    = "OrderCancelled"
	KindDividendCredited  = "DividendCredited"
	KindTraderSuspended   = "TraderSuspended"
	KindActivitiesFlagged = "SuspiciousActivityFlagged"
)

// Notification is one message to one user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository handles notification database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new notification repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "notifications").Logger(),
	}
}

// Create persists a notification, assigning it a UUID.
func (r *Repository) Create(n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now()

	_, err := r.db.Exec(`
		INSERT INTO notifications (id, user_id, kind, message, is_read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, n.ID, n.UserID, n.Kind, n.Message, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	n.CreatedAt = now.UTC()
	return nil
}

// ListByUser retrieves a user's notifications, newest first.
func (r *Repository) ListByUser(userID int64, unreadOnly bool) ([]Notification, error) {
	query := `SELECT id, user_id, kind, message, is_read, created_at FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var all []Notification
	for rows.Next() {
		var n Notification
		var isRead int
		var created int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &isRead, &created); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.IsRead = isRead == 1
		n.CreatedAt = time.Unix(created, 0).UTC()
		all = append(all, n)
	}
	return all, rows.Err()
}

// MarkRead flags a notification as read.
func (r *Repository) MarkRead(id string, userID int64) error {
	result, err := r.db.Exec(`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification %s not found for user %d", id, userID)
	}
	return nil
}
