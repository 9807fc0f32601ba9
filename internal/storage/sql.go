package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/xaenox/lesson-monitor/internal/dedup"
	"github.com/xaenox/lesson-monitor/internal/models"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStorage persists users, messages and alerts, and doubles as the
// dedup store so alert rows and dedup entries share one database.
type SQLStorage struct {
	db     *sqlx.DB
	driver string
	ttl    time.Duration
	now    func() time.Time
}

func NewSQLStorage(db *sqlx.DB, driver string, reservationTTL time.Duration) *SQLStorage {
	if reservationTTL <= 0 {
		reservationTTL = dedup.DefaultReservationTTL
	}
	return &SQLStorage{
		db:     db,
		driver: driver,
		ttl:    reservationTTL,
		now:    time.Now,
	}
}

// ConnectSQL opens the database and checks the connection.
func ConnectSQL(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	return db, nil
}

func (s *SQLStorage) q(query string) string {
	return s.db.Rebind(query)
}

// User methods

type userRow struct {
	ID          string `db:"id"`
	Username    string `db:"username"`
	DisplayName string `db:"display_name"`
	Roles       string `db:"roles"`
}

func (s *SQLStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, username, display_name, roles FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying user: %w", err)
	}

	roles, err := decodeRoles(row.Roles)
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:          row.ID,
		Username:    row.Username,
		DisplayName: row.DisplayName,
		Roles:       roles,
	}, nil
}

func (s *SQLStorage) SaveUser(ctx context.Context, user *models.User) error {
	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return fmt.Errorf("error encoding roles: %w", err)
	}

	query := `
		INSERT INTO users (id, username, display_name, roles, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			roles = excluded.roles,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, s.q(query),
		user.ID, user.Username, user.DisplayName, string(roles), s.now().UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("error saving user: %w", err)
	}
	return nil
}

// Channel registry

func (s *SQLStorage) SaveChannel(ctx context.Context, channel models.Channel) error {
	query := `
		INSERT INTO channels (id, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, s.q(query), channel.ID, channel.Name, s.now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("error saving channel: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListChannels(ctx context.Context) ([]models.Channel, error) {
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name FROM channels ORDER BY id`); err != nil {
		return nil, fmt.Errorf("error querying channels: %w", err)
	}

	channels := make([]models.Channel, 0, len(rows))
	for _, r := range rows {
		channels = append(channels, models.Channel{ID: r.ID, Name: r.Name})
	}
	return channels, nil
}

// Message methods

type messageRow struct {
	ID          string `db:"id"`
	ChannelID   string `db:"channel_id"`
	ChannelName string `db:"channel_name"`
	UserID      string `db:"user_id"`
	Username    string `db:"username"`
	DisplayName string `db:"display_name"`
	Roles       string `db:"roles"`
	Content     string `db:"content"`
	Timestamp   int64  `db:"ts"`
	Reactions   string `db:"reactions"`
	IsQuestion  bool   `db:"is_question"`
	ThreadID    string `db:"thread_id"`
}

const selectMessages = `
	SELECT m.id, m.channel_id, m.channel_name, m.user_id,
		COALESCE(u.username, '') AS username,
		COALESCE(u.display_name, '') AS display_name,
		COALESCE(u.roles, 'null') AS roles,
		m.content, m.ts, m.reactions, m.is_question, m.thread_id
	FROM messages m
	LEFT JOIN users u ON u.id = m.user_id`

func (r messageRow) toModel() (models.Message, error) {
	roles, err := decodeRoles(r.Roles)
	if err != nil {
		return models.Message{}, err
	}
	var reactions []string
	if err := json.Unmarshal([]byte(r.Reactions), &reactions); err != nil {
		return models.Message{}, fmt.Errorf("error decoding reactions: %w", err)
	}

	return models.Message{
		ID:          r.ID,
		ChannelID:   r.ChannelID,
		ChannelName: r.ChannelName,
		User: models.User{
			ID:          r.UserID,
			Username:    r.Username,
			DisplayName: r.DisplayName,
			Roles:       roles,
		},
		Content:    r.Content,
		Timestamp:  time.Unix(0, r.Timestamp).UTC(),
		Reactions:  reactions,
		IsQuestion: r.IsQuestion,
		ThreadID:   r.ThreadID,
	}, nil
}

func (s *SQLStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return fmt.Errorf("error encoding reactions: %w", err)
	}

	query := `
		INSERT INTO messages (id, channel_id, channel_name, user_id, content, ts, reactions, is_question, thread_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, id) DO UPDATE SET
			channel_name = excluded.channel_name,
			user_id = excluded.user_id,
			content = excluded.content,
			ts = excluded.ts,
			reactions = excluded.reactions,
			is_question = excluded.is_question,
			thread_id = excluded.thread_id`

	if _, err := s.db.ExecContext(ctx, s.q(query),
		msg.ID, msg.ChannelID, msg.ChannelName, msg.User.ID, msg.Content,
		msg.Timestamp.UTC().UnixNano(), string(reactions), msg.IsQuestion, msg.ThreadID,
	); err != nil {
		return fmt.Errorf("error saving message: %w", err)
	}
	return nil
}

func (s *SQLStorage) GetMessage(ctx context.Context, channelID, id string) (*models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, s.q(selectMessages+` WHERE m.channel_id = ? AND m.id = ?`), channelID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s/%s: %w", channelID, id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying message: %w", err)
	}

	msg, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *SQLStorage) GetRecentMessages(ctx context.Context, channelID string, since time.Time) ([]models.Message, error) {
	query := selectMessages + ` WHERE m.channel_id = ? AND m.ts >= ? ORDER BY m.ts ASC, m.id ASC`
	return s.selectMessages(ctx, query, channelID, since.UTC().UnixNano())
}

func (s *SQLStorage) GetChannelMessages(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	query := selectMessages + ` WHERE m.channel_id = ? ORDER BY m.ts DESC, m.id DESC LIMIT ?`
	return s.selectMessages(ctx, query, channelID, limit)
}

func (s *SQLStorage) selectMessages(ctx context.Context, query string, args ...interface{}) ([]models.Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}

	messages := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := r.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Alert methods

type alertRow struct {
	ID          int64  `db:"id"`
	AlertType   string `db:"alert_type"`
	Description string `db:"description"`
	Channel     string `db:"channel"`
	Message     string `db:"message"`
	CreatedAt   int64  `db:"created_at"`
}

func (s *SQLStorage) SaveAlert(ctx context.Context, alert *models.Alert) (int64, error) {
	channel := alert.Channel
	channel.LastMessage = nil
	channelJSON, err := json.Marshal(channel)
	if err != nil {
		return 0, fmt.Errorf("error encoding alert channel: %w", err)
	}
	messageJSON, err := json.Marshal(alert.Message)
	if err != nil {
		return 0, fmt.Errorf("error encoding alert message: %w", err)
	}

	query := `
		INSERT INTO alerts (channel_id, message_id, alert_type, description, channel, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	var id int64
	err = s.db.QueryRowxContext(ctx, s.q(query),
		alert.Channel.ID, alert.Message.ID, string(alert.Type), alert.Description,
		string(channelJSON), string(messageJSON), alert.CreatedAt.UTC().UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("error saving alert: %w", err)
	}

	alert.ID = id
	return id, nil
}

func (s *SQLStorage) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	var row alertRow
	query := `SELECT id, alert_type, description, channel, message, created_at FROM alerts WHERE id = ?`
	if err := s.db.GetContext(ctx, &row, s.q(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying alert: %w", err)
	}

	alert := &models.Alert{
		ID:          row.ID,
		Type:        models.AlertType(row.AlertType),
		Description: row.Description,
		CreatedAt:   time.Unix(0, row.CreatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(row.Channel), &alert.Channel); err != nil {
		return nil, fmt.Errorf("error decoding alert channel: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Message), &alert.Message); err != nil {
		return nil, fmt.Errorf("error decoding alert message: %w", err)
	}
	return alert, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func decodeRoles(raw string) ([]models.UserRole, error) {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("error decoding roles: %w", err)
	}
	if names == nil {
		return nil, nil
	}
	roles := make([]models.UserRole, 0, len(names))
	for _, n := range names {
		if r, ok := models.ParseUserRole(n); ok {
			roles = append(roles, r)
		}
	}
	return roles, nil
}
