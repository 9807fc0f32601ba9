package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/lesson-monitor/internal/dedup"
	"github.com/xaenox/lesson-monitor/internal/models"
)

var _ dedup.Store = (*SQLStorage)(nil)

// Reserve claims the key with a single upsert. The conflict branch only
// fires for resolved or expired pending rows, so exactly one concurrent
// caller sees a changed row.
func (s *SQLStorage) Reserve(ctx context.Context, key models.DedupKey) (bool, error) {
	now := s.now().UTC()
	query := `
		INSERT INTO alert_dedup (channel_id, message_id, alert_type, state, alert_id, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?)
		ON CONFLICT (channel_id, message_id, alert_type) DO UPDATE SET
			state = 'pending',
			alert_id = 0,
			updated_at = excluded.updated_at
		WHERE alert_dedup.state = 'resolved'
			OR (alert_dedup.state = 'pending' AND alert_dedup.updated_at < ?)`

	res, err := s.db.ExecContext(ctx, s.q(query),
		key.ChannelID, key.MessageID, string(key.AlertType), now.UnixNano(),
		now.Add(-s.ttl).UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("error reserving dedup key %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	return n == 1, nil
}

// Confirm leaves an already delivered row untouched, so the first
// confirmation of a key keeps its alert id.
func (s *SQLStorage) Confirm(ctx context.Context, key models.DedupKey, alertID int64) error {
	query := `
		INSERT INTO alert_dedup (channel_id, message_id, alert_type, state, alert_id, updated_at)
		VALUES (?, ?, ?, 'delivered', ?, ?)
		ON CONFLICT (channel_id, message_id, alert_type) DO UPDATE SET
			state = 'delivered',
			alert_id = excluded.alert_id,
			updated_at = excluded.updated_at
		WHERE alert_dedup.state <> 'delivered'`

	if _, err := s.db.ExecContext(ctx, s.q(query),
		key.ChannelID, key.MessageID, string(key.AlertType), alertID, s.now().UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("error confirming dedup key %s: %w", key, err)
	}
	return nil
}

func (s *SQLStorage) Release(ctx context.Context, key models.DedupKey) error {
	query := `
		DELETE FROM alert_dedup
		WHERE channel_id = ? AND message_id = ? AND alert_type = ? AND state = 'pending'`

	if _, err := s.db.ExecContext(ctx, s.q(query), key.ChannelID, key.MessageID, string(key.AlertType)); err != nil {
		return fmt.Errorf("error releasing dedup key %s: %w", key, err)
	}
	return nil
}

func (s *SQLStorage) Resolve(ctx context.Context, key models.DedupKey) error {
	query := `
		UPDATE alert_dedup SET state = 'resolved', updated_at = ?
		WHERE channel_id = ? AND message_id = ? AND alert_type = ?`

	res, err := s.db.ExecContext(ctx, s.q(query),
		s.now().UTC().UnixNano(), key.ChannelID, key.MessageID, string(key.AlertType),
	)
	if err != nil {
		return fmt.Errorf("error resolving dedup key %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("dedup key %s: %w", key, models.ErrNotFound)
	}
	return nil
}

func (s *SQLStorage) Unresolved(ctx context.Context) ([]dedup.Entry, error) {
	var rows []struct {
		ChannelID string `db:"channel_id"`
		MessageID string `db:"message_id"`
		AlertType string `db:"alert_type"`
		State     string `db:"state"`
		AlertID   int64  `db:"alert_id"`
		UpdatedAt int64  `db:"updated_at"`
	}
	query := `
		SELECT channel_id, message_id, alert_type, state, alert_id, updated_at
		FROM alert_dedup
		WHERE state = 'delivered'
		ORDER BY alert_id`

	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("error querying unresolved alerts: %w", err)
	}

	entries := make([]dedup.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, dedup.Entry{
			Key: models.DedupKey{
				ChannelID: r.ChannelID,
				MessageID: r.MessageID,
				AlertType: models.AlertType(r.AlertType),
			},
			State:     dedup.State(r.State),
			AlertID:   r.AlertID,
			UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
		})
	}
	return entries, nil
}
