package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dealsense/store"
)

func (d *DB) UpsertSession(ctx context.Context, session *store.NegotiationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	query := `
		INSERT INTO negotiation_session (id, status, payload, start_ts, updated_ts, expires_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_ts = EXCLUDED.updated_ts,
			expires_ts = EXCLUDED.expires_ts
	`
	_, err = d.db.ExecContext(ctx, query,
		session.ID,
		string(session.Status),
		string(payload),
		session.StartTime.Unix(),
		session.LastUpdate.Unix(),
		session.ExpiresAt.Unix(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	return nil
}

func (d *DB) GetSession(ctx context.Context, id string) (*store.NegotiationSession, error) {
	query := `SELECT payload FROM negotiation_session WHERE id = ?`

	var payload string
	err := d.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	return unmarshalSession(payload)
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.NegotiationSession, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find != nil {
		if v := find.ID; v != nil {
			where, args = append(where, "id = ?"), append(args, *v)
		}
		if len(find.Statuses) > 0 {
			list := make([]string, 0, len(find.Statuses))
			for _, status := range find.Statuses {
				list = append(list, "?")
				args = append(args, string(status))
			}
			where = append(where, "status IN ("+strings.Join(list, ", ")+")")
		}
		if v := find.NotExpiredAt; v != nil {
			where, args = append(where, "expires_ts > ?"), append(args, v.Unix())
		}
	}

	query := `
		SELECT payload FROM negotiation_session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []*store.NegotiationSession
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan session row")
		}
		session, err := unmarshalSession(payload)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate sessions")
	}
	return sessions, nil
}

func (d *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	// Expiry-ordered scan via the expires index; completed sessions are kept
	// for the deal history surface.
	query := `
		DELETE FROM negotiation_session
		WHERE id IN (
			SELECT id FROM negotiation_session
			WHERE expires_ts <= ? AND status != ?
			ORDER BY expires_ts ASC
		)
	`
	result, err := d.db.ExecContext(ctx, query, now.Unix(), string(store.StatusCompleted))
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}
	return result.RowsAffected()
}

func unmarshalSession(payload string) (*store.NegotiationSession, error) {
	var session store.NegotiationSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session payload")
	}
	return &session, nil
}
