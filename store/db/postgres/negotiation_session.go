package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
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
		VALUES ($1, $2, $3, $4, $5, $6)
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
		payload,
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
	query := `SELECT payload FROM negotiation_session WHERE id = $1`

	var payload []byte
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
	where, args := []string{"TRUE"}, []any{}
	if find != nil {
		if v := find.ID; v != nil {
			args = append(args, *v)
			where = append(where, fmt.Sprintf("id = $%d", len(args)))
		}
		if len(find.Statuses) > 0 {
			list := make([]string, 0, len(find.Statuses))
			for _, status := range find.Statuses {
				args = append(args, string(status))
				list = append(list, fmt.Sprintf("$%d", len(args)))
			}
			where = append(where, "status IN ("+strings.Join(list, ", ")+")")
		}
		if v := find.NotExpiredAt; v != nil {
			args = append(args, v.Unix())
			where = append(where, fmt.Sprintf("expires_ts > $%d", len(args)))
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
		var payload []byte
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
	query := `
		DELETE FROM negotiation_session
		WHERE id IN (
			SELECT id FROM negotiation_session
			WHERE expires_ts <= $1 AND status != $2
			ORDER BY expires_ts ASC
		)
	`
	result, err := d.db.ExecContext(ctx, query, now.Unix(), string(store.StatusCompleted))
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}
	return result.RowsAffected()
}

func unmarshalSession(payload []byte) (*store.NegotiationSession, error) {
	var session store.NegotiationSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session payload")
	}
	return &session, nil
}
