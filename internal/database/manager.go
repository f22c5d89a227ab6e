// Package database is the write-behind attendance archive. The in-memory
// stores remain the authority; the archive records history for downstream
// consumers (report export, audits) and is best-effort by contract.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"rollcall/pkg/types"
)

// Config holds archive connection settings.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// Manager implements the interfaces.Archiver interface over SQLite.
// All writes funnel through a single goroutine; SQLite allows concurrent
// readers but only one writer.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the archive database and starts the write loop.
func NewManager(cfg *Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				// Retry once; the archive is best-effort and the caller
				// logs whatever comes back.
				log.Printf("Archive write failed, retrying: %v", err)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("archive is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("archive write timeout")
	case <-m.shutdown:
		return fmt.Errorf("archive is shutting down")
	}
}

// ArchiveSession inserts a newly created session.
func (m *Manager) ArchiveSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		roster, err := json.Marshal(session.Roster)
		if err != nil {
			return fmt.Errorf("failed to marshal roster: %w", err)
		}

		var lat, lon, radius sql.NullFloat64
		if session.Anchor != nil {
			lat = sql.NullFloat64{Float64: session.Anchor.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: session.Anchor.Lon, Valid: true}
			radius = sql.NullFloat64{Float64: session.RadiusM, Valid: true}
		}

		_, err = db.ExecContext(ctx, `
			INSERT INTO sessions (id, mode, group_id, owner_id, topic, venue,
				anchor_lat, anchor_lon, radius_m, start_time, duration_min,
				active, notify_owner, roster)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.Mode, session.GroupID, session.OwnerID,
			session.Topic, session.Venue, lat, lon, radius,
			session.StartTime, session.DurationMin,
			session.Active, session.NotifyOwner, string(roster))
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// UpdateArchivedSession refreshes the mutable columns of a session row.
func (m *Manager) UpdateArchivedSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		roster, err := json.Marshal(session.Roster)
		if err != nil {
			return fmt.Errorf("failed to marshal roster: %w", err)
		}

		_, err = db.ExecContext(ctx, `
			UPDATE sessions SET duration_min = ?, active = ?, roster = ?
			WHERE id = ?`,
			session.DurationMin, session.Active, string(roster), session.ID)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// ArchiveSignIn records a presence timestamp. The primary key makes a
// duplicate write fail, mirroring the write-once rule upstream.
func (m *Manager) ArchiveSignIn(ctx context.Context, sessionID, userID string, at time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sign_ins (session_id, user_id, signed_in_at)
			VALUES (?, ?, ?)`,
			sessionID, userID, at)
		if err != nil {
			return fmt.Errorf("failed to insert sign-in: %w", err)
		}
		return nil
	})
}

// ArchiveNotification records a notification.
func (m *Manager) ArchiveNotification(ctx context.Context, n *types.Notification) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, session_id, message, read, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.UserID, n.SessionID, n.Message, n.Read, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
}

// ArchiveMessage records a message.
func (m *Manager) ArchiveMessage(ctx context.Context, msg *types.Message) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, sender, receiver, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, msg.Sender, msg.Receiver, msg.Content, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// SessionHistory returns archived sessions for a group, oldest first. An
// empty groupID returns all sessions. This is the read-only input that the
// external report-export collaborator consumes.
func (m *Manager) SessionHistory(ctx context.Context, groupID string) ([]*types.Session, error) {
	query := `
		SELECT id, mode, group_id, owner_id, topic, venue,
			anchor_lat, anchor_lon, radius_m, start_time, duration_min,
			active, notify_owner, roster
		FROM sessions`
	args := []interface{}{}
	if groupID != "" {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY start_time`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var s types.Session
		var venue sql.NullString
		var lat, lon, radius sql.NullFloat64
		var roster string

		err := rows.Scan(&s.ID, &s.Mode, &s.GroupID, &s.OwnerID, &s.Topic,
			&venue, &lat, &lon, &radius, &s.StartTime, &s.DurationMin,
			&s.Active, &s.NotifyOwner, &roster)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		s.Venue = venue.String
		if lat.Valid && lon.Valid {
			s.Anchor = &types.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
			s.RadiusM = radius.Float64
		}
		if err := json.Unmarshal([]byte(roster), &s.Roster); err != nil {
			return nil, fmt.Errorf("failed to unmarshal roster for session %s: %w", s.ID, err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("archive is closed")
	}
	return m.db.PingContext(ctx)
}

// Close stops the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}
