// Package history records every viewer attempt in DuckDB so operators can
// see which hosted viewers actually work for their documents.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/qms-portal/docpreview/internal/logger"
	"github.com/qms-portal/docpreview/internal/models"
)

const defaultBatchSize = 256

type attemptRow struct {
	at          time.Time
	documentURL string
	attempt     models.ViewerAttempt
}

type sessionRow struct {
	at       time.Time
	state    models.PreviewState
	attempts int
}

// Store buffers attempts and sessions and appends them to DuckDB in batches.
// It implements preview.Observer.
type Store struct {
	db  *sql.DB
	log *logger.Logger

	mu        sync.Mutex
	batchSize int
	attempts  []attemptRow
	sessions  []sessionRow
	lastError error
}

// Open creates or opens the history database at path. An empty path keeps
// the history in memory.
func Open(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("history")

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	db := sql.OpenDB(connector)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			recorded_at  BIGINT NOT NULL,
			document_url VARCHAR NOT NULL,
			strategy     VARCHAR NOT NULL,
			outcome      VARCHAR NOT NULL,
			timeout_ms   BIGINT NOT NULL,
			duration_ms  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			finished_at  BIGINT NOT NULL,
			document_url VARCHAR NOT NULL,
			filename     VARCHAR NOT NULL,
			display_mode VARCHAR NOT NULL,
			strategy     VARCHAR NOT NULL,
			attempts     INTEGER NOT NULL,
			timers       INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create history table: %w", err)
		}
	}

	log.Debug("history store ready", "path", path)
	return &Store{
		db:        db,
		log:       log,
		batchSize: defaultBatchSize,
	}, nil
}

// AttemptFinished buffers a finished attempt.
func (s *Store) AttemptFinished(documentURL string, attempt models.ViewerAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attemptRow{at: time.Now(), documentURL: documentURL, attempt: attempt})
	s.flushIfFullLocked()
}

// SessionFinished buffers a session that reached a terminal state.
func (s *Store) SessionFinished(state models.PreviewState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sessionRow{at: time.Now(), state: state, attempts: len(state.Attempts)})
	s.flushIfFullLocked()
}

func (s *Store) flushIfFullLocked() {
	if len(s.attempts)+len(s.sessions) < s.batchSize {
		return
	}
	if err := s.flushLocked(); err != nil {
		s.lastError = err
		s.log.Warn("history flush failed", "error", err)
	}
}

// LastError returns the last error that occurred during a batch flush.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Flush writes buffered rows.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the buffers with the DuckDB appender.
func (s *Store) flushLocked() error {
	if len(s.attempts) == 0 && len(s.sessions) == 0 {
		return nil
	}

	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		if len(s.attempts) > 0 {
			appender, err := duckdb.NewAppenderFromConn(dConn, "", "attempts")
			if err != nil {
				return fmt.Errorf("failed to create appender: %w", err)
			}
			for i, row := range s.attempts {
				a := row.attempt
				if err := appender.AppendRow(
					row.at.UnixMilli(),
					row.documentURL,
					a.Strategy,
					string(a.Outcome),
					a.Timeout.Milliseconds(),
					a.Duration.Milliseconds(),
				); err != nil {
					appender.Close()
					return fmt.Errorf("failed to append attempt %d: %w", i, err)
				}
			}
			if err := appender.Close(); err != nil {
				return err
			}
		}

		if len(s.sessions) > 0 {
			appender, err := duckdb.NewAppenderFromConn(dConn, "", "sessions")
			if err != nil {
				return fmt.Errorf("failed to create appender: %w", err)
			}
			for i, row := range s.sessions {
				st := row.state
				if err := appender.AppendRow(
					row.at.UnixMilli(),
					st.DocumentURL,
					st.Filename,
					string(st.DisplayMode),
					st.Strategy,
					int32(row.attempts),
					int32(st.TimersStarted),
				); err != nil {
					appender.Close()
					return fmt.Errorf("failed to append session %d: %w", i, err)
				}
			}
			if err := appender.Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	s.attempts = s.attempts[:0]
	s.sessions = s.sessions[:0]
	return nil
}

// Close flushes pending rows and closes the database.
func (s *Store) Close() error {
	flushErr := s.Flush()
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}
