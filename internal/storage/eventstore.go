package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/midi-sniffer/backend/internal/logging"
	"github.com/midi-sniffer/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultBatchSize is the number of summaries buffered before an append.
const DefaultBatchSize = 512

type storedSummary struct {
	sessionID string
	summary   models.Summary
}

// EventStore records grouped summaries in DuckDB. An empty path keeps the
// database in memory. It is safe for concurrent use.
type EventStore struct {
	db        *sql.DB
	path      string
	batchSize int
	log       *slog.Logger

	mu        sync.Mutex
	batch     []storedSummary
	nextID    int
	lastError error
}

// FunctionCount is the number of grouped events recorded for one function.
type FunctionCount struct {
	Function  string `json:"function"`
	Summaries int    `json:"summaries"`
	Events    int    `json:"events"`
}

// NewEventStore opens or creates the summary database at path.
func NewEventStore(path string, logger *slog.Logger) (*EventStore, error) {
	log := logging.Component(logger, "eventstore")

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
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
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			id           INTEGER PRIMARY KEY,
			session_id   VARCHAR NOT NULL,
			window_start BIGINT NOT NULL,
			last_at      BIGINT NOT NULL,
			class        TINYINT NOT NULL,
			channel      TINYINT NOT NULL,
			data1        TINYINT NOT NULL,
			function     VARCHAR NOT NULL,
			control_type VARCHAR NOT NULL,
			deck         TINYINT NOT NULL,
			count        INTEGER NOT NULL,
			final_value  INTEGER NOT NULL,
			final_data2  TINYINT NOT NULL,
			action       VARCHAR NOT NULL,
			hires_role   VARCHAR NOT NULL,
			hires_anchor TINYINT NOT NULL,
			hires_done   BOOLEAN NOT NULL,
			read_only    BOOLEAN NOT NULL,
			builtin      BOOLEAN NOT NULL,
			reason       VARCHAR NOT NULL,
			mapping      BLOB NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	var nextID int
	if err := db.QueryRow("SELECT COALESCE(MAX(id) + 1, 0) FROM summaries").Scan(&nextID); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read summary ids: %w", err)
	}

	log.Info("summary store opened", "path", path, "nextId", nextID)
	return &EventStore{
		db:        db,
		path:      path,
		batchSize: DefaultBatchSize,
		log:       log,
		batch:     make([]storedSummary, 0, DefaultBatchSize),
		nextID:    nextID,
	}, nil
}

// Add buffers a summary for sessionID, appending the batch once it is full.
func (es *EventStore) Add(sessionID string, s models.Summary) {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.batch = append(es.batch, storedSummary{sessionID: sessionID, summary: s})
	if len(es.batch) >= es.batchSize {
		if err := es.flushLocked(); err != nil {
			es.lastError = err
			es.log.Error("append summaries failed", "error", err)
		}
	}
}

// Sink returns a session sink that records into the store under sessionID.
func (es *EventStore) Sink(sessionID string) *SessionSink {
	return &SessionSink{store: es, sessionID: sessionID}
}

// Flush appends any buffered summaries.
func (es *EventStore) Flush() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.flushLocked()
}

// LastError returns the last background append error.
func (es *EventStore) LastError() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.lastError
}

// Pending returns the number of buffered summaries not yet appended.
func (es *EventStore) Pending() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.batch)
}

func (es *EventStore) flushLocked() error {
	if len(es.batch) == 0 {
		return nil
	}

	conn, err := es.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "summaries")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		for i, rec := range es.batch {
			s := rec.summary
			controlType := ""
			deck := models.DeckNone
			var readOnly, builtin bool
			mapping := []byte{}
			if s.Resolved != nil {
				controlType = string(s.Resolved.ControlType)
				deck = s.Resolved.Deck
				readOnly = s.Resolved.ReadOnly
				builtin = s.Resolved.Builtin
				if mapping, err = msgpack.Marshal(s.Resolved); err != nil {
					return fmt.Errorf("failed to encode mapping of row %d: %w", i, err)
				}
			}
			var hiresRole models.HiResRole
			var hiresAnchor uint8
			var hiresDone bool
			if s.HiRes != nil {
				hiresRole = s.HiRes.Role
				hiresAnchor = s.HiRes.Anchor.Data1
				hiresDone = s.HiRes.Complete
			}
			err = appender.AppendRow(
				int32(es.nextID+i),
				rec.sessionID,
				s.WindowStart.UnixMicro(),
				s.LastAt.UnixMicro(),
				int8(s.Key.Class),
				int8(s.Key.Channel),
				int8(s.Key.Data1),
				s.Function(),
				controlType,
				int8(deck),
				int32(s.Count),
				int32(s.FinalValue),
				int8(s.FinalData2),
				string(s.Action),
				string(hiresRole),
				int8(hiresAnchor),
				hiresDone,
				readOnly,
				builtin,
				string(s.Reason),
				mapping,
			)
			if err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	es.nextID += len(es.batch)
	es.batch = es.batch[:0]
	return nil
}

// Query returns the newest limit summaries of a session, oldest first. An
// empty function matches all; limit <= 0 returns all.
func (es *EventStore) Query(ctx context.Context, sessionID, function string, limit int) ([]models.Summary, error) {
	if err := es.Flush(); err != nil {
		return nil, err
	}

	query := `
		SELECT window_start, last_at, class, channel, data1, function, control_type, deck,
		       count, final_value, final_data2, action, hires_role, hires_anchor, hires_done,
		       reason, mapping
		FROM summaries WHERE session_id = ?`
	args := []interface{}{sessionID}
	if function != "" {
		query += " AND function = ?"
		args = append(args, function)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary query failed: %w", err)
	}
	defer rows.Close()

	var out []models.Summary
	for rows.Next() {
		var (
			windowStart, lastAt         int64
			class, channel, data1, deck int8
			fn, controlType, action     string
			count, finalValue           int32
			finalData2, hiresAnchor     int8
			hiresRole, reason           string
			hiresDone                   bool
			mapping                     []byte
		)
		if err := rows.Scan(&windowStart, &lastAt, &class, &channel, &data1, &fn, &controlType, &deck,
			&count, &finalValue, &finalData2, &action, &hiresRole, &hiresAnchor, &hiresDone,
			&reason, &mapping); err != nil {
			return nil, fmt.Errorf("summary scan failed: %w", err)
		}

		key := models.MessageKey{Class: models.MessageClass(class), Channel: uint8(channel), Data1: uint8(data1)}
		s := models.Summary{
			Key:         key,
			Count:       int(count),
			FinalValue:  uint16(finalValue),
			FinalData2:  uint8(finalData2),
			Action:      models.Action(action),
			WindowStart: time.UnixMicro(windowStart),
			LastAt:      time.UnixMicro(lastAt),
			Reason:      models.FlushReason(reason),
		}
		if len(mapping) > 0 {
			s.Resolved = &models.ResolvedMapping{}
			if err := msgpack.Unmarshal(mapping, s.Resolved); err != nil {
				return nil, fmt.Errorf("summary mapping decode failed: %w", err)
			}
		} else if fn != "" {
			s.Resolved = &models.ResolvedMapping{
				Function:    fn,
				ControlType: models.ControlType(controlType),
				Deck:        models.DeckIndex(deck),
			}
		}
		if hiresRole != "" {
			anchor := key
			anchor.Data1 = uint8(hiresAnchor)
			s.HiRes = &models.HiResInfo{Role: models.HiResRole(hiresRole), Anchor: anchor, Complete: hiresDone}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// FunctionCounts totals a session's summaries per function, busiest first.
// Unresolved traffic is reported under the empty function.
func (es *EventStore) FunctionCounts(ctx context.Context, sessionID string) ([]FunctionCount, error) {
	if err := es.Flush(); err != nil {
		return nil, err
	}

	rows, err := es.db.QueryContext(ctx, `
		SELECT function, COUNT(*), CAST(SUM(count) AS BIGINT)
		FROM summaries WHERE session_id = ?
		GROUP BY function
		ORDER BY 3 DESC, function`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("function count query failed: %w", err)
	}
	defer rows.Close()

	var out []FunctionCount
	for rows.Next() {
		var fc FunctionCount
		var events int64
		if err := rows.Scan(&fc.Function, &fc.Summaries, &events); err != nil {
			return nil, err
		}
		fc.Events = int(events)
		out = append(out, fc)
	}
	return out, rows.Err()
}

// DeleteSession removes a session's summaries.
func (es *EventStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := es.Flush(); err != nil {
		return err
	}
	if _, err := es.db.ExecContext(ctx, "DELETE FROM summaries WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete summaries failed: %w", err)
	}
	return nil
}

// Close flushes buffered summaries and closes the database.
func (es *EventStore) Close() error {
	err := es.Flush()
	if es.db != nil {
		if cerr := es.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SessionSink records one session's summaries.
type SessionSink struct {
	store     *EventStore
	sessionID string
}

func (s *SessionSink) Emit(sum models.Summary) {
	s.store.Add(s.sessionID, sum)
}
