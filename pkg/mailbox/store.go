package mailbox

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store persists mailbox state in sqlite. Messages keep their per-role,
// per-collection insertion order via a monotonic sequence column.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the mailbox database at dbPath
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Mailbox store initialized")
	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			collection TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_messages_role_collection
			ON messages(role, collection, seq);

		CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			options TEXT,
			context TEXT,
			state TEXT NOT NULL,
			answered INTEGER NOT NULL DEFAULT 0,
			answer TEXT,
			answered_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_questions_state ON questions(state);

		CREATE TABLE IF NOT EXISTS role_status (
			name TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			capabilities TEXT,
			last_activity INTEGER NOT NULL,
			waiting_for_response INTEGER NOT NULL DEFAULT 0
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AppendMessage appends a message to a role's collection
func (s *Store) AppendMessage(role, collection string, msg Message) error {
	if role == "" {
		return fmt.Errorf("role cannot be empty")
	}
	switch collection {
	case CollectionInbox, CollectionOutbox, CollectionConversation:
	default:
		return fmt.Errorf("unknown collection: %s", collection)
	}
	if msg.ID == "" {
		return fmt.Errorf("message id cannot be empty")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, role, collection, timestamp, sender, recipient, content, type, processed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, role, collection, msg.Timestamp.UnixNano(),
		msg.From, msg.To, msg.Content, msg.Type, boolToInt(msg.Processed),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Messages returns a role's collection in insertion order
func (s *Store) Messages(role, collection string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, sender, recipient, content, type, processed
		 FROM messages WHERE role = ? AND collection = ? ORDER BY seq ASC`,
		role, collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var ts int64
		var processed int
		if err := rows.Scan(&msg.ID, &ts, &msg.From, &msg.To, &msg.Content, &msg.Type, &processed); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = time.Unix(0, ts)
		msg.Processed = processed != 0
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DequeueMessage returns the oldest unprocessed message in a role's
// collection and marks it processed. Returns nil when the collection
// has no unprocessed messages.
func (s *Store) DequeueMessage(role, collection string) (*Message, error) {
	row := s.db.QueryRow(
		`SELECT id, timestamp, sender, recipient, content, type
		 FROM messages WHERE role = ? AND collection = ? AND processed = 0
		 ORDER BY seq ASC LIMIT 1`,
		role, collection,
	)

	var msg Message
	var ts int64
	err := row.Scan(&msg.ID, &ts, &msg.From, &msg.To, &msg.Content, &msg.Type)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Timestamp = time.Unix(0, ts)

	if err := s.MarkProcessed(msg.ID); err != nil {
		return nil, err
	}
	msg.Processed = true
	return &msg, nil
}

// MarkProcessed marks a message as processed
func (s *Store) MarkProcessed(messageID string) error {
	res, err := s.db.Exec(`UPDATE messages SET processed = 1 WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}
	return nil
}

// InsertQuestion persists a new question
func (s *Store) InsertQuestion(q Question) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	var answeredAt *int64
	if q.AnsweredAt != nil {
		v := q.AnsweredAt.UnixNano()
		answeredAt = &v
	}

	_, err = s.db.Exec(
		`INSERT INTO questions (id, timestamp, sender, text, options, context, state, answered, answer, answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Timestamp.UnixNano(), q.From, q.Text, string(options), q.Context,
		q.State, boolToInt(q.Answered), q.Answer, answeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}
	return nil
}

// UpdateQuestion persists a question's state transition
func (s *Store) UpdateQuestion(q Question) error {
	var answeredAt *int64
	if q.AnsweredAt != nil {
		v := q.AnsweredAt.UnixNano()
		answeredAt = &v
	}

	res, err := s.db.Exec(
		`UPDATE questions SET state = ?, answered = ?, answer = ?, answered_at = ? WHERE id = ?`,
		q.State, boolToInt(q.Answered), q.Answer, answeredAt, q.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("question not found: %s", q.ID)
	}
	return nil
}

// GetQuestion loads a question by id
func (s *Store) GetQuestion(id string) (*Question, error) {
	row := s.db.QueryRow(
		`SELECT id, timestamp, sender, text, options, context, state, answered, answer, answered_at
		 FROM questions WHERE id = ?`,
		id,
	)
	return scanQuestion(row)
}

// PendingQuestions returns all questions still in the created state
func (s *Store) PendingQuestions() ([]Question, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, sender, text, options, context, state, answered, answer, answered_at
		 FROM questions WHERE state = ? ORDER BY timestamp ASC`,
		StateCreated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		q, err := scanQuestionRows(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// DeleteQuestion removes a question entirely (cancellation path)
func (s *Store) DeleteQuestion(id string) error {
	_, err := s.db.Exec(`DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	return nil
}

// UpsertStatus writes a role's status record
func (s *Store) UpsertStatus(status RoleStatus) error {
	capabilities, err := json.Marshal(status.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	if status.LastActivity.IsZero() {
		status.LastActivity = time.Now()
	}

	_, err = s.db.Exec(
		`INSERT INTO role_status (name, status, capabilities, last_activity, waiting_for_response)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			capabilities = excluded.capabilities,
			last_activity = excluded.last_activity,
			waiting_for_response = excluded.waiting_for_response`,
		status.Name, status.Status, string(capabilities),
		status.LastActivity.UnixNano(), boolToInt(status.WaitingForResponse),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert status: %w", err)
	}
	return nil
}

// GetStatus loads a role's status record
func (s *Store) GetStatus(role string) (*RoleStatus, error) {
	row := s.db.QueryRow(
		`SELECT name, status, capabilities, last_activity, waiting_for_response
		 FROM role_status WHERE name = ?`,
		role,
	)

	var status RoleStatus
	var capabilities string
	var lastActivity int64
	var waiting int
	err := row.Scan(&status.Name, &status.Status, &capabilities, &lastActivity, &waiting)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan status: %w", err)
	}

	if capabilities != "" {
		if err := json.Unmarshal([]byte(capabilities), &status.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	status.LastActivity = time.Unix(0, lastActivity)
	status.WaitingForResponse = waiting != 0
	return &status, nil
}

// Compact deletes processed messages older than the given age and
// returns how many were removed.
func (s *Store) Compact(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	res, err := s.db.Exec(
		`DELETE FROM messages WHERE processed = 1 AND timestamp < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to compact messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("removed", n).Msg("Mailbox compacted")
	}
	return int(n), nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row *sql.Row) (*Question, error) {
	q, err := scanQuestionFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return q, err
}

func scanQuestionRows(rows *sql.Rows) (*Question, error) {
	return scanQuestionFrom(rows)
}

func scanQuestionFrom(scanner rowScanner) (*Question, error) {
	var q Question
	var ts int64
	var options, context sql.NullString
	var answered int
	var answer sql.NullString
	var answeredAt sql.NullInt64

	err := scanner.Scan(&q.ID, &ts, &q.From, &q.Text, &options, &context,
		&q.State, &answered, &answer, &answeredAt)
	if err != nil {
		return nil, err
	}

	q.Timestamp = time.Unix(0, ts)
	q.Answered = answered != 0
	if options.Valid && options.String != "" && options.String != "null" {
		if err := json.Unmarshal([]byte(options.String), &q.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	if context.Valid {
		q.Context = context.String
	}
	if answer.Valid {
		v := answer.String
		q.Answer = &v
	}
	if answeredAt.Valid {
		t := time.Unix(0, answeredAt.Int64)
		q.AnsweredAt = &t
	}
	return &q, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
