package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Niceiyke/Code-cli/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS clis (
		cli_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		title TEXT,
		cli_id TEXT,
		path TEXT NOT NULL,
		external_session_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS attachments (
		attachment_id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(message_id) ON DELETE CASCADE,
		file_name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession persists a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, params SessionParams) (*domain.Session, error) {
	session := &domain.Session{
		ID:        uuid.NewString(),
		Title:     params.Title,
		CLIID:     params.CLIID,
		Path:      params.Path,
		CreatedAt: time.Now().UTC(),
	}

	query := `
	INSERT INTO sessions (session_id, title, cli_id, path, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, nullable(session.Title), nullable(session.CLIID),
		session.Path, session.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `
	SELECT session_id, title, cli_id, path, external_session_id, created_at
	FROM sessions ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetSession retrieves a session without its messages.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
	SELECT session_id, title, cli_id, path, external_session_id, created_at
	FROM sessions WHERE session_id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSessionWithMessages retrieves a session with its ordered messages and
// attachment metadata.
func (s *SQLiteStore) GetSessionWithMessages(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return session, err
	}

	query := `
	SELECT message_id, session_id, role, content, created_at
	FROM messages WHERE session_id = ?
	ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	byID := make(map[string]*domain.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, msg)
		byID[msg.ID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if err := s.attachMeta(ctx, sessionID, byID); err != nil {
		return nil, err
	}
	return session, nil
}

// attachMeta loads attachment metadata for every message in the session and
// hangs it off the matching entries in byID.
func (s *SQLiteStore) attachMeta(ctx context.Context, sessionID string, byID map[string]*domain.Message) error {
	if len(byID) == 0 {
		return nil
	}

	query := `
	SELECT a.attachment_id, a.message_id, a.file_name, a.mime_type, a.created_at
	FROM attachments a
	JOIN messages m ON m.message_id = a.message_id
	WHERE m.session_id = ?
	ORDER BY a.created_at ASC, a.rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("query attachment metadata: %w", err)
	}
	defer closeRows(rows, "attachment metadata")

	for rows.Next() {
		var meta domain.AttachmentMeta
		var messageID string
		var createdAt int64
		if err := rows.Scan(&meta.ID, &messageID, &meta.FileName, &meta.MimeType, &createdAt); err != nil {
			return fmt.Errorf("scan attachment metadata: %w", err)
		}
		meta.CreatedAt = time.Unix(createdAt, 0).UTC()
		if msg, ok := byID[messageID]; ok {
			msg.Attachments = append(msg.Attachments, &meta)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attachment metadata: %w", err)
	}
	return nil
}

// UpdateSession applies a partial update; empty patch fields keep the
// current value.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return session, err
	}

	if patch.Title != "" {
		session.Title = patch.Title
	}
	if patch.CLIID != "" {
		session.CLIID = patch.CLIID
	}
	if patch.Path != "" {
		session.Path = patch.Path
	}

	query := `UPDATE sessions SET title = ?, cli_id = ?, path = ? WHERE session_id = ?`
	_, err = s.db.ExecContext(ctx, query,
		nullable(session.Title), nullable(session.CLIID), session.Path, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session and cascades its messages and attachments.
// Cascades run as explicit deletes inside one transaction so behavior does
// not depend on the foreign_keys pragma surviving the connection pool.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete session: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		DELETE FROM attachments WHERE message_id IN
		(SELECT message_id FROM messages WHERE session_id = ?)`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session attachments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("delete session messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete session: %w", err)
	}
	return affected > 0, nil
}

// SetExternalSessionID records the workflow engine's session id. Last
// writer wins across repeated callbacks.
func (s *SQLiteStore) SetExternalSessionID(ctx context.Context, sessionID, externalID string) error {
	query := `UPDATE sessions SET external_session_id = ? WHERE session_id = ?`
	res, err := s.db.ExecContext(ctx, query, externalID, sessionID)
	if err != nil {
		return fmt.Errorf("set external session id: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		slog.Warn("SetExternalSessionID affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// CreateTurn inserts the user message and its pending placeholder in one
// transaction, guaranteeing the callback target exists before any dispatch
// is attempted. Returns (nil, nil, nil) when the session does not exist.
func (s *SQLiteStore) CreateTurn(ctx context.Context, sessionID, content string, attachments []AttachmentParams) (*domain.Message, *domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin turn: %w", err)
	}
	defer rollback(tx)

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("check session: %w", err)
	}

	now := time.Now().UTC()
	userMsg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: now,
	}
	placeholder := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      domain.RoleAI,
		Content:   domain.PendingContent,
		CreatedAt: now,
	}

	insertMsg := `
	INSERT INTO messages (message_id, session_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)`

	for _, msg := range []*domain.Message{userMsg, placeholder} {
		if _, err := tx.ExecContext(ctx, insertMsg,
			msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt.Unix()); err != nil {
			return nil, nil, fmt.Errorf("insert %s message: %w", msg.Role, err)
		}
	}

	insertAtt := `
	INSERT INTO attachments (attachment_id, message_id, file_name, mime_type, data, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	for _, att := range attachments {
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, insertAtt,
			id, userMsg.ID, att.FileName, att.MimeType, att.Data, now.Unix()); err != nil {
			return nil, nil, fmt.Errorf("insert attachment: %w", err)
		}
		userMsg.Attachments = append(userMsg.Attachments, &domain.AttachmentMeta{
			ID:        id,
			FileName:  att.FileName,
			MimeType:  att.MimeType,
			CreatedAt: now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit turn: %w", err)
	}
	return userMsg, placeholder, nil
}

// GetMessage retrieves a single message with attachment metadata.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	query := `
	SELECT message_id, session_id, role, content, created_at
	FROM messages WHERE message_id = ?`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	atts, err := s.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	for _, att := range atts {
		msg.Attachments = append(msg.Attachments, att.Meta())
	}
	return msg, nil
}

// UpdateMessageContent overwrites a message's content. Content is the only
// message field mutated after creation.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	query := `UPDATE messages SET content = ? WHERE message_id = ?`
	res, err := s.db.ExecContext(ctx, query, content, messageID)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		slog.Warn("UpdateMessageContent affected 0 rows", "message_id", messageID)
	}
	return nil
}

// CountAIMessages returns how many "ai" messages the session holds.
func (s *SQLiteStore) CountAIMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = ?`
	if err := s.db.QueryRowContext(ctx, query, sessionID, domain.RoleAI).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ai messages: %w", err)
	}
	return count, nil
}

// ListAttachments returns the full attachments of a message, payload
// included, in creation order.
func (s *SQLiteStore) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	query := `
	SELECT attachment_id, message_id, file_name, mime_type, data, created_at
	FROM attachments WHERE message_id = ?
	ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer closeRows(rows, "attachments")

	var atts []*domain.Attachment
	for rows.Next() {
		var att domain.Attachment
		var createdAt int64
		if err := rows.Scan(&att.ID, &att.MessageID, &att.FileName, &att.MimeType, &att.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		att.CreatedAt = time.Unix(createdAt, 0).UTC()
		atts = append(atts, &att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return atts, nil
}

// CreateCLI persists a new CLI profile.
func (s *SQLiteStore) CreateCLI(ctx context.Context, name, description string) (*domain.CLI, error) {
	cli := &domain.CLI{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	query := `INSERT INTO clis (cli_id, name, description, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		cli.ID, cli.Name, nullable(cli.Description), cli.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert cli: %w", err)
	}
	return cli, nil
}

// ListCLIs returns all CLI profiles, newest first.
func (s *SQLiteStore) ListCLIs(ctx context.Context) ([]*domain.CLI, error) {
	query := `
	SELECT cli_id, name, description, created_at
	FROM clis ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query clis: %w", err)
	}
	defer closeRows(rows, "clis")

	var clis []*domain.CLI
	for rows.Next() {
		cli, err := scanCLI(rows)
		if err != nil {
			return nil, err
		}
		clis = append(clis, cli)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clis: %w", err)
	}
	return clis, nil
}

// GetCLI retrieves a CLI profile.
func (s *SQLiteStore) GetCLI(ctx context.Context, cliID string) (*domain.CLI, error) {
	query := `SELECT cli_id, name, description, created_at FROM clis WHERE cli_id = ?`
	cli, err := scanCLI(s.db.QueryRowContext(ctx, query, cliID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// DeleteCLI removes a CLI profile. Sessions referencing it keep their
// cli_id; the dispatcher falls back to the default label when the lookup
// comes back empty.
func (s *SQLiteStore) DeleteCLI(ctx context.Context, cliID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clis WHERE cli_id = ?`, cliID)
	if err != nil {
		return false, fmt.Errorf("delete cli: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cli rows affected: %w", err)
	}
	return affected > 0, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var session domain.Session
	var title, cliID, externalID sql.NullString
	var createdAt int64

	err := row.Scan(&session.ID, &title, &cliID, &session.Path, &externalID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Title = title.String
	session.CLIID = cliID.String
	session.ExternalSessionID = externalID.String
	session.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &session, nil
}

func scanMessage(row scanner) (*domain.Message, error) {
	var msg domain.Message
	var createdAt int64

	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}

	msg.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &msg, nil
}

func scanCLI(row scanner) (*domain.CLI, error) {
	var cli domain.CLI
	var description sql.NullString
	var createdAt int64

	err := row.Scan(&cli.ID, &cli.Name, &description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan cli row: %w", err)
	}

	cli.Description = description.String
	cli.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &cli, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("transaction rollback failed", "error", err)
	}
}
