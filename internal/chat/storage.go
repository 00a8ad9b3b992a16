package chat

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"whisker/internal/user"
)

// Storage is the raw SQL surface under the chat repository. Mutating methods
// take the *sql.Tx of the unit they belong to; reads go against the pool.
type Storage interface {
	// Conversations
	SaveConversation(tx *sql.Tx, c *Conversation) (bool, error)
	ConversationByID(id int64) (*Conversation, error)
	ConversationByPairKey(key string) (*Conversation, error)
	UpdateConversationSettings(tx *sql.Tx, id int64, name, description string) error
	TouchConversation(tx *sql.Tx, id int64, t time.Time) error
	DeleteConversation(tx *sql.Tx, id int64) error
	UserConversations(userID int64) ([]*Conversation, error)

	// Membership ledger
	AddMember(tx *sql.Tx, conversationID, userID int64, joinedAt time.Time) error
	RemoveMember(tx *sql.Tx, conversationID, userID int64) (int, error)
	Members(conversationID int64) ([]*user.User, error)
	IsMember(conversationID, userID int64) (bool, error)
	AddAdmin(tx *sql.Tx, conversationID, userID int64) error
	RemoveAdmin(tx *sql.Tx, conversationID, userID int64) error
	EnsureAdmin(tx *sql.Tx, conversationID int64) error
	AdminUsernames(conversationID int64) ([]string, error)
	IsAdmin(conversationID, userID int64) (bool, error)
	FirstAdminID(conversationID int64) (int64, error)

	// Message store
	SaveMessage(tx *sql.Tx, m *Message) error
	MessageByID(id int64) (*Message, error)
	MarkMessageDeleted(tx *sql.Tx, id int64) error
	UpdateMessageText(tx *sql.Tx, id int64, text string) error
	LatestNonDeleted(conversationID int64) (*Message, error)
	MessagesBefore(conversationID, beforeID int64, limit int) ([]*Message, error)
	MessageCount(conversationID int64) (int, error)

	// Read-state tracker
	InsertUnreadMarks(tx *sql.Tx, conversationID, messageID, exceptUserID int64) error
	ClearUnread(tx *sql.Tx, conversationID, userID int64) error
	HasUnread(conversationID, userID int64) (bool, error)
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// SaveConversation inserts c and reports whether the row landed. A false
// return without error means another writer already holds the pair key.
func (r *PostgresStorage) SaveConversation(tx *sql.Tx, c *Conversation) (bool, error) {
	err := tx.QueryRow(`
		INSERT INTO conversations (kind, name, description, is_verified, secret, pair_key, last_time, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (pair_key) DO NOTHING
		RETURNING id`,
		c.Kind, c.Name, c.Description, c.IsVerified, c.Secret, c.PairKey, c.LastTime, c.CreatedAt).Scan(&c.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const conversationColumns = `
	SELECT id, kind, name, description, is_verified, secret, COALESCE(pair_key, ''), last_time, created_at
	FROM conversations`

func scanConversation(row *sql.Row) (*Conversation, error) {
	c := &Conversation{}
	err := row.Scan(&c.ID, &c.Kind, &c.Name, &c.Description, &c.IsVerified, &c.Secret,
		&c.PairKey, &c.LastTime, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresStorage) ConversationByID(id int64) (*Conversation, error) {
	return scanConversation(r.db.QueryRow(conversationColumns+" WHERE id = $1", id))
}

func (r *PostgresStorage) ConversationByPairKey(key string) (*Conversation, error) {
	return scanConversation(r.db.QueryRow(conversationColumns+" WHERE pair_key = $1", key))
}

func (r *PostgresStorage) UpdateConversationSettings(tx *sql.Tx, id int64, name, description string) error {
	_, err := tx.Exec("UPDATE conversations SET name = $1, description = $2 WHERE id = $3",
		name, description, id)
	return err
}

func (r *PostgresStorage) TouchConversation(tx *sql.Tx, id int64, t time.Time) error {
	_, err := tx.Exec("UPDATE conversations SET last_time = $1 WHERE id = $2", t, id)
	return err
}

func (r *PostgresStorage) DeleteConversation(tx *sql.Tx, id int64) error {
	// Children (members, admins, messages, unread marks) go with the FK cascades.
	_, err := tx.Exec("DELETE FROM conversations WHERE id = $1", id)
	return err
}

func (r *PostgresStorage) UserConversations(userID int64) ([]*Conversation, error) {
	rows, err := r.db.Query(`
		SELECT c.id, c.kind, c.name, c.description, c.is_verified, c.secret,
		       COALESCE(c.pair_key, ''), c.last_time, c.created_at
		FROM conversations c
		JOIN members m ON m.conversation_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.last_time DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c := &Conversation{}
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.Description, &c.IsVerified,
			&c.Secret, &c.PairKey, &c.LastTime, &c.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (r *PostgresStorage) AddMember(tx *sql.Tx, conversationID, userID int64, joinedAt time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO members (conversation_id, user_id, joined_at)
		VALUES ($1, $2, $3)`,
		conversationID, userID, joinedAt)
	return err
}

// RemoveMember deletes the membership row and returns the remaining member
// count so the caller can decide on teardown inside the same transaction.
func (r *PostgresStorage) RemoveMember(tx *sql.Tx, conversationID, userID int64) (int, error) {
	_, err := tx.Exec("DELETE FROM members WHERE conversation_id = $1 AND user_id = $2",
		conversationID, userID)
	if err != nil {
		return 0, err
	}
	var remaining int
	err = tx.QueryRow("SELECT COUNT(*) FROM members WHERE conversation_id = $1", conversationID).
		Scan(&remaining)
	return remaining, err
}

func (r *PostgresStorage) Members(conversationID int64) ([]*user.User, error) {
	rows, err := r.db.Query(`
		SELECT u.id, u.username, u.description, u.image_file, COALESCE(u.rank, ''),
		       u.is_admin, u.is_tester, u.is_verified, u.reg_time
		FROM users u
		JOIN members m ON m.user_id = u.id
		WHERE m.conversation_id = $1
		ORDER BY m.joined_at, u.id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*user.User
	for rows.Next() {
		u := &user.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Description, &u.ImageFile, &u.Rank,
			&u.IsAdmin, &u.IsTester, &u.IsVerified, &u.RegTime); err != nil {
			return nil, err
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

func (r *PostgresStorage) IsMember(conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM members WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID).Scan(&exists)
	return exists, err
}

func (r *PostgresStorage) AddAdmin(tx *sql.Tx, conversationID, userID int64) error {
	_, err := tx.Exec("INSERT INTO admins (conversation_id, user_id) VALUES ($1, $2)",
		conversationID, userID)
	return err
}

func (r *PostgresStorage) RemoveAdmin(tx *sql.Tx, conversationID, userID int64) error {
	_, err := tx.Exec("DELETE FROM admins WHERE conversation_id = $1 AND user_id = $2",
		conversationID, userID)
	return err
}

// EnsureAdmin promotes the earliest-joined member when a conversation is left
// without any admin, keeping the admins-nonempty invariant for non-empty
// groups. No-op when an admin remains.
func (r *PostgresStorage) EnsureAdmin(tx *sql.Tx, conversationID int64) error {
	_, err := tx.Exec(`
		INSERT INTO admins (conversation_id, user_id)
		SELECT m.conversation_id, m.user_id FROM members m
		WHERE m.conversation_id = $1
		  AND NOT EXISTS (SELECT 1 FROM admins a WHERE a.conversation_id = $1)
		ORDER BY m.joined_at, m.user_id
		LIMIT 1`, conversationID)
	return err
}

// AdminUsernames returns admins in seniority order (insertion order of the
// admin rows, oldest first).
func (r *PostgresStorage) AdminUsernames(conversationID int64) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT u.username
		FROM users u
		JOIN admins a ON a.user_id = u.id
		WHERE a.conversation_id = $1
		ORDER BY a.id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *PostgresStorage) IsAdmin(conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM admins WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID).Scan(&exists)
	return exists, err
}

// FirstAdminID returns the user holding the earliest-granted admin row, the
// only principal allowed to promote or demote.
func (r *PostgresStorage) FirstAdminID(conversationID int64) (int64, error) {
	var userID int64
	err := r.db.QueryRow(`
		SELECT user_id FROM admins WHERE conversation_id = $1 ORDER BY id LIMIT 1`,
		conversationID).Scan(&userID)
	return userID, err
}

func (r *PostgresStorage) SaveMessage(tx *sql.Tx, m *Message) error {
	var params any
	if m.SystemParams != nil {
		encoded, err := json.Marshal(m.SystemParams)
		if err != nil {
			return err
		}
		params = encoded
	}
	var replyTo any
	if m.ReplyTo != nil {
		replyTo = *m.ReplyTo
	}
	return tx.QueryRow(`
		INSERT INTO messages (conversation_id, user_id, text, send_time, is_deleted, is_edited,
		                      is_system, system_type, system_params, reply_to, is_forwarded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		m.ConversationID, m.UserID, m.Text, m.SendTime, m.IsDeleted, m.IsEdited,
		m.IsSystem, m.SystemType, params, replyTo, m.IsForwarded).Scan(&m.ID)
}

const messageColumns = `
	SELECT m.id, m.conversation_id, m.user_id, u.username, m.text, m.send_time,
	       m.is_deleted, m.is_edited, m.is_system, m.system_type, m.system_params,
	       m.reply_to, m.is_forwarded
	FROM messages m
	JOIN users u ON u.id = m.user_id`

type messageScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row messageScanner) (*Message, error) {
	m := &Message{}
	var params []byte
	var replyTo sql.NullInt64
	err := row.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Author, &m.Text, &m.SendTime,
		&m.IsDeleted, &m.IsEdited, &m.IsSystem, &m.SystemType, &params, &replyTo, &m.IsForwarded)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &m.SystemParams); err != nil {
			return nil, err
		}
	}
	if replyTo.Valid {
		m.ReplyTo = &replyTo.Int64
	}
	return m, nil
}

func (r *PostgresStorage) MessageByID(id int64) (*Message, error) {
	return scanMessage(r.db.QueryRow(messageColumns+" WHERE m.id = $1", id))
}

func (r *PostgresStorage) MarkMessageDeleted(tx *sql.Tx, id int64) error {
	// Soft delete: the text column keeps its contents for audit.
	_, err := tx.Exec("UPDATE messages SET is_deleted = TRUE WHERE id = $1", id)
	return err
}

func (r *PostgresStorage) UpdateMessageText(tx *sql.Tx, id int64, text string) error {
	_, err := tx.Exec("UPDATE messages SET text = $1, is_edited = TRUE WHERE id = $2", text, id)
	return err
}

func (r *PostgresStorage) LatestNonDeleted(conversationID int64) (*Message, error) {
	return scanMessage(r.db.QueryRow(messageColumns+`
		WHERE m.conversation_id = $1 AND m.is_deleted = FALSE
		ORDER BY m.id DESC LIMIT 1`, conversationID))
}

// MessagesBefore returns up to limit messages with id < beforeID, newest
// first. beforeID 0 means unbounded.
func (r *PostgresStorage) MessagesBefore(conversationID, beforeID int64, limit int) ([]*Message, error) {
	query := messageColumns + `
		WHERE m.conversation_id = $1 AND ($2 = 0 OR m.id < $2)
		ORDER BY m.id DESC LIMIT $3`
	rows, err := r.db.Query(query, conversationID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresStorage) MessageCount(conversationID int64) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = $1",
		conversationID).Scan(&count)
	return count, err
}

// InsertUnreadMarks fans a new message out to every member except its author.
// Existing marks are left alone.
func (r *PostgresStorage) InsertUnreadMarks(tx *sql.Tx, conversationID, messageID, exceptUserID int64) error {
	_, err := tx.Exec(`
		INSERT INTO unread_marks (user_id, message_id, conversation_id)
		SELECT user_id, $2, $1 FROM members
		WHERE conversation_id = $1 AND user_id <> $3
		ON CONFLICT DO NOTHING`,
		conversationID, messageID, exceptUserID)
	return err
}

func (r *PostgresStorage) ClearUnread(tx *sql.Tx, conversationID, userID int64) error {
	_, err := tx.Exec("DELETE FROM unread_marks WHERE user_id = $1 AND conversation_id = $2",
		userID, conversationID)
	return err
}

func (r *PostgresStorage) HasUnread(conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM unread_marks WHERE user_id = $1 AND conversation_id = $2)`,
		userID, conversationID).Scan(&exists)
	return exists, err
}
