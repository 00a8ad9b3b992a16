package chat

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"whisker/internal/user"
)

// memStore implements Storage over maps, honoring the same uniqueness rules
// the Postgres schema enforces, so the real repository and service logic run
// under test without a database.
type memStore struct {
	mu sync.Mutex

	nextConvID  int64
	nextMsgID   int64
	nextAdminID int64

	convs    map[int64]*Conversation
	pairKeys map[string]int64
	members  map[int64]map[int64]time.Time // conv -> user -> joined_at
	admins   map[int64]map[int64]int64     // conv -> user -> admin row id
	messages map[int64]*Message
	unread   map[int64]map[int64]int64 // user -> message -> conv

	usersByID map[int64]*user.User
}

func newMemStore() *memStore {
	return &memStore{
		convs:    map[int64]*Conversation{},
		pairKeys: map[string]int64{},
		members:  map[int64]map[int64]time.Time{},
		admins:   map[int64]map[int64]int64{},
		messages: map[int64]*Message{},
		unread:   map[int64]map[int64]int64{},
	}
}

var errUnique = &pq.Error{Code: "23505"}

func (s *memStore) SaveConversation(tx *sql.Tx, c *Conversation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.PairKey != "" {
		if _, exists := s.pairKeys[c.PairKey]; exists {
			return false, nil
		}
	}
	s.nextConvID++
	stored := *c
	stored.ID = s.nextConvID
	c.ID = s.nextConvID
	s.convs[stored.ID] = &stored
	if c.PairKey != "" {
		s.pairKeys[c.PairKey] = stored.ID
	}
	s.members[stored.ID] = map[int64]time.Time{}
	s.admins[stored.ID] = map[int64]int64{}
	return true, nil
}

func (s *memStore) ConversationByID(id int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (s *memStore) ConversationByPairKey(key string) (*Conversation, error) {
	s.mu.Lock()
	id, ok := s.pairKeys[key]
	s.mu.Unlock()
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.ConversationByID(id)
}

func (s *memStore) UpdateConversationSettings(tx *sql.Tx, id int64, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		c.Name = name
		c.Description = description
	}
	return nil
}

func (s *memStore) TouchConversation(tx *sql.Tx, id int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		c.LastTime = t
	}
	return nil
}

func (s *memStore) DeleteConversation(tx *sql.Tx, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil
	}
	if c.PairKey != "" {
		delete(s.pairKeys, c.PairKey)
	}
	delete(s.convs, id)
	delete(s.members, id)
	delete(s.admins, id)
	for msgID, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	for _, marks := range s.unread {
		for msgID, convID := range marks {
			if convID == id {
				delete(marks, msgID)
			}
		}
	}
	return nil
}

func (s *memStore) UserConversations(userID int64) ([]*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var convs []*Conversation
	for id, members := range s.members {
		if _, ok := members[userID]; ok {
			copied := *s.convs[id]
			convs = append(convs, &copied)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastTime.After(convs[j].LastTime)
	})
	return convs, nil
}

func (s *memStore) AddMember(tx *sql.Tx, conversationID, userID int64, joinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.members[conversationID]
	if _, exists := members[userID]; exists {
		return errUnique
	}
	members[userID] = joinedAt
	return nil
}

func (s *memStore) RemoveMember(tx *sql.Tx, conversationID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[conversationID], userID)
	return len(s.members[conversationID]), nil
}

func (s *memStore) Members(conversationID int64) ([]*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		id     int64
		joined time.Time
	}
	var entries []entry
	for id, joined := range s.members[conversationID] {
		entries = append(entries, entry{id, joined})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].joined.Equal(entries[j].joined) {
			return entries[i].id < entries[j].id
		}
		return entries[i].joined.Before(entries[j].joined)
	})
	members := make([]*user.User, len(entries))
	for i, e := range entries {
		members[i] = s.userByID(e.id)
	}
	return members, nil
}

// addUser registers a user so Members and AdminUsernames can resolve names.
func (s *memStore) addUser(u *user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersByID == nil {
		s.usersByID = map[int64]*user.User{}
	}
	s.usersByID[u.ID] = u
}

func (s *memStore) userByID(id int64) *user.User {
	if s.usersByID == nil {
		return &user.User{ID: id}
	}
	if u, ok := s.usersByID[id]; ok {
		copied := *u
		return &copied
	}
	return &user.User{ID: id}
}

func (s *memStore) IsMember(conversationID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[conversationID][userID]
	return ok, nil
}

func (s *memStore) AddAdmin(tx *sql.Tx, conversationID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	admins := s.admins[conversationID]
	if _, exists := admins[userID]; exists {
		return errUnique
	}
	s.nextAdminID++
	admins[userID] = s.nextAdminID
	return nil
}

func (s *memStore) RemoveAdmin(tx *sql.Tx, conversationID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.admins[conversationID], userID)
	return nil
}

func (s *memStore) EnsureAdmin(tx *sql.Tx, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.admins[conversationID]) > 0 || len(s.members[conversationID]) == 0 {
		return nil
	}
	var earliest int64 = -1
	var earliestTime time.Time
	for id, joined := range s.members[conversationID] {
		if earliest == -1 || joined.Before(earliestTime) || (joined.Equal(earliestTime) && id < earliest) {
			earliest = id
			earliestTime = joined
		}
	}
	s.nextAdminID++
	s.admins[conversationID][earliest] = s.nextAdminID
	return nil
}

func (s *memStore) AdminUsernames(conversationID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		userID int64
		rowID  int64
	}
	var entries []entry
	for userID, rowID := range s.admins[conversationID] {
		entries = append(entries, entry{userID, rowID})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rowID < entries[j].rowID })
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = s.userByID(e.userID).Username
	}
	return names, nil
}

func (s *memStore) IsAdmin(conversationID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.admins[conversationID][userID]
	return ok, nil
}

func (s *memStore) FirstAdminID(conversationID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first int64
	var firstRow int64 = -1
	for userID, rowID := range s.admins[conversationID] {
		if firstRow == -1 || rowID < firstRow {
			firstRow = rowID
			first = userID
		}
	}
	if firstRow == -1 {
		return 0, sql.ErrNoRows
	}
	return first, nil
}

func (s *memStore) SaveMessage(tx *sql.Tx, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	m.ID = s.nextMsgID
	stored := *m
	s.messages[stored.ID] = &stored
	return nil
}

func (s *memStore) MessageByID(id int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *m
	return &copied, nil
}

func (s *memStore) MarkMessageDeleted(tx *sql.Tx, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.IsDeleted = true
	}
	return nil
}

func (s *memStore) UpdateMessageText(tx *sql.Tx, id int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Text = text
		m.IsEdited = true
	}
	return nil
}

func (s *memStore) LatestNonDeleted(conversationID int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.IsDeleted {
			continue
		}
		if latest == nil || m.ID > latest.ID {
			latest = m
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (s *memStore) MessagesBefore(conversationID, beforeID int64, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var messages []*Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if beforeID != 0 && m.ID >= beforeID {
			continue
		}
		copied := *m
		messages = append(messages, &copied)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID > messages[j].ID })
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (s *memStore) MessageCount(conversationID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			count++
		}
	}
	return count, nil
}

func (s *memStore) InsertUnreadMarks(tx *sql.Tx, conversationID, messageID, exceptUserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID := range s.members[conversationID] {
		if userID == exceptUserID {
			continue
		}
		if s.unread[userID] == nil {
			s.unread[userID] = map[int64]int64{}
		}
		s.unread[userID][messageID] = conversationID
	}
	return nil
}

func (s *memStore) ClearUnread(tx *sql.Tx, conversationID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for msgID, convID := range s.unread[userID] {
		if convID == conversationID {
			delete(s.unread[userID], msgID)
		}
	}
	return nil
}

func (s *memStore) HasUnread(conversationID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, convID := range s.unread[userID] {
		if convID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

// unreadCount is a test helper, not part of Storage.
func (s *memStore) unreadCount(conversationID, userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, convID := range s.unread[userID] {
		if convID == conversationID {
			count++
		}
	}
	return count
}

// noopTransactor satisfies infrastructure.Transactor without a database; the
// fake store applies every write immediately.
type noopTransactor struct{}

func (noopTransactor) WithinTransaction(ctx context.Context, operation func(tx *sql.Tx) error) error {
	return operation(nil)
}
