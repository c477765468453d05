/*
Package session contains the process-wide session engine: which connections are
authenticated as which user, message logging, and broadcast orchestration.

The Manager exclusively owns the connection-to-user mapping and mediates all
persistence store access. Every state-mutating operation and store call runs
under one mutex, which is what upholds the two core invariants: at most one
active login per account, and message ids strictly increasing in the order
calls are accepted. Connection I/O stays concurrent; only this shared state is
serialized.

The Manager never writes to a transport directly. Broadcasts go through the
Sink registered at login time, with a non-blocking contract: a slow or dead
peer must not stall delivery to the others.
*/
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"messenger/internal/app/message"
	"messenger/internal/app/store"
	"messenger/internal/configs"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
	"messenger/internal/protocol"
)

// Sink queues one encoded packet for delivery to a connection. Implementations
// must not block: an error (or a dropped frame) means the connection is
// effectively gone, and its eventual disconnect event cleans up the mapping.
type Sink interface {
	Send(frame []byte) error
}

// connEntry records an authenticated connection.
type connEntry struct {
	user message.User
	sink Sink
}

// Manager is the shared session engine. One instance serves the whole process.
type Manager struct {
	// mu serializes all session state mutation and store access.
	mu sync.Mutex

	store *store.Store
	cfg   *configs.AppConfig

	// serverUser is the reserved pseudo-user announcements are attributed to.
	serverUser message.User

	// conns maps connection identity to the user authenticated on it.
	// Invariant: a user name appears as a value at most once.
	conns map[uuid.UUID]*connEntry

	// now is the message timestamp source, injectable for tests.
	now func() time.Time

	logger zerolog.Logger
}

// NewManager constructs the session engine and seeds the reserved server
// account in the store.
func NewManager(st *store.Store, cfg *configs.AppConfig) (*Manager, error) {
	m := &Manager{
		store:      st,
		cfg:        cfg,
		serverUser: message.User{Name: cfg.Session.ServerUser.Name},
		conns:      make(map[uuid.UUID]*connEntry),
		now:        time.Now,
		logger:     logx.Component("session"),
	}

	if err := st.EnsureUser(context.Background(), cfg.Session.ServerUser.Name, cfg.Session.ServerUser.Password); err != nil {
		return nil, fmt.Errorf("failed to seed server user: %w", err)
	}

	m.logger.Info().Str("server_user", m.serverUser.Name).Msg("Session manager ready.")
	return m, nil
}

// Login authenticates the named user and binds it to the given connection.
// It fails with InvalidCredentials when no stored user matches (the message is
// identical for a wrong name and a wrong password) and with AccountInUse when
// the account already has an active connection.
func (m *Manager) Login(ctx context.Context, name, secret string, connID uuid.UUID, sink Sink) (message.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok, err := m.store.Authenticate(ctx, name, secret)
	if err != nil {
		return message.User{}, err
	}
	if !ok {
		return message.User{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	for _, entry := range m.conns {
		if entry.user.Name == user.Name {
			return message.User{}, errs.NewError(errs.ErrAccountInUse, user.Name)
		}
	}

	m.conns[connID] = &connEntry{user: user, sink: sink}

	m.logger.Info().
		Str("user", user.Name).
		Str("conn_id", connID.String()).
		Int("active_sessions", len(m.conns)).
		Msg("User logged in.")

	return user, nil
}

// Logout removes the connection's session entry and returns the username that
// was bound to it.
func (m *Manager) Logout(connID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conns[connID]
	if !ok {
		return "", errs.NewError(errs.ErrNotLoggedIn)
	}

	delete(m.conns, connID)

	m.logger.Info().
		Str("user", entry.user.Name).
		Str("conn_id", connID.String()).
		Int("active_sessions", len(m.conns)).
		Msg("User logged out.")

	return entry.user.Name, nil
}

// CreateUser validates the business rules for a new account and persists it.
// Whether callers must be logged in is server policy enforced at the handler.
func (m *Manager) CreateUser(ctx context.Context, name, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if utf8.RuneCountInString(name) > m.cfg.Session.Database.UsernameCharacterLimit {
		return errs.NewError(errs.ErrUsernameTooLong)
	}

	exists, err := m.store.UserExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return errs.NewError(errs.ErrUsernameTaken)
	}

	if strings.Contains(name, message.LogStringSeparator) {
		return errs.NewError(errs.ErrInvalidCharacter)
	}

	if err := m.store.CreateUser(ctx, name, secret); err != nil {
		// Storage-level uniqueness is the second line of defense.
		if store.IsUniqueViolation(err) {
			return errs.NewError(errs.ErrUsernameTaken)
		}
		return err
	}

	m.logger.Info().Str("user", name).Msg("New user created.")
	return nil
}

// LogMessage appends a message from the user bound to sender_connection and
// broadcasts it to every authenticated connection, including the sender's own.
func (m *Manager) LogMessage(ctx context.Context, content string, senderConn uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conns[senderConn]
	if !ok {
		return errs.NewError(errs.ErrNotAuthenticated)
	}

	return m.logLocked(ctx, entry.user, content, true)
}

// LogSystemMessage appends a message attributed to the reserved server user.
// Used for join/leave/abrupt-leave announcements.
func (m *Manager) LogSystemMessage(ctx context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.logLocked(ctx, m.serverUser, content, false)
}

// AnnounceJoin broadcasts the join announcement for the named user.
func (m *Manager) AnnounceJoin(ctx context.Context, username string) error {
	return m.LogSystemMessage(ctx, configs.Render(m.cfg.Session.Announcements.Join, username))
}

// AnnounceLeave broadcasts the normal leave announcement for the named user.
func (m *Manager) AnnounceLeave(ctx context.Context, username string) error {
	return m.LogSystemMessage(ctx, configs.Render(m.cfg.Session.Announcements.Leave, username))
}

// AnnounceAbruptLeave broadcasts the announcement for a user whose transport
// disconnected without a logout request.
func (m *Manager) AnnounceAbruptLeave(ctx context.Context, username string) error {
	return m.LogSystemMessage(ctx, configs.Render(m.cfg.Session.Announcements.AbruptLeave, username))
}

// logLocked inserts a message and broadcasts it. Caller holds mu.
func (m *Manager) logLocked(ctx context.Context, sender message.User, content string, enforceLimit bool) error {
	limit := m.cfg.Session.Database.MessageCharacterLimit
	if enforceLimit && utf8.RuneCountInString(content) > limit {
		return errs.NewError(errs.ErrMessageTooLong, limit)
	}

	timestamp := m.now().Unix()

	id, err := m.store.InsertMessage(ctx, sender.Name, content, timestamp)
	if err != nil {
		return err
	}

	m.broadcastLocked(message.Message{
		ID:        id,
		Sender:    sender,
		Content:   content,
		Timestamp: timestamp,
	})
	return nil
}

// broadcastLocked pushes a log-addition packet to every authenticated
// connection. Delivery is best-effort and unacknowledged: a failed send is
// logged and skipped so one dead peer cannot block the rest. Caller holds mu.
func (m *Manager) broadcastLocked(msg message.Message) {
	frame, err := protocol.Encode(protocol.MessageLogAddition{Content: msg.LogString()})
	if err != nil {
		m.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to encode broadcast packet.")
		return
	}

	for connID, entry := range m.conns {
		if err := entry.sink.Send(frame); err != nil {
			m.logger.Warn().
				Str("conn_id", connID.String()).
				Str("user", entry.user.Name).
				Err(err).
				Msg("Broadcast send failed, peer presumed gone.")
		}
	}
}

// RecentMessages returns at most limit most-recently-inserted messages,
// ordered oldest to newest for display. A non-positive limit uses the
// configured max_shown_messages.
func (m *Manager) RecentMessages(ctx context.Context, limit int) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = m.cfg.Session.Database.MaxShownMessages
	}

	newestFirst, err := m.store.RecentMessages(ctx, limit)
	if err != nil {
		return nil, err
	}

	// The store hands back newest first; reverse for display order.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// LatestMessage returns the single most recently inserted message. It fails
// when the log is empty.
func (m *Manager) LatestMessage(ctx context.Context) (message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest, ok, err := m.store.LatestMessage(ctx)
	if err != nil {
		return message.Message{}, err
	}
	if !ok {
		return message.Message{}, fmt.Errorf("message log is empty")
	}
	return latest, nil
}

// UserFor returns the user currently authenticated on the connection, if any.
func (m *Manager) UserFor(connID uuid.UUID) (message.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conns[connID]
	if !ok {
		return message.User{}, false
	}
	return entry.user, true
}

// ActiveSessions returns the number of authenticated connections.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.conns)
}
