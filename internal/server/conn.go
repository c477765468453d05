/*
Package server implements the connection-facing half of the messenger.

This file defines the Conn struct, the per-connection protocol state machine.
It decodes incoming packets, dispatches them to the session manager according
to the current authentication state, and writes responses and broadcasts back
through a buffered send queue serviced by a single writer goroutine. The
session manager never touches the transport; this is the only layer that does.
*/
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"messenger/internal/app/session"
	"messenger/internal/configs"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
	"messenger/internal/protocol"
)

const (
	// sendQueueSize buffers outbound frames per connection.
	sendQueueSize = 256

	// packetRate and packetBurst bound how fast one connection may submit requests.
	packetRate  = rate.Limit(10)
	packetBurst = 20
)

// connState tracks where a connection is in its lifecycle.
type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

// Conn is the state machine for one client connection. It implements
// session.Sink so the session manager can push broadcasts to it.
type Conn struct {
	// id is the opaque connection identity used as the session map key.
	id uuid.UUID

	transport Transport
	session   *session.Manager
	cfg       *configs.AppConfig

	// send buffers outbound frames for the writer goroutine. Replies and
	// broadcasts share it, which preserves their relative order.
	send chan []byte

	// sendMu guards shutdown so a broadcast racing the close cannot write to a
	// closed channel.
	sendMu   sync.Mutex
	shutdown bool

	// state is owned by the read loop; nothing else touches it.
	state connState

	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewConn wraps a transport in a connection state machine. The connection
// starts Unauthenticated.
func NewConn(t Transport, sm *session.Manager, cfg *configs.AppConfig) *Conn {
	id := uuid.New()

	return &Conn{
		id:        id,
		transport: t,
		session:   sm,
		cfg:       cfg,
		send:      make(chan []byte, sendQueueSize),
		state:     stateUnauthenticated,
		limiter:   rate.NewLimiter(packetRate, packetBurst),
		logger: logx.Component("conn").With().
			Str("conn_id", id.String()).
			Str("remote", logx.AnonymizeIP(t.RemoteAddr())).
			Logger(),
	}
}

// Send queues an encoded frame for delivery. It never blocks: a full queue or
// a closed connection drops the frame and reports an error, which the session
// manager treats as the peer being gone.
func (c *Conn) Send(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.shutdown {
		return fmt.Errorf("connection is closed")
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("send queue full (%d frames)", len(c.send))
	}
}

// closeSend marks the connection closed and releases the writer goroutine,
// which flushes any queued frames before closing the transport.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.shutdown {
		c.shutdown = true
		close(c.send)
	}
}

// Serve runs the connection until the peer disconnects, the packet stream
// turns malformed, or ctx is cancelled. It blocks; callers run it in its own
// goroutine per connection.
func (c *Conn) Serve(ctx context.Context) {
	c.logger.Info().Msg("Client connected.")

	go c.writePump()
	c.readLoop(ctx)
}

// readLoop is the inbound half of the state machine.
func (c *Conn) readLoop(ctx context.Context) {
	defer c.cleanupOnDisconnect(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := c.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrFrameTooLong) {
				c.handleMalformed(err)
				return
			}

			c.logger.Info().Err(err).Msg("Connection read finished.")
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn().Msg("Connection exceeded packet rate limit.")
			c.sendDomainError(errs.NewError(errs.ErrRateLimitExceeded))
			continue
		}

		pkt, err := protocol.Decode(frame)
		if err != nil {
			// The read loop returns, so cleanupOnDisconnect still performs the
			// implicit logout for an authenticated peer.
			c.handleMalformed(err)
			return
		}

		c.dispatch(ctx, pkt)
	}
}

// cleanupOnDisconnect runs when the read loop ends for any reason. A
// connection that vanishes while authenticated is logged out implicitly and
// announced with the abrupt-leave template.
func (c *Conn) cleanupOnDisconnect(ctx context.Context) {
	if c.state == stateAuthenticated {
		username, err := c.session.Logout(c.id)
		if err != nil {
			c.logger.Error().Err(err).Msg("Implicit logout failed during cleanup.")
		} else if err := c.session.AnnounceAbruptLeave(ctx, username); err != nil {
			c.logger.Error().Err(err).Str("user", username).Msg("Failed to announce abrupt leave.")
		}
	}

	c.state = stateClosed
	c.closeSend()

	c.logger.Info().Msg("Client connection cleanup finished.")
}

// handleMalformed reports a decode failure and schedules the connection for
// closure: a peer that cannot speak the protocol correctly cannot be trusted
// to continue.
func (c *Conn) handleMalformed(err error) {
	c.logger.Warn().Err(err).Msg("Client sent a malformed packet. Closing connection.")

	malformedErr := errs.NewError(errs.ErrMalformedPacket)
	c.sendPacket(protocol.Error{Content: malformedErr.Message})

	// Also as plaintext, so it surfaces in the console of a peer that is not
	// speaking the protocol at all.
	if sendErr := c.Send([]byte("\n" + malformedErr.Message + "\n")); sendErr != nil {
		c.logger.Warn().Err(sendErr).Msg("Failed to queue plaintext malformed notice.")
	}
}

// dispatch routes one decoded packet according to its kind and the current
// authentication state. Domain errors become ERROR packets; everything else is
// logged server-side and reported as a generic internal error.
func (c *Conn) dispatch(ctx context.Context, pkt protocol.Packet) {
	var (
		reply protocol.Packet
		err   error
	)

	switch p := pkt.(type) {
	case protocol.LoginRequest:
		reply, err = c.handleLogin(ctx, p)
	case protocol.LogoutRequest:
		reply, err = c.handleLogout(ctx)
	case protocol.LogMessage:
		reply, err = c.handleLogMessage(ctx, p)
	case protocol.CreateUser:
		reply, err = c.handleCreateUser(ctx, p)
	case protocol.MessageLogSetRequest:
		reply, err = c.handleMessageLogSetRequest(ctx)
	case protocol.ServerInfoRequest:
		reply, err = c.handleServerInfoRequest()
	default:
		c.logger.Warn().Str("kind", string(pkt.Kind())).Msg("Improper request.")
		err = errs.NewError(errs.ErrImproperRequest)
	}

	if err != nil {
		c.sendDomainError(err)
		return
	}

	c.sendPacket(reply)
}

// handleLogin authenticates this connection. Meaningful only while
// Unauthenticated; a second login attempt on the same connection is rejected
// without touching the session.
func (c *Conn) handleLogin(ctx context.Context, p protocol.LoginRequest) (protocol.Packet, error) {
	if c.state == stateAuthenticated {
		return nil, errs.NewError(errs.ErrAlreadyLoggedIn)
	}

	user, err := c.session.Login(ctx, p.User, p.Password, c.id, c)
	if err != nil {
		return nil, err
	}

	c.state = stateAuthenticated
	c.logger.Info().Str("user", user.Name).Msg("Connection authenticated.")

	if err := c.session.AnnounceJoin(ctx, user.Name); err != nil {
		return nil, err
	}

	return protocol.Success{}, nil
}

// handleLogout ends the session and returns the connection to Unauthenticated.
func (c *Conn) handleLogout(ctx context.Context) (protocol.Packet, error) {
	if c.state != stateAuthenticated {
		return nil, errs.NewError(errs.ErrNotAuthenticated)
	}

	username, err := c.session.Logout(c.id)
	if err != nil {
		return nil, err
	}

	c.state = stateUnauthenticated
	c.logger.Info().Str("user", username).Msg("Connection logged out.")

	if err := c.session.AnnounceLeave(ctx, username); err != nil {
		return nil, err
	}

	return protocol.Success{}, nil
}

// handleLogMessage appends to the shared log. The session manager stamps the
// message with its own clock and broadcasts it as a side effect.
func (c *Conn) handleLogMessage(ctx context.Context, p protocol.LogMessage) (protocol.Packet, error) {
	if c.state != stateAuthenticated {
		return nil, errs.NewError(errs.ErrNotAuthenticated)
	}

	if err := c.session.LogMessage(ctx, p.Content, c.id); err != nil {
		return nil, err
	}

	return protocol.Success{}, nil
}

// handleCreateUser creates an account. Permitted in either state, but only
// when the server's user-creation policy allows it.
func (c *Conn) handleCreateUser(ctx context.Context, p protocol.CreateUser) (protocol.Packet, error) {
	if !c.cfg.Session.Database.AllowUserCreation {
		return nil, errs.NewError(errs.ErrUserCreationDisabled)
	}

	if err := c.session.CreateUser(ctx, p.Username, p.Password); err != nil {
		return nil, err
	}

	return protocol.Success{}, nil
}

// handleMessageLogSetRequest replies with the recent-message window.
func (c *Conn) handleMessageLogSetRequest(ctx context.Context) (protocol.Packet, error) {
	if c.state != stateAuthenticated {
		return nil, errs.NewError(errs.ErrNotAuthenticated)
	}

	recent, err := c.session.RecentMessages(ctx, 0)
	if err != nil {
		return nil, err
	}

	encoded, err := protocol.EncodeMessageLog(recent)
	if err != nil {
		return nil, err
	}

	return protocol.MessageLogSet{Content: encoded}, nil
}

// handleServerInfoRequest replies with the server's public settings. Allowed
// in either state so clients can discover limits before logging in.
func (c *Conn) handleServerInfoRequest() (protocol.Packet, error) {
	db := c.cfg.Session.Database

	return protocol.ServerInfo{
		ServerName:        c.cfg.ServerName,
		MsgCharLimit:      db.MessageCharacterLimit,
		NameCharLimit:     db.UsernameCharacterLimit,
		AllowUserCreation: db.AllowUserCreation,
		MaxShownMessages:  db.MaxShownMessages,
	}, nil
}

// sendDomainError translates an error into an ERROR packet. Unanticipated
// faults keep their diagnostic detail server-side; the client only sees a
// generic notice.
func (c *Conn) sendDomainError(err error) {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		c.sendPacket(protocol.Error{Content: customErr.Message})
		return
	}

	c.logger.Error().Err(err).Msg("Internal fault while handling request.")
	c.sendPacket(protocol.Error{Content: errs.NewError(errs.ErrUnknown).Message})
}

// sendPacket encodes and queues one packet for this connection.
func (c *Conn) sendPacket(p protocol.Packet) {
	frame, err := protocol.Encode(p)
	if err != nil {
		c.logger.Error().Err(err).Str("kind", string(p.Kind())).Msg("Failed to encode packet.")
		return
	}

	if err := c.Send(frame); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(p.Kind())).Msg("Failed to queue packet.")
	}
}

// writePump drains the send queue into the transport and emits transport
// heartbeats. It owns the transport's closure.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.transport.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Transport close error in writePump.")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}

			if err := c.transport.WriteFrame(frame); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing frame.")
				return
			}

		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing heartbeat.")
				return
			}
		}
	}
}
