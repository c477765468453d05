/*
Package server implements the connection-facing half of the messenger.

This file defines the TCP listener, the primary transport of the protocol.
Each accepted connection gets its own goroutine running the Conn state
machine; accepts are rate limited per source IP.
*/
package server

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/time/rate"

	"messenger/internal/app/session"
	"messenger/internal/configs"
	"messenger/internal/pkg/limiter"
	"messenger/internal/pkg/logx"
)

const (
	// ConnectRate and ConnectBurst bound TCP connection attempts per source IP.
	ConnectRate  = 1.0
	ConnectBurst = 5
)

// TCPServer accepts protocol connections on the configured port.
type TCPServer struct {
	cfg     *configs.AppConfig
	session *session.Manager

	connectLimiter *limiter.IPRateLimiter
}

// NewTCPServer constructs the listener front end.
func NewTCPServer(sm *session.Manager, cfg *configs.AppConfig) *TCPServer {
	return &TCPServer{
		cfg:            cfg,
		session:        sm,
		connectLimiter: limiter.NewIPRateLimiter(rate.Limit(ConnectRate), ConnectBurst),
	}
}

// ListenAndServe binds the configured port and serves until ctx is cancelled.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}

	logx.Info("Messenger protocol listening.", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or the listener
// fails. Exposed separately so tests can drive it with their own listener.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logx.Info("Listener shut down.")
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		remote := conn.RemoteAddr().String()
		if !s.connectLimiter.Allow(remote) {
			logx.Warn("Connection rejected: rate limit exceeded.", "remote_ip", logx.AnonymizeIP(remote))
			conn.Close()
			continue
		}

		go NewConn(newTCPTransport(conn), s.session, s.cfg).Serve(ctx)
	}
}
