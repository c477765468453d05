/*
Package server implements the connection-facing half of the messenger: the
per-connection protocol state machine, the TCP listener, the websocket
transport, and the operational HTTP surface.

This file defines the Transport abstraction. Packets are base64 text, so the
TCP transport frames them as newline-delimited lines; the websocket transport
maps one websocket message to one frame. Both feed the same state machine.
*/
package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// ErrFrameTooLong reports an inbound frame exceeding maxFrameSize. The
// connection handler treats it like any other undecodable input.
var ErrFrameTooLong = errors.New("frame exceeds maximum size")

const (
	// maxFrameSize bounds a single encoded packet on the wire.
	maxFrameSize = 64 * 1024

	// writeWait is the timeout for writing a frame to the peer.
	writeWait = 10 * time.Second

	// idleTimeout closes connections with no inbound traffic. Websocket
	// connections refresh it via pong frames instead.
	idleTimeout = 5 * time.Minute

	// pongWait is the maximum time the server waits for a websocket pong.
	pongWait = 60 * time.Second

	// pingPeriod is the websocket heartbeat interval.
	pingPeriod = (pongWait * 9) / 10
)

// Transport carries opaque packet frames to and from one peer.
type Transport interface {
	// ReadFrame blocks until the next frame arrives or the connection fails.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame; it must not block past the write timeout.
	WriteFrame(frame []byte) error

	// Ping sends a transport-level heartbeat where the transport has one.
	Ping() error

	Close() error
	RemoteAddr() string
}

// tcpTransport frames packets as newline-delimited lines over a raw TCP
// connection. base64 output never contains a newline, so the framing cannot
// split a packet.
type tcpTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)

	return &tcpTransport{conn: conn, scanner: scanner}
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
		return nil, err
	}

	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrFrameTooLong
			}
			return nil, err
		}
		return nil, io.EOF
	}

	// The scanner reuses its buffer between calls.
	frame := make([]byte, len(t.scanner.Bytes()))
	copy(frame, t.scanner.Bytes())
	return frame, nil
}

func (t *tcpTransport) WriteFrame(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	_, err := t.conn.Write(buf)
	return err
}

func (t *tcpTransport) Ping() error {
	return nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// wsTransport maps one websocket message to one packet frame.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, frame, err := t.conn.ReadMessage()
	if errors.Is(err, websocket.ErrReadLimit) {
		return nil, ErrFrameTooLong
	}
	return frame, err
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Ping() error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
