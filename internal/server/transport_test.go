package server

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPTransportFramesLines(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	tr := newTCPTransport(srv)

	go func() {
		client.Write([]byte("abc123==\ndef456==\n"))
	}()

	frame, err := tr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "abc123==", string(frame))

	frame, err = tr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "def456==", string(frame))
}

func TestTCPTransportWriteAppendsNewline(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	tr := newTCPTransport(srv)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 32)
		n, err := client.Read(buf)
		if err != nil {
			got <- nil
			return
		}
		got <- buf[:n]
	}()

	require.NoError(t, tr.WriteFrame([]byte("abc==")))

	select {
	case b := <-got:
		assert.Equal(t, "abc==\n", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the written frame")
	}
}

func TestTCPTransportRejectsOversizedFrame(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	tr := newTCPTransport(srv)

	go func() {
		// One endless line with no newline in sight.
		client.Write(bytes.Repeat([]byte{'a'}, maxFrameSize+1))
	}()

	_, err := tr.ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLong)
}
