package core

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/roomcast-server/internal/mutes"
	"github.com/roomcast/roomcast-server/internal/proto"
)

// testPeer is the remote end of a piped connection: it pumps server payloads
// into a channel and writes client payloads through the real codec.
type testPeer struct {
	conn   net.Conn
	enc    *proto.Encoder
	events chan proto.Payload
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := zerolog.Nop()
	reg := NewRegistry(mutes.NewStore(t.TempDir(), &logger), &logger)
	require.NoError(t, reg.CreateRoom(Lobby))
	t.Cleanup(reg.Shutdown)
	return reg
}

// dialTestClient wires a fresh actor to the registry over net.Pipe and starts
// its receive loop.
func dialTestClient(t *testing.T, reg *Registry) (*Client, *testPeer) {
	t.Helper()
	server, remote := net.Pipe()

	c := NewClient(server, reg, reg.mutes, &reg.log)
	go c.Run()

	peer := &testPeer{
		conn:   remote,
		enc:    proto.NewEncoder(remote),
		events: make(chan proto.Payload, 64),
	}
	go func() {
		dec := proto.NewDecoder(remote)
		for {
			payload, err := dec.Next()
			if err != nil {
				close(peer.events)
				return
			}
			peer.events <- payload
		}
	}()
	t.Cleanup(func() { _ = remote.Close() })
	return c, peer
}

func (p *testPeer) say(t *testing.T, payload proto.Payload) {
	t.Helper()
	require.NoError(t, p.enc.Encode(payload))
}

// joinTestClient runs the full hello handshake and drains the initial events.
func joinTestClient(t *testing.T, reg *Registry, name string) (*Client, *testPeer) {
	t.Helper()
	c, peer := dialTestClient(t, reg)
	peer.say(t, &proto.Hello{Name: name})
	expect[*proto.AssignID](t, peer)
	expect[*proto.MuteSync](t, peer)
	expect[*proto.RoomJoined](t, peer)
	return c, peer
}

// expect reads events until one of the wanted type arrives, skipping others.
func expect[T proto.Payload](t *testing.T, peer *testPeer) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case payload, ok := <-peer.events:
			if !ok {
				t.Fatalf("connection closed while waiting for %T", *new(T))
			}
			if wanted, matches := payload.(T); matches {
				return wanted
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", *new(T))
		}
	}
}

// countMessages drains events for the window and counts room messages from
// the given sender.
func countMessages(peer *testPeer, senderID int64, window time.Duration) int {
	count := 0
	timeout := time.After(window)
	for {
		select {
		case payload, ok := <-peer.events:
			if !ok {
				return count
			}
			if msg, isMsg := payload.(*proto.Message); isMsg && msg.SenderID == senderID {
				count++
			}
		case <-timeout:
			return count
		}
	}
}
