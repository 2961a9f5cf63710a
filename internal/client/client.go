// Package client is the send/receive API consumed by chat front ends. It
// owns the client side of the wire protocol: dialing, the receive loop, the
// known-peers cache, and turning slash-command text into typed payloads.
package client

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/roomcast/roomcast-server/internal/proto"
)

// ErrUnknownUser is returned when a command names a peer the client has not
// been told about yet.
var ErrUnknownUser = errors.New("unknown user")

// Client is one connection to a chat server.
type Client struct {
	conn net.Conn
	enc  *proto.Encoder
	log  zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan proto.Payload

	mu    sync.Mutex
	id    int64
	peers map[int64]string
	muted map[string]struct{}
}

// Dial connects to a chat server. Callers must start Run to receive events.
func Dial(addr string, logger *zerolog.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		enc:    proto.NewEncoder(conn),
		log:    logger.With().Str("component", "client").Logger(),
		events: make(chan proto.Payload, 16),
		peers:  make(map[int64]string),
		muted:  make(map[string]struct{}),
	}, nil
}

// Events delivers every server payload in arrival order. The channel closes
// when the connection is gone.
func (c *Client) Events() <-chan proto.Payload {
	return c.events
}

// Run is the blocking receive loop: it maintains the peer and mute caches and
// forwards each payload to the event channel. Undecodable lines are dropped.
func (c *Client) Run() {
	defer close(c.events)
	defer c.Close()

	dec := proto.NewDecoder(c.conn)
	for {
		payload, err := dec.Next()
		if err != nil {
			var decodeErr *proto.DecodeError
			if errors.As(err, &decodeErr) {
				c.log.Warn().Err(decodeErr).Msg("dropping undecodable payload")
				continue
			}
			return
		}
		c.track(payload)
		c.events <- payload
	}
}

// track mirrors server-side state the command parser needs: our own id, the
// peer cache, and the muted-name set.
func (c *Client) track(payload proto.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p := payload.(type) {
	case *proto.AssignID:
		c.id = p.ID
		c.peers[p.ID] = p.Name
	case *proto.SyncClient:
		c.peers[p.ID] = p.Name
	case *proto.RoomJoined:
		c.peers[p.ID] = p.Name
	case *proto.PeerGone:
		delete(c.peers, p.ID)
	case *proto.MuteSync:
		c.muted = make(map[string]struct{}, len(p.Muted))
		for _, name := range p.Muted {
			c.muted[name] = struct{}{}
		}
	}
}

// ID returns the server-assigned id, zero before assignment.
func (c *Client) ID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// PeerName resolves a known peer id to its display name.
func (c *Client) PeerName(id int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.peers[id]
	return name, ok
}

// MutedNames returns the display names the server reported as muted, sorted.
func (c *Client) MutedNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := lo.Keys(c.muted)
	sort.Strings(names)
	return names
}

// SetName claims a display name with the server.
func (c *Client) SetName(name string) error {
	if name == "" {
		return errors.New("display name must not be empty")
	}
	return c.send(&proto.Hello{Name: name})
}

// SendText interprets one line of user input: a leading slash runs a command,
// a leading @name sends a private message, anything else is a room broadcast.
func (c *Client) SendText(text string) error {
	payload, err := ParseInput(text, c.resolvePeer)
	if err != nil {
		return err
	}
	return c.send(payload)
}

func (c *Client) resolvePeer(name string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, peer := range c.peers {
		if peer == name {
			return id, true
		}
	}
	return 0, false
}

func (c *Client) send(payload proto.Payload) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(payload)
}

// Close tears down the connection, which also ends Run.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close connection")
		}
	})
	return nil
}
