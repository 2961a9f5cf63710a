package core

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/roomcast/roomcast-server/internal/mutes"
	"github.com/roomcast/roomcast-server/internal/proto"
)

// Client is the server-side actor for one connection: it owns the socket's
// read loop, turns the payload stream into room and registry calls, and
// exposes a thread-safe Send used by room fan-out.
type Client struct {
	conn     net.Conn
	registry *Registry
	mutes    *mutes.Store
	log      zerolog.Logger

	enc       *proto.Encoder
	writeMu   sync.Mutex
	closeOnce sync.Once

	mu    sync.Mutex
	id    int64
	name  string
	room  *Room
	muted map[int64]struct{}
}

// NewClient wraps an accepted connection. The registry and mute store are
// passed explicitly; the actor holds no global state.
func NewClient(conn net.Conn, registry *Registry, store *mutes.Store, logger *zerolog.Logger) *Client {
	session := uuid.NewString()
	return &Client{
		conn:     conn,
		registry: registry,
		mutes:    store,
		log:      logger.With().Str("session_id", session).Logger(),
		enc:      proto.NewEncoder(conn),
		muted:    make(map[int64]struct{}),
	}
}

// ID returns the registry-assigned client id, or proto.ServerSenderID before
// assignment.
func (c *Client) ID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Name returns the claimed display name, empty before the hello payload.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Room returns the client's current room, nil if none.
func (c *Client) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setID(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.log = c.log.With().Int64("client_id", id).Logger()
}

func (c *Client) setRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

// clearRoom resets the current room only if it still is r, so a stale caller
// cannot wipe a newer membership.
func (c *Client) clearRoom(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == r {
		c.room = nil
	}
}

// HasMuted reports whether the client muted the given sender id.
func (c *Client) HasMuted(senderID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, muted := c.muted[senderID]
	return muted
}

func (c *Client) mutedSnapshot() map[int64]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[int64]struct{}, len(c.muted))
	for id := range c.muted {
		snapshot[id] = struct{}{}
	}
	return snapshot
}

// Send writes one payload. It returns false on any I/O failure; callers in
// fan-out paths treat false as "this peer is gone" and schedule its removal.
// This is the only failure-detection mechanism, there is no heartbeat.
func (c *Client) Send(p proto.Payload) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(p); err != nil {
		c.log.Debug().Err(err).Str("kind", p.Kind()).Msg("send failed")
		return false
	}
	return true
}

// Close tears down the socket. Safe to call any number of times; the first
// call unblocks the pending read, which ends the actor loop.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close connection")
		}
	})
}

// Run is the actor's blocking receive loop. A line that fails decoding is
// dropped and the loop continues; a handler error is logged and the loop
// continues; only transport-level read failure ends the loop. Cleanup runs
// exactly once regardless of how the loop exits.
func (c *Client) Run() {
	defer c.teardown()

	dec := proto.NewDecoder(c.conn)
	for {
		payload, err := dec.Next()
		if err != nil {
			var decodeErr *proto.DecodeError
			if errors.As(err, &decodeErr) {
				c.log.Warn().Err(decodeErr).Msg("dropping undecodable payload")
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}
		if err := c.dispatch(payload); err != nil {
			c.log.Warn().Err(err).Str("kind", payload.Kind()).Msg("payload handling failed")
		}
	}
}

func (c *Client) teardown() {
	if room := c.Room(); room != nil {
		room.Disconnect(c)
	} else {
		c.Close()
	}
	c.registry.removeClient(c)

	if name := c.Name(); name != "" {
		if err := c.mutes.Save(name, c.mutedSnapshot()); err != nil {
			c.log.Warn().Err(err).Msg("persist mute list on disconnect")
		}
	}
	c.log.Info().Msg("client torn down")
}

func (c *Client) dispatch(payload proto.Payload) error {
	switch p := payload.(type) {
	case *proto.Hello:
		return c.handleHello(p)
	case *proto.Message:
		room, err := c.currentRoom()
		if err != nil {
			return err
		}
		room.SendMessage(c, p.Text)
	case *proto.PrivateMessage:
		room, err := c.currentRoom()
		if err != nil {
			return err
		}
		room.SendPrivateMessage(c, p.TargetID, p.Text)
	case *proto.CreateRoom:
		room, err := c.currentRoom()
		if err != nil {
			return err
		}
		room.HandleCreateRoom(c, p.Room)
	case *proto.JoinRoom:
		room, err := c.currentRoom()
		if err != nil {
			return err
		}
		room.HandleJoinRoom(c, p.Room)
	case *proto.Roll:
		room, err := c.currentRoom()
		if err != nil {
			return err
		}
		room.ProcessRoll(c, p)
	case *proto.Flip:
		room, err := c.currentRoom()
		if err != nil {
			return err
		}
		room.ProcessFlip(c)
	case *proto.Mute:
		return c.handleMute(p.TargetID, p.TargetName)
	case *proto.Unmute:
		return c.handleUnmute(p.TargetID, p.TargetName)
	case *proto.Bye:
		room, err := c.currentRoom()
		if err != nil {
			c.Close()
			return nil
		}
		room.Disconnect(c)
	default:
		// Server-to-client kinds have no business arriving here.
		c.log.Warn().Str("kind", payload.Kind()).Msg("unhandled payload kind")
	}
	return nil
}

func (c *Client) currentRoom() (*Room, error) {
	room := c.Room()
	if room == nil {
		return nil, errors.New("no room assigned")
	}
	return room, nil
}

// handleHello claims the display name, loads the persisted mute list, and
// hands the actor to the registry for id assignment and lobby placement.
func (c *Client) handleHello(p *proto.Hello) error {
	if p.Name == "" {
		return errors.New("empty display name")
	}
	if c.Name() != "" {
		return fmt.Errorf("name already claimed as %q", c.Name())
	}

	muted, err := c.mutes.Load(p.Name)
	if err != nil {
		c.log.Warn().Err(err).Str("name", p.Name).Msg("load mute list")
		muted = make(map[int64]struct{})
	}

	c.mu.Lock()
	c.name = p.Name
	c.muted = muted
	c.mu.Unlock()

	c.log.Info().Str("name", p.Name).Int("muted", len(muted)).Msg("client initialized")
	c.registry.OnClientInitialized(c)
	return nil
}

// handleMute adds the target to this client's mute set. Muting yourself is
// rejected, muting an already-muted target is a reported no-op.
func (c *Client) handleMute(targetID int64, targetName string) error {
	if targetID == c.ID() {
		c.Send(serverText("You cannot mute yourself."))
		return nil
	}
	if targetID <= 0 {
		return fmt.Errorf("invalid mute target id %d", targetID)
	}
	label := muteLabel(targetID, targetName)

	c.mu.Lock()
	if _, exists := c.muted[targetID]; exists {
		c.mu.Unlock()
		c.Send(serverText(fmt.Sprintf("You have already muted %s.", label)))
		return nil
	}
	c.muted[targetID] = struct{}{}
	c.mu.Unlock()

	c.persistMutes()
	c.Send(serverText(fmt.Sprintf("You have muted %s.", label)))
	if target := c.registry.GetClientByID(targetID); target != nil {
		target.Send(serverText(fmt.Sprintf("%s has muted you.", c.Name())))
	}
	c.sendMuteSync()
	return nil
}

// handleUnmute removes the target from the mute set; unmuting a target that
// is not muted is a reported no-op.
func (c *Client) handleUnmute(targetID int64, targetName string) error {
	label := muteLabel(targetID, targetName)

	c.mu.Lock()
	if _, exists := c.muted[targetID]; !exists {
		c.mu.Unlock()
		c.Send(serverText(fmt.Sprintf("%s is not muted.", label)))
		return nil
	}
	delete(c.muted, targetID)
	c.mu.Unlock()

	c.persistMutes()
	c.Send(serverText(fmt.Sprintf("You have unmuted %s.", label)))
	if target := c.registry.GetClientByID(targetID); target != nil {
		target.Send(serverText(fmt.Sprintf("%s has unmuted you.", c.Name())))
	}
	c.sendMuteSync()
	return nil
}

func (c *Client) persistMutes() {
	if name := c.Name(); name != "" {
		if err := c.mutes.Save(name, c.mutedSnapshot()); err != nil {
			c.log.Warn().Err(err).Msg("persist mute list")
		}
	}
}

// sendMuteSync pushes the display names of currently-connected muted peers.
// Offline muted ids stay persisted but are not part of the sync.
func (c *Client) sendMuteSync() {
	ids := lo.Keys(c.mutedSnapshot())
	names := lo.FilterMap(ids, func(id int64, _ int) (string, bool) {
		target := c.registry.GetClientByID(id)
		if target == nil {
			return "", false
		}
		return target.Name(), true
	})
	c.Send(&proto.MuteSync{Muted: names})
}

func muteLabel(targetID int64, targetName string) string {
	if targetName != "" {
		return targetName
	}
	return fmt.Sprintf("client %d", targetID)
}
