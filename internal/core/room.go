package core

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/roomcast/roomcast-server/internal/proto"
	"github.com/roomcast/roomcast-server/internal/textfx"
)

// Lobby is the default, privileged room. It is never auto-closed.
const Lobby = "lobby"

// Room is the broadcast and membership authority for one named room.
// All mutating operations are serialized on the room's own mutex; once the
// room is closed they become no-ops.
type Room struct {
	name     string
	registry *Registry
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	clients map[int64]*Client
}

// NewRoom constructs a running room with no members.
func NewRoom(name string, registry *Registry, logger *zerolog.Logger) *Room {
	r := &Room{
		name:     name,
		registry: registry,
		log:      logger.With().Str("room", name).Logger(),
		running:  true,
		clients:  make(map[int64]*Client),
	}
	r.log.Info().Msg("room created")
	return r
}

// Name returns the room's display name.
func (r *Room) Name() string { return r.name }

func (r *Room) isLobby() bool { return strings.EqualFold(r.name, Lobby) }

// AddClient records membership, announces the join to the room, then syncs
// the existing members to the joiner so the joiner knows every peer before it
// can receive a message from one. Adding an existing member is a logged no-op.
// Returns false if the room is no longer running.
func (r *Room) AddClient(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	if _, exists := r.clients[c.ID()]; exists {
		r.log.Warn().Int64("client_id", c.ID()).Msg("client already in room")
		return true
	}

	r.clients[c.ID()] = c
	c.setRoom(r)

	var dead []*Client
	joined := &proto.RoomJoined{ID: c.ID(), Name: c.Name(), Room: r.name}
	for _, member := range r.clients {
		if !member.Send(joined) {
			dead = append(dead, member)
		}
	}
	for _, member := range r.clients {
		if member == c {
			continue
		}
		if !c.Send(&proto.SyncClient{ID: member.ID(), Name: member.Name()}) {
			dead = append(dead, c)
			break
		}
	}
	r.dropLocked(dead)

	r.log.Info().Int64("client_id", c.ID()).Str("client", c.Name()).Msg("client joined room")
	return true
}

// RemovedClient handles a voluntary room leave (not a disconnect): announces
// the departure, removes membership, then closes the room if it is empty and
// not the lobby.
func (r *Room) RemovedClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	if _, exists := r.clients[c.ID()]; !exists {
		return
	}

	var dead []*Client
	left := &proto.RoomLeft{ID: c.ID(), Name: c.Name(), Room: r.name}
	for _, member := range r.clients {
		if !member.Send(left) {
			dead = append(dead, member)
		}
	}
	delete(r.clients, c.ID())
	c.clearRoom(r)
	r.dropLocked(dead)

	r.log.Info().Int64("client_id", c.ID()).Str("client", c.Name()).Msg("client left room")
	r.autoCleanupLocked()
}

// Disconnect tears down an actual dead or departing connection: the rest of
// the room gets a PeerGone (not a RoomLeft), the socket is closed, membership
// is removed. Safe to call twice for the same client.
func (r *Room) Disconnect(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		c.Close()
		return
	}
	if _, exists := r.clients[c.ID()]; !exists {
		c.Close()
		return
	}
	r.dropLocked([]*Client{c})
	r.autoCleanupLocked()
}

// Close shuts the room down: remaining members are notified and migrated into
// the lobby one by one through the registry join path, then the room is
// removed from the room table. Closing a closed room is a no-op.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *Room) closeLocked() {
	if !r.running {
		return
	}
	r.running = false

	if len(r.clients) > 0 {
		r.log.Info().Int("members", len(r.clients)).Msg("room closing, migrating members to lobby")
		members := lo.Values(r.clients)
		r.clients = make(map[int64]*Client)

		notice := &proto.Message{
			SenderID: proto.ServerSenderID,
			Text:     "Room is shutting down, migrating to lobby",
			TS:       time.Now().UnixMilli(),
		}
		for _, member := range members {
			member.Send(notice)
			member.clearRoom(r)
			if err := r.registry.JoinRoom(Lobby, member); err != nil {
				r.log.Warn().Err(err).Int64("client_id", member.ID()).Msg("lobby migration failed")
			}
		}
	}

	r.registry.RemoveRoom(r)
	r.log.Info().Msg("room closed")
}

// autoCleanupLocked closes the room once it is empty, unless it is the lobby.
func (r *Room) autoCleanupLocked() {
	if r.running && !r.isLobby() && len(r.clients) == 0 {
		r.closeLocked()
	}
}

// dropLocked removes dead members, closes their sockets, and announces each
// departure to the remaining members. Announcements that fail mark further
// members dead, so the worklist runs until the membership is stable.
func (r *Room) dropLocked(dead []*Client) {
	for len(dead) > 0 {
		next := dead
		dead = nil
		for _, c := range next {
			if _, exists := r.clients[c.ID()]; !exists {
				c.Close()
				continue
			}
			delete(r.clients, c.ID())
			c.clearRoom(r)
			c.Close()
			r.log.Info().Int64("client_id", c.ID()).Str("client", c.Name()).Msg("removing disconnected client")

			gone := &proto.PeerGone{ID: c.ID(), Name: c.Name()}
			for _, member := range r.clients {
				if !member.Send(gone) {
					dead = append(dead, member)
				}
			}
		}
	}
}

// SendMessage formats text once and fans it out to every live member that has
// not muted the sender. A nil sender means the server authored the message;
// server messages are never mute-filtered. A failed send marks the recipient
// as disconnected.
func (r *Room) SendMessage(sender *Client, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}

	senderID := proto.ServerSenderID
	if sender != nil {
		senderID = sender.ID()
	}
	msg := &proto.Message{
		SenderID: senderID,
		Text:     textfx.FormatText(text),
		TS:       time.Now().UnixMilli(),
	}

	var dead []*Client
	for _, member := range r.clients {
		if senderID != proto.ServerSenderID && member.HasMuted(senderID) {
			continue
		}
		if !member.Send(msg) {
			dead = append(dead, member)
		}
	}
	r.dropLocked(dead)
	r.autoCleanupLocked()
}

// SendPrivateMessage delivers text to one target inside this room, echoing a
// copy back to the sender. Targets in other rooms are not reachable.
func (r *Room) SendPrivateMessage(sender *Client, targetID int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}

	target, exists := r.clients[targetID]
	if !exists {
		if !sender.Send(serverText(fmt.Sprintf("User with ID '%d' not found in the room.", targetID))) {
			r.dropLocked([]*Client{sender})
			r.autoCleanupLocked()
		}
		return
	}

	pm := &proto.PrivateMessage{
		SenderID: sender.ID(),
		TargetID: targetID,
		Text:     textfx.FormatText(text),
		TS:       time.Now().UnixMilli(),
	}

	var dead []*Client
	if !sender.Send(pm) {
		dead = append(dead, sender)
	}
	if target != sender && !target.Send(pm) {
		dead = append(dead, target)
	}
	r.dropLocked(dead)
	r.autoCleanupLocked()
}

// ProcessRoll broadcasts the outcome of a dice roll as a room message with
// the invoking client as the sender. Invalid parameters produce a descriptive
// broadcast instead of an error.
func (r *Room) ProcessRoll(sender *Client, roll *proto.Roll) {
	total, details, ok := rollOutcome(roll)
	if !ok {
		r.SendMessage(sender, fmt.Sprintf("%s attempted an invalid roll command.", sender.Name()))
		return
	}
	r.SendMessage(sender, textfx.FormatRollResult(sender.Name(), total, details))
}

// ProcessFlip broadcasts a coin flip result as a room message.
func (r *Room) ProcessFlip(sender *Client) {
	result := "heads"
	if rand.IntN(2) == 1 {
		result = "tails"
	}
	r.SendMessage(sender, textfx.FormatFlipResult(sender.Name(), result))
}

// rollOutcome resolves the two roll forms: dice notation (count and sides) or
// a single uniform pick in [1, range]. ok is false for non-positive parameters.
func rollOutcome(roll *proto.Roll) (total int, details string, ok bool) {
	switch {
	case roll.Count > 0 && roll.Sides > 0:
		rolls := make([]string, roll.Count)
		for i := range roll.Count {
			v := rand.IntN(roll.Sides) + 1
			total += v
			rolls[i] = strconv.Itoa(v)
		}
		return total, fmt.Sprintf("%dd%d: %s", roll.Count, roll.Sides, strings.Join(rolls, ", ")), true
	case roll.Range > 0:
		return rand.IntN(roll.Range) + 1, fmt.Sprintf("1-%d", roll.Range), true
	default:
		return 0, "", false
	}
}

// HandleCreateRoom creates a room through the registry and moves the sender
// into it, translating failures into user-facing messages.
func (r *Room) HandleCreateRoom(sender *Client, name string) {
	if err := r.registry.CreateRoom(name); err != nil {
		sender.Send(serverText(fmt.Sprintf("Room '%s' already exists.", name)))
		return
	}
	if err := r.registry.JoinRoom(name, sender); err != nil {
		sender.Send(serverText(fmt.Sprintf("Could not join room '%s': %s.", name, err)))
		return
	}
	sender.Send(serverText(fmt.Sprintf("Room '%s' created successfully and you joined.", name)))
}

// HandleJoinRoom moves the sender into an existing room, translating failures
// into user-facing messages.
func (r *Room) HandleJoinRoom(sender *Client, name string) {
	switch err := r.registry.JoinRoom(name, sender); {
	case err == nil:
	case errors.Is(err, ErrAlreadyInRoom):
		sender.Send(serverText(fmt.Sprintf("You are already in room '%s'.", name)))
	default:
		sender.Send(serverText(fmt.Sprintf("Room '%s' doesn't exist.", name)))
	}
}

func serverText(text string) *proto.Message {
	return &proto.Message{
		SenderID: proto.ServerSenderID,
		Text:     text,
		TS:       time.Now().UnixMilli(),
	}
}
