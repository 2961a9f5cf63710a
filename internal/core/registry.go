package core

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/roomcast/roomcast-server/internal/mutes"
	"github.com/roomcast/roomcast-server/internal/proto"
)

// Registry holds process-wide chat state: the room table, the live client
// set, and the id counter. It is passed explicitly to every connection actor.
// The room table and client table form one mutual-exclusion domain; each Room
// guards its own membership separately.
type Registry struct {
	log   zerolog.Logger
	mutes *mutes.Store

	mu       sync.Mutex
	rooms    map[string]*Room
	clients  map[int64]*Client
	nextID   int64
	shutdown bool
}

// NewRegistry builds an empty registry. Callers create the lobby via Serve
// or CreateRoom before admitting clients.
func NewRegistry(store *mutes.Store, logger *zerolog.Logger) *Registry {
	return &Registry{
		log:     logger.With().Str("component", "registry").Logger(),
		mutes:   store,
		rooms:   make(map[string]*Room),
		clients: make(map[int64]*Client),
		nextID:  1,
	}
}

// Serve creates the lobby and accepts connections until the listener fails,
// spawning one actor goroutine per connection. A failed accept triggers full
// shutdown; the error is returned to the caller.
func (reg *Registry) Serve(l net.Listener) error {
	if err := reg.CreateRoom(Lobby); err != nil && !errors.Is(err, ErrRoomExists) {
		return err
	}
	reg.log.Info().Str("addr", l.Addr().String()).Msg("listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			reg.Shutdown()
			return err
		}
		reg.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		client := NewClient(conn, reg, reg.mutes, &reg.log)
		go client.Run()
	}
}

// OnClientInitialized is called once an actor has a confirmed display name.
// It assigns the next client id, registers the actor, syncs the mute list,
// and auto-joins the lobby. The id counter wraps back to 1 instead of going
// non-positive; collisions with still-live low ids are a known accepted risk.
func (reg *Registry) OnClientInitialized(c *Client) {
	reg.mu.Lock()
	id := reg.nextID
	reg.nextID++
	if reg.nextID <= 0 {
		reg.nextID = 1
	}
	c.setID(id)
	reg.clients[id] = c
	reg.mu.Unlock()

	reg.log.Info().Int64("client_id", id).Str("client", c.Name()).Msg("client initialized")

	if !c.Send(&proto.AssignID{ID: id, Name: c.Name()}) {
		reg.removeClient(c)
		c.Close()
		return
	}
	c.sendMuteSync()

	if err := reg.JoinRoom(Lobby, c); err != nil {
		reg.log.Error().Err(err).Int64("client_id", id).Msg("lobby join failed")
	}
}

// CreateRoom inserts a new room under a case-insensitive unique name.
// Exactly one of two concurrent creators wins; the loser gets ErrRoomExists.
func (reg *Registry) CreateRoom(name string) error {
	key := strings.ToLower(name)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.shutdown {
		return ErrRoomClosed
	}
	if _, exists := reg.rooms[key]; exists {
		return ErrRoomExists
	}
	reg.rooms[key] = NewRoom(name, reg, &reg.log)
	return nil
}

// JoinRoom moves a client into the named room: leave the current room, then
// add to the destination. The two steps are deliberately not atomic; the
// registry lock is released before either room is touched, so a client can
// transiently belong to no room.
func (reg *Registry) JoinRoom(name string, c *Client) error {
	key := strings.ToLower(name)

	reg.mu.Lock()
	dest, exists := reg.rooms[key]
	reg.mu.Unlock()
	if !exists {
		return ErrRoomNotFound
	}

	current := c.Room()
	if current == dest {
		return ErrAlreadyInRoom
	}
	if current != nil {
		current.RemovedClient(c)
	}
	if !dest.AddClient(c) {
		return ErrRoomClosed
	}
	return nil
}

// RemoveRoom deletes the room from the table, keyed case-insensitively.
// A newer room that reused the name is left alone.
func (reg *Registry) RemoveRoom(room *Room) {
	key := strings.ToLower(room.Name())

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rooms[key] == room {
		delete(reg.rooms, key)
		reg.log.Info().Str("room", room.Name()).Msg("room removed")
	}
}

// GetClientByID returns the live client with the given id, nil on miss.
func (reg *Registry) GetClientByID(id int64) *Client {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.clients[id]
}

func (reg *Registry) removeClient(c *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.clients[c.ID()] == c {
		delete(reg.clients, c.ID())
	}
}

// Shutdown disconnects every live client, clears the client set, and closes
// every room. Idempotent: invoked from both the accept-loop exit and the
// process signal path, whichever comes first wins.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	if reg.shutdown {
		reg.mu.Unlock()
		return
	}
	reg.shutdown = true
	clients := lo.Values(reg.clients)
	rooms := lo.Values(reg.rooms)
	reg.clients = make(map[int64]*Client)
	reg.mu.Unlock()

	reg.log.Info().Int("clients", len(clients)).Int("rooms", len(rooms)).Msg("shutting down")
	for _, c := range clients {
		if room := c.Room(); room != nil {
			room.Disconnect(c)
		} else {
			c.Close()
		}
	}
	for _, room := range rooms {
		room.Close()
	}
}
