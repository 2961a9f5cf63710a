package core

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roomcast/roomcast-server/internal/proto"
)

func TestHelloAssignsIdsAndJoinsLobby(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := dialTestClient(t, reg)
	alice.say(t, &proto.Hello{Name: "alice"})

	assigned := expect[*proto.AssignID](t, alice)
	req.Equal(int64(1), assigned.ID)
	req.Equal("alice", assigned.Name)
	expect[*proto.MuteSync](t, alice)

	joined := expect[*proto.RoomJoined](t, alice)
	req.Equal(Lobby, joined.Room)
	req.Equal("alice", joined.Name)

	_, bob := dialTestClient(t, reg)
	bob.say(t, &proto.Hello{Name: "bob"})
	req.Equal(int64(2), expect[*proto.AssignID](t, bob).ID)

	// Bob is told about alice without a join banner.
	synced := expect[*proto.SyncClient](t, bob)
	req.Equal(int64(1), synced.ID)
	req.Equal("alice", synced.Name)

	// Alice sees bob's join banner.
	req.Equal("bob", expect[*proto.RoomJoined](t, alice).Name)
}

func TestLobbyBroadcastReachesEveryMember(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	aliceClient, alice := joinTestClient(t, reg, "alice")
	_, bob := joinTestClient(t, reg, "bob")
	expect[*proto.RoomJoined](t, alice)

	alice.say(t, &proto.Message{Text: "hi"})

	got := expect[*proto.Message](t, bob)
	req.Equal(aliceClient.ID(), got.SenderID)
	req.Equal("hi", got.Text)

	// The sender receives its own echo.
	echo := expect[*proto.Message](t, alice)
	req.Equal("hi", echo.Text)
}

func TestMuteFiltersFanout(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	bobClient, bob := joinTestClient(t, reg, "bob")
	expect[*proto.RoomJoined](t, alice)

	alice.say(t, &proto.Mute{TargetID: bobClient.ID(), TargetName: "bob"})
	req.Contains(expect[*proto.Message](t, alice).Text, "muted bob")
	req.Equal([]string{"bob"}, expect[*proto.MuteSync](t, alice).Muted)
	req.Contains(expect[*proto.Message](t, bob).Text, "has muted you")

	// Bob's broadcast is silently dropped for alice.
	bob.say(t, &proto.Message{Text: "yo"})
	req.Equal("yo", expect[*proto.Message](t, bob).Text)
	req.Zero(countMessages(alice, bobClient.ID(), 200*time.Millisecond))

	// Alice still sees her own messages.
	alice.say(t, &proto.Message{Text: "hi"})
	echo := expect[*proto.Message](t, alice)
	req.Equal("hi", echo.Text)
}

func TestMuteIsIdempotent(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	bobClient, bob := joinTestClient(t, reg, "bob")
	expect[*proto.RoomJoined](t, alice)

	alice.say(t, &proto.Mute{TargetID: bobClient.ID(), TargetName: "bob"})
	req.Contains(expect[*proto.Message](t, alice).Text, "muted bob")
	expect[*proto.MuteSync](t, alice)

	alice.say(t, &proto.Mute{TargetID: bobClient.ID(), TargetName: "bob"})
	req.Contains(expect[*proto.Message](t, alice).Text, "already muted")

	// Only the first mute notified bob.
	req.Contains(expect[*proto.Message](t, bob).Text, "has muted you")
	req.Zero(countMessages(bob, proto.ServerSenderID, 200*time.Millisecond))
}

func TestSelfMuteRejected(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	aliceClient, alice := joinTestClient(t, reg, "alice")
	alice.say(t, &proto.Mute{TargetID: aliceClient.ID()})
	req.Contains(expect[*proto.Message](t, alice).Text, "cannot mute yourself")
	req.False(aliceClient.HasMuted(aliceClient.ID()))
}

func TestUnmuteNotMutedIsReportedNoop(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	bobClient, _ := joinTestClient(t, reg, "bob")
	expect[*proto.RoomJoined](t, alice)

	alice.say(t, &proto.Unmute{TargetID: bobClient.ID(), TargetName: "bob"})
	req.Contains(expect[*proto.Message](t, alice).Text, "not muted")
}

func TestMuteListSurvivesReconnect(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	bobClient, _ := joinTestClient(t, reg, "bob")
	expect[*proto.RoomJoined](t, alice)

	alice.say(t, &proto.Mute{TargetID: bobClient.ID(), TargetName: "bob"})
	expect[*proto.MuteSync](t, alice)
	alice.say(t, &proto.Bye{})

	reconnected, _ := joinTestClient(t, reg, "alice")
	waitFor(t, func() bool { return reconnected.HasMuted(bobClient.ID()) })
	req.True(reconnected.HasMuted(bobClient.ID()))
}

func TestConcurrentCreateRoomExactlyOneWins(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = reg.CreateRoom("X")
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			req.ErrorIs(err, ErrRoomExists)
		}
	}
	req.Equal(1, wins)
}

func TestCreateRoomIsCaseInsensitive(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	req.NoError(reg.CreateRoom("Tavern"))
	req.ErrorIs(reg.CreateRoom("tavern"), ErrRoomExists)
	req.ErrorIs(reg.CreateRoom("TAVERN"), ErrRoomExists)
}

func TestJoinRoomMovesMembershipExclusively(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	aliceClient, alice := joinTestClient(t, reg, "alice")
	alice.say(t, &proto.CreateRoom{Room: "den"})

	joined := expect[*proto.RoomJoined](t, alice)
	req.Equal("den", joined.Room)

	// A client id appears in at most one room's membership.
	reg.mu.Lock()
	den := reg.rooms["den"]
	lobby := reg.rooms[Lobby]
	reg.mu.Unlock()
	req.NotNil(den)

	den.mu.Lock()
	_, inDen := den.clients[aliceClient.ID()]
	den.mu.Unlock()
	lobby.mu.Lock()
	_, inLobby := lobby.clients[aliceClient.ID()]
	lobby.mu.Unlock()

	req.True(inDen)
	req.False(inLobby)
	req.Same(den, aliceClient.Room())
}

func TestJoinCurrentRoomReported(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	alice.say(t, &proto.JoinRoom{Room: Lobby})
	req.Contains(expect[*proto.Message](t, alice).Text, "already in room")
}

func TestJoinMissingRoomReported(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	alice.say(t, &proto.JoinRoom{Room: "ghost"})
	req.Contains(expect[*proto.Message](t, alice).Text, "doesn't exist")
}

func TestEmptyNonLobbyRoomAutoCloses(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	alice.say(t, &proto.CreateRoom{Room: "den"})
	expect[*proto.RoomJoined](t, alice)

	alice.say(t, &proto.JoinRoom{Room: Lobby})
	expect[*proto.RoomJoined](t, alice)

	waitFor(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		_, exists := reg.rooms["den"]
		return !exists
	})

	// The lobby survives even while empty.
	alice.say(t, &proto.Bye{})
	waitFor(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.clients) == 0
	})
	reg.mu.Lock()
	_, lobbyAlive := reg.rooms[Lobby]
	reg.mu.Unlock()
	req.True(lobbyAlive)
}

func TestCloseMigratesMembersToLobby(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	aliceClient, alice := joinTestClient(t, reg, "alice")
	bobClient, bob := joinTestClient(t, reg, "bob")
	expect[*proto.RoomJoined](t, alice)

	alice.say(t, &proto.CreateRoom{Room: "den"})
	expect[*proto.RoomJoined](t, alice)
	bob.say(t, &proto.JoinRoom{Room: "den"})
	expect[*proto.RoomJoined](t, bob)

	reg.mu.Lock()
	den := reg.rooms["den"]
	lobby := reg.rooms[Lobby]
	reg.mu.Unlock()
	req.NotNil(den)

	den.Close()

	waitFor(t, func() bool {
		lobby.mu.Lock()
		defer lobby.mu.Unlock()
		_, aliceBack := lobby.clients[aliceClient.ID()]
		_, bobBack := lobby.clients[bobClient.ID()]
		return aliceBack && bobBack
	})

	reg.mu.Lock()
	_, denAlive := reg.rooms["den"]
	reg.mu.Unlock()
	req.False(denAlive)
}

func TestIdWraparoundResetsToOne(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	reg.mu.Lock()
	reg.nextID = math.MaxInt64
	reg.mu.Unlock()

	_, alice := dialTestClient(t, reg)
	alice.say(t, &proto.Hello{Name: "alice"})
	req.Equal(int64(math.MaxInt64), expect[*proto.AssignID](t, alice).ID)

	_, bob := dialTestClient(t, reg)
	bob.say(t, &proto.Hello{Name: "bob"})
	req.Equal(int64(1), expect[*proto.AssignID](t, bob).ID)
}

func TestDisconnectMidBroadcastDeliversExactlyOnce(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	bobClient, bob := joinTestClient(t, reg, "bob")
	_, carol := joinTestClient(t, reg, "carol")
	expect[*proto.RoomJoined](t, alice)
	expect[*proto.RoomJoined](t, alice)
	expect[*proto.RoomJoined](t, bob)

	// Alice's socket dies without a goodbye; the next fanout detects it.
	req.NoError(alice.conn.Close())
	bob.say(t, &proto.Message{Text: "anyone there?"})

	carolMsgs, carolSawGone := 0, false
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case payload, ok := <-carol.events:
			if !ok {
				break drain
			}
			switch p := payload.(type) {
			case *proto.Message:
				if p.SenderID == bobClient.ID() {
					carolMsgs++
				}
			case *proto.PeerGone:
				carolSawGone = true
			}
		case <-timeout:
			break drain
		}
	}
	req.Equal(1, carolMsgs)
	req.True(carolSawGone)
	req.Equal(1, countMessages(bob, bobClient.ID(), 300*time.Millisecond))
}

func TestShutdownIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)

	_, alice := joinTestClient(t, reg, "alice")
	_ = alice

	reg.Shutdown()
	reg.Shutdown()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
