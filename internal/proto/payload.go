// Package proto defines the wire envelope exchanged between chat clients and
// the server. Every payload is one JSON object per newline-terminated line,
// wrapped in an Envelope carrying a kind tag and a kind-specific data object.
package proto

// ServerSenderID marks a message as authored by the server itself.
// Server-authored messages are never filtered by mute lists.
const ServerSenderID int64 = 0

// Payload kind tags. The tag determines the shape of the envelope data.
const (
	KindHello      = "hello"
	KindAssignID   = "assign_id"
	KindSyncClient = "sync_client"
	KindRoomJoined = "room_joined"
	KindRoomLeft   = "room_left"
	KindPeerGone   = "peer_gone"
	KindCreateRoom = "create_room"
	KindJoinRoom   = "join_room"
	KindMessage    = "msg"
	KindPrivateMsg = "pm"
	KindRoll       = "roll"
	KindFlip       = "flip"
	KindMute       = "mute"
	KindUnmute     = "unmute"
	KindMuteSync   = "mute_sync"
	KindBye        = "bye"
)

// Payload is implemented by every message variant.
type Payload interface {
	Kind() string
}

// Hello is the client's initial name claim.
type Hello struct {
	Name string `json:"name"`
}

// AssignID tells the client its server-assigned id.
type AssignID struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SyncClient silently informs the receiver of an existing peer, without a join banner.
type SyncClient struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RoomJoined announces that a peer joined a room.
type RoomJoined struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Room string `json:"room"`
}

// RoomLeft announces that a peer voluntarily left a room.
type RoomLeft struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Room string `json:"room"`
}

// PeerGone announces that a peer's connection is gone, as opposed to leaving a room.
type PeerGone struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CreateRoom asks the server to create a room.
type CreateRoom struct {
	Room string `json:"room"`
}

// JoinRoom asks the server to move the sender into a room.
type JoinRoom struct {
	Room string `json:"room"`
}

// Message is a room broadcast. SenderID is ServerSenderID for server-authored text.
type Message struct {
	SenderID int64  `json:"sender_id"`
	Text     string `json:"text"`
	TS       int64  `json:"ts,omitempty"`
}

// PrivateMessage is a point-to-point message inside one room.
type PrivateMessage struct {
	SenderID int64  `json:"sender_id"`
	TargetID int64  `json:"target_id"`
	Text     string `json:"text"`
	TS       int64  `json:"ts,omitempty"`
}

// Roll requests a dice roll: either a single bound (Range) or dice notation
// (Count dice with Sides sides each). Exactly one form should be populated.
type Roll struct {
	Range int `json:"range,omitempty"`
	Count int `json:"count,omitempty"`
	Sides int `json:"sides,omitempty"`
}

// Flip requests a coin flip.
type Flip struct{}

// Mute asks the server to mute a peer for the sender.
type Mute struct {
	TargetID   int64  `json:"target_id"`
	TargetName string `json:"target_name,omitempty"`
}

// Unmute asks the server to unmute a peer for the sender.
type Unmute struct {
	TargetID   int64  `json:"target_id"`
	TargetName string `json:"target_name,omitempty"`
}

// MuteSync carries the display names of the receiver's currently-connected muted peers.
type MuteSync struct {
	Muted []string `json:"muted"`
}

// Bye is the client's announced intent to disconnect.
type Bye struct{}

func (Hello) Kind() string          { return KindHello }
func (AssignID) Kind() string       { return KindAssignID }
func (SyncClient) Kind() string     { return KindSyncClient }
func (RoomJoined) Kind() string     { return KindRoomJoined }
func (RoomLeft) Kind() string       { return KindRoomLeft }
func (PeerGone) Kind() string       { return KindPeerGone }
func (CreateRoom) Kind() string     { return KindCreateRoom }
func (JoinRoom) Kind() string       { return KindJoinRoom }
func (Message) Kind() string        { return KindMessage }
func (PrivateMessage) Kind() string { return KindPrivateMsg }
func (Roll) Kind() string           { return KindRoll }
func (Flip) Kind() string           { return KindFlip }
func (Mute) Kind() string           { return KindMute }
func (Unmute) Kind() string         { return KindUnmute }
func (MuteSync) Kind() string       { return KindMuteSync }
func (Bye) Kind() string            { return KindBye }
