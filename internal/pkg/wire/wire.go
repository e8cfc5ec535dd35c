package wire

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Envelope type discriminators.
const (
	TypeUsername       = "username"
	TypeRoomList       = "room_list"
	TypeMessage        = "message"
	TypeCreateRoom     = "create_room"
	TypeRoomCreated    = "room_created"
	TypeJoinRoom       = "join_room"
	TypeRoomJoined     = "room_joined"
	TypeRoomBackground = "room_background"
)

// SystemSender is the sender name used for server-originated notices.
const SystemSender = "Server"

// Envelope is one logical chat protocol message. Type is mandatory;
// the remaining fields are populated per type.
type Envelope struct {
	Type           string   `json:"type"`
	Username       string   `json:"username,omitempty"`
	Sender         string   `json:"sender,omitempty"`
	Content        string   `json:"content,omitempty"`
	Room           string   `json:"room,omitempty"`
	Password       string   `json:"password,omitempty"`
	Color          string   `json:"color,omitempty"`
	Rooms          []string `json:"rooms,omitempty"`
	ProtectedRooms []string `json:"protected_rooms,omitempty"`
	Success        *bool    `json:"success,omitempty"`
	Message        string   `json:"message,omitempty"`
}

// OK reports the success flag of a response envelope.
func (e Envelope) OK() bool {
	return e.Success != nil && *e.Success
}

// ChatMessage builds a relayed chat message envelope.
func ChatMessage(sender, content, room string) Envelope {
	return Envelope{
		Type:    TypeMessage,
		Sender:  sender,
		Content: content,
		Room:    room,
	}
}

// SystemNotice builds a server-originated message envelope for the given room.
func SystemNotice(content, room string) Envelope {
	return ChatMessage(SystemSender, content, room)
}

// RoomList builds a room topology announcement.
func RoomList(rooms, protected []string) Envelope {
	return Envelope{
		Type:           TypeRoomList,
		Rooms:          rooms,
		ProtectedRooms: protected,
	}
}

// RoomCreated builds the response to a create_room request.
func RoomCreated(success bool, room, message string) Envelope {
	return Envelope{
		Type:    TypeRoomCreated,
		Success: &success,
		Room:    room,
		Message: message,
	}
}

// RoomJoined builds the response to a join_room request.
func RoomJoined(success bool, room, message string) Envelope {
	return Envelope{
		Type:    TypeRoomJoined,
		Success: &success,
		Room:    room,
		Message: message,
	}
}

// inbound lists the envelope types a client may send to the server.
var inbound = map[string]struct{}{
	TypeUsername:       {},
	TypeMessage:        {},
	TypeCreateRoom:     {},
	TypeJoinRoom:       {},
	TypeRoomBackground: {},
}

// Decoder reads client envelopes off a byte stream, one per Next call.
type Decoder struct {
	dec *json.Decoder
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Next returns the next envelope from the stream.
// Malformed input and unrecognized types are session-fatal:
// once Next fails the stream must be abandoned.
func (d *Decoder) Next() (Envelope, error) {
	var env Envelope
	if err := d.dec.Decode(&env); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return Envelope{}, ErrMalformed
		}
		return Envelope{}, err
	}
	if _, ok := inbound[env.Type]; !ok {
		return Envelope{}, ErrUnknownType
	}
	return env, nil
}

// Encoder writes envelopes to a byte stream. It is safe for concurrent
// use; writers interleave at whole-envelope granularity.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one envelope to the stream.
func (e *Encoder) Encode(env Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Wrap(e.enc.Encode(env), "encode envelope failed")
}
