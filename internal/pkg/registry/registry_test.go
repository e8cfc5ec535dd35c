package registry

import (
	"net"
	"testing"

	"lanchat/internal/pkg/session"

	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, name string) *session.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	s := session.New(server)
	s.SetName(name)
	return s
}

// memberOf returns the names of the rooms whose member set contains s.
func memberOf(reg *Registry, s *session.Session) []string {
	rooms, _ := reg.Snapshot()
	var found []string
	for _, name := range rooms {
		for _, m := range reg.Members(name, nil) {
			if m == s {
				found = append(found, name)
			}
		}
	}
	return found
}

func TestDefaultRoomAlwaysExists(t *testing.T) {
	reg := New()
	rooms, protected := reg.Snapshot()
	require.Equal(t, []string{DefaultRoom}, rooms)
	require.Empty(t, protected)

	sessions, roomCount := reg.Counts()
	require.Zero(t, sessions)
	require.Equal(t, 1, roomCount)
}

func TestSessionBelongsToExactlyOneRoom(t *testing.T) {
	reg := New()
	alice := newSession(t, "alice")

	reg.Register(alice)
	require.Equal(t, []string{DefaultRoom}, memberOf(reg, alice))

	require.Equal(t, CreateOK, reg.CreateRoom("Den", "", "alice"))
	require.Equal(t, []string{DefaultRoom}, memberOf(reg, alice), "creating must not move the creator")

	require.Equal(t, JoinOK, reg.JoinRoom(alice, "Den", ""))
	require.Equal(t, []string{"Den"}, memberOf(reg, alice))

	room, ok := reg.Leave(alice)
	require.True(t, ok)
	require.Equal(t, "Den", room)
	require.Empty(t, memberOf(reg, alice))

	_, ok = reg.Leave(alice)
	require.False(t, ok, "second leave must be a no-op")
}

func TestCreateRoomDuplicate(t *testing.T) {
	reg := New()
	require.Equal(t, CreateOK, reg.CreateRoom("Den", "pw", "alice"))
	require.Equal(t, CreateDuplicate, reg.CreateRoom("Den", "other", "bob"))

	_, rooms := reg.Counts()
	require.Equal(t, 2, rooms)

	// Failed creation must not have touched the original password or owner.
	require.Equal(t, BackgroundOK, reg.SetBackground("Den", "#112233", "alice"))
	require.Equal(t, JoinWrongPassword, reg.JoinRoom(newSession(t, "bob"), "Den", "other"))
}

func TestJoinRoomPasswordGate(t *testing.T) {
	reg := New()
	bob := newSession(t, "bob")
	reg.Register(bob)
	require.Equal(t, CreateOK, reg.CreateRoom("Secret", "pw1", "alice"))

	require.Equal(t, JoinWrongPassword, reg.JoinRoom(bob, "Secret", "wrong"))
	require.Equal(t, []string{DefaultRoom}, memberOf(reg, bob), "failed join must leave membership unchanged")

	require.Equal(t, JoinNotFound, reg.JoinRoom(bob, "Nowhere", ""))
	require.Equal(t, []string{DefaultRoom}, memberOf(reg, bob))

	require.Equal(t, JoinOK, reg.JoinRoom(bob, "Secret", "pw1"))
	require.Equal(t, []string{"Secret"}, memberOf(reg, bob))

	room, ok := reg.RoomOf(bob)
	require.True(t, ok)
	require.Equal(t, "Secret", room)
}

func TestJoinRoomOpenRoomNeedsNoPassword(t *testing.T) {
	reg := New()
	bob := newSession(t, "bob")
	reg.Register(bob)
	require.Equal(t, CreateOK, reg.CreateRoom("Lounge", "", "alice"))
	require.Equal(t, JoinOK, reg.JoinRoom(bob, "Lounge", "anything goes"))
}

func TestJoinRoomRefusesDroppedSession(t *testing.T) {
	reg := New()
	ghost := newSession(t, "ghost")
	require.Equal(t, JoinNotFound, reg.JoinRoom(ghost, DefaultRoom, ""))
	require.Empty(t, memberOf(reg, ghost))
}

func TestSnapshotOrderIsStable(t *testing.T) {
	reg := New()
	require.Equal(t, CreateOK, reg.CreateRoom("Zulu", "pw", "alice"))
	require.Equal(t, CreateOK, reg.CreateRoom("Alpha", "", "alice"))
	require.Equal(t, CreateOK, reg.CreateRoom("Mike", "pw", "alice"))

	for i := 0; i < 10; i++ {
		rooms, protected := reg.Snapshot()
		require.Equal(t, []string{DefaultRoom, "Zulu", "Alpha", "Mike"}, rooms)
		require.Equal(t, []string{"Zulu", "Mike"}, protected)
	}
}

func TestSetBackgroundOwnerOnly(t *testing.T) {
	reg := New()
	require.Equal(t, CreateOK, reg.CreateRoom("Lounge", "", "alice"))

	require.Equal(t, BackgroundOK, reg.SetBackground("Lounge", "#112233", "alice"))
	color, ok := reg.Background("Lounge")
	require.True(t, ok)
	require.Equal(t, "#112233", color)

	require.Equal(t, BackgroundForbidden, reg.SetBackground("Lounge", "#ff0000", "bob"))
	color, _ = reg.Background("Lounge")
	require.Equal(t, "#112233", color)

	require.Equal(t, BackgroundNotFound, reg.SetBackground("Nowhere", "#ff0000", "alice"))

	// The default room has no owner, so nobody may restyle it.
	require.Equal(t, BackgroundForbidden, reg.SetBackground(DefaultRoom, "#ff0000", "alice"))
}

func TestCounts(t *testing.T) {
	reg := New()
	alice := newSession(t, "alice")
	bob := newSession(t, "bob")
	reg.Register(alice)
	reg.Register(bob)
	require.Equal(t, CreateOK, reg.CreateRoom("Den", "", "alice"))

	sessions, rooms := reg.Counts()
	require.Equal(t, 2, sessions)
	require.Equal(t, 2, rooms)

	reg.Leave(alice)
	sessions, _ = reg.Counts()
	require.Equal(t, 1, sessions)
}

func TestMembersExcludes(t *testing.T) {
	reg := New()
	alice := newSession(t, "alice")
	bob := newSession(t, "bob")
	reg.Register(alice)
	reg.Register(bob)

	members := reg.Members(DefaultRoom, alice)
	require.Len(t, members, 1)
	require.Same(t, bob, members[0])

	require.Len(t, reg.Members(DefaultRoom, nil), 2)
	require.Nil(t, reg.Members("Nowhere", nil))
}
