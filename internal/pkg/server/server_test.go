package server_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"lanchat/internal/pkg/handler"
	"lanchat/internal/pkg/registry"
	"lanchat/internal/pkg/relay"
	"lanchat/internal/pkg/server"
	"lanchat/internal/pkg/wire"

	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfgs ...handler.Cfg) (addr string, reg *registry.Registry) {
	t.Helper()
	reg = registry.New()
	rel := relay.New(reg)
	cfgs = append([]handler.Cfg{
		handler.WithRegistry(reg),
		handler.WithRelay(rel),
		handler.WithHandshakeTimeout(2 * time.Second),
	}, cfgs...)
	h, err := handler.NewHandler(cfgs...)
	require.NoError(t, err)
	srv, err := server.NewServer(server.WithHandler(h))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)
	return ln.Addr().String(), reg
}

// testClient is a scripted chat client: every envelope the server sends
// is pumped into a channel so expectations never race the transport.
type testClient struct {
	t    *testing.T
	conn net.Conn
	in   chan wire.Envelope
}

// dial connects, completes the identity handshake and consumes the
// initial room list plus the client's own arrival notice.
func dial(t *testing.T, addr, name string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c := &testClient{t: t, conn: conn, in: make(chan wire.Envelope, 64)}
	t.Cleanup(func() { conn.Close() })
	go c.pump()

	c.send(wire.Envelope{Type: wire.TypeUsername, Username: name})
	roomList := c.expect(wire.TypeRoomList)
	require.Contains(t, roomList.Rooms, registry.DefaultRoom)
	notice := c.expect(wire.TypeMessage)
	require.Equal(t, name+" joined the chat", notice.Content)
	return c
}

func (c *testClient) pump() {
	dec := json.NewDecoder(c.conn)
	for {
		var env wire.Envelope
		if err := dec.Decode(&env); err != nil {
			close(c.in)
			return
		}
		c.in <- env
	}
}

func (c *testClient) send(env wire.Envelope) {
	c.t.Helper()
	require.NoError(c.t, json.NewEncoder(c.conn).Encode(env))
}

func (c *testClient) expect(envType string) wire.Envelope {
	c.t.Helper()
	select {
	case env, ok := <-c.in:
		require.True(c.t, ok, "server closed the connection while waiting for %s", envType)
		require.Equal(c.t, envType, env.Type)
		return env
	case <-time.After(2 * time.Second):
		c.t.Fatalf("timed out waiting for %s", envType)
		return wire.Envelope{}
	}
}

func (c *testClient) expectNothing() {
	c.t.Helper()
	select {
	case env, ok := <-c.in:
		if ok {
			c.t.Fatalf("unexpected envelope: %+v", env)
		}
		c.t.Fatal("connection closed unexpectedly")
	case <-time.After(300 * time.Millisecond):
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	require.Eventually(c.t, func() bool {
		select {
		case _, ok := <-c.in:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

// Scenario: a message relays to every other member of the room, but
// never echoes back to its sender.
func TestMessageRelayExcludesSender(t *testing.T) {
	addr, _ := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	alice.expect(wire.TypeMessage) // bob's arrival notice

	alice.send(wire.ChatMessage("alice", "hi", registry.DefaultRoom))
	env := bob.expect(wire.TypeMessage)
	require.Equal(t, "alice", env.Sender)
	require.Equal(t, "hi", env.Content)
	alice.expectNothing()
}

// Scenario: protected room lifecycle, wrong password, retry.
func TestProtectedRoomJoinFlow(t *testing.T) {
	addr, reg := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	alice.expect(wire.TypeMessage) // bob's arrival notice

	alice.send(wire.Envelope{Type: wire.TypeCreateRoom, Room: "Secret", Password: "pw1"})
	created := alice.expect(wire.TypeRoomCreated)
	require.True(t, created.OK())
	require.Equal(t, "Secret", created.Room)

	// Room existence is global state: everyone gets the refreshed list.
	aliceList := alice.expect(wire.TypeRoomList)
	require.Contains(t, aliceList.Rooms, "Secret")
	require.Contains(t, aliceList.ProtectedRooms, "Secret")
	bobList := bob.expect(wire.TypeRoomList)
	require.Contains(t, bobList.ProtectedRooms, "Secret")

	bob.send(wire.Envelope{Type: wire.TypeJoinRoom, Room: "Secret", Password: "wrong"})
	joined := bob.expect(wire.TypeRoomJoined)
	require.False(t, joined.OK())
	require.Equal(t, "Incorrect password", joined.Message)
	require.Empty(t, reg.Members("Secret", nil), "failed join must not move the session")

	bob.send(wire.Envelope{Type: wire.TypeJoinRoom, Room: "Secret", Password: "pw1"})
	joined = bob.expect(wire.TypeRoomJoined)
	require.True(t, joined.OK())
	require.Equal(t, "Secret", joined.Room)
	notice := bob.expect(wire.TypeMessage)
	require.Equal(t, "bob moved to Secret", notice.Content)

	require.Len(t, reg.Members("Secret", nil), 1)
	require.Len(t, reg.Members(registry.DefaultRoom, nil), 1, "alice stays behind in General")
	alice.expectNothing()
}

// Scenario: duplicate room creation fails without mutating state.
func TestCreateRoomDuplicateRefused(t *testing.T) {
	addr, reg := startServer(t)
	alice := dial(t, addr, "alice")

	alice.send(wire.Envelope{Type: wire.TypeCreateRoom, Room: "Den"})
	require.True(t, alice.expect(wire.TypeRoomCreated).OK())
	alice.expect(wire.TypeRoomList)

	alice.send(wire.Envelope{Type: wire.TypeCreateRoom, Room: "Den"})
	created := alice.expect(wire.TypeRoomCreated)
	require.False(t, created.OK())
	require.Equal(t, "Room already exists", created.Message)

	_, rooms := reg.Counts()
	require.Equal(t, 2, rooms)
	alice.expectNothing()
}

// Scenario: owner-only background changes.
func TestRoomBackgroundOwnerOnly(t *testing.T) {
	addr, reg := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	alice.expect(wire.TypeMessage) // bob's arrival notice

	alice.send(wire.Envelope{Type: wire.TypeCreateRoom, Room: "Lounge"})
	require.True(t, alice.expect(wire.TypeRoomCreated).OK())
	alice.expect(wire.TypeRoomList)
	bob.expect(wire.TypeRoomList)

	alice.send(wire.Envelope{Type: wire.TypeJoinRoom, Room: "Lounge"})
	require.True(t, alice.expect(wire.TypeRoomJoined).OK())
	alice.expect(wire.TypeMessage) // own move notice

	alice.send(wire.Envelope{Type: wire.TypeRoomBackground, Room: "Lounge", Color: "#112233"})
	relayed := alice.expect(wire.TypeRoomBackground)
	require.Equal(t, "#112233", relayed.Color)

	// Bob is not the owner: refused silently, no broadcast to anyone.
	bob.send(wire.Envelope{Type: wire.TypeRoomBackground, Room: "Lounge", Color: "#ff0000"})
	color, ok := reg.Background("Lounge")
	require.True(t, ok)
	require.Equal(t, "#112233", color)
	alice.expectNothing()
	bob.expectNothing()
}

// Scenario: abrupt disconnect triggers a departure notice and cleanup.
func TestAbruptDisconnectAnnouncesDeparture(t *testing.T) {
	addr, reg := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	alice.expect(wire.TypeMessage) // bob's arrival notice

	require.NoError(t, alice.conn.Close())

	notice := bob.expect(wire.TypeMessage)
	require.Equal(t, wire.SystemSender, notice.Sender)
	require.Equal(t, "alice left the chat", notice.Content)
	require.Equal(t, registry.DefaultRoom, notice.Room)

	require.Len(t, reg.Members(registry.DefaultRoom, nil), 1)
	sessions, _ := reg.Counts()
	require.Equal(t, 1, sessions)
}

func TestMalformedEnvelopeClosesSessionOnly(t *testing.T) {
	addr, reg := startServer(t)
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	alice.expect(wire.TypeMessage) // bob's arrival notice

	_, err := alice.conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	alice.expectClosed()
	notice := bob.expect(wire.TypeMessage)
	require.Equal(t, "alice left the chat", notice.Content)

	// Bob's session is untouched by alice's protocol error.
	bob.send(wire.ChatMessage("bob", "still here", registry.DefaultRoom))
	sessions, _ := reg.Counts()
	require.Equal(t, 1, sessions)
}

func TestInboundRateLimitDiscardsExcess(t *testing.T) {
	addr, reg := startServer(t, handler.WithRateLimit(0.001, 1))
	alice := dial(t, addr, "alice")
	bob := dial(t, addr, "bob")
	alice.expect(wire.TypeMessage) // bob's arrival notice

	alice.send(wire.ChatMessage("alice", "first", registry.DefaultRoom))
	alice.send(wire.ChatMessage("alice", "second", registry.DefaultRoom))

	env := bob.expect(wire.TypeMessage)
	require.Equal(t, "first", env.Content)
	bob.expectNothing()

	// Discarding is not fatal: both sessions stay connected.
	sessions, _ := reg.Counts()
	require.Equal(t, 2, sessions)
}
