package manager

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/remoteops/distant/core/auth"
	"github.com/remoteops/distant/core/conn"
	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/handshake"
	"github.com/remoteops/distant/core/rawio"
	"github.com/remoteops/distant/core/runtime"
	"github.com/remoteops/distant/core/transport"
	"github.com/remoteops/distant/core/version"
)

// memRaw mirrors core/transport's in-memory rawio.Raw test double: two
// instances sharing each other as peer form a duplex pipe.
type memRaw struct {
	mu     sync.Mutex
	in     bytes.Buffer
	peer   *memRaw
	online bool
}

func newMemPair() (*memRaw, *memRaw) {
	a := &memRaw{online: true}
	b := &memRaw{online: true}
	a.peer, b.peer = b, a
	return a, b
}

func (m *memRaw) TryRead(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return 0, errs.New(errs.UnexpectedEOF, "connection closed")
	}
	if m.in.Len() == 0 {
		return 0, rawio.ErrWouldBlock
	}
	return m.in.Read(buf)
}

func (m *memRaw) TryWrite(buf []byte) (int, error) {
	m.mu.Lock()
	online := m.online
	peer := m.peer
	m.mu.Unlock()
	if !online {
		return 0, errs.New(errs.ConnectionReset, "connection closed")
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	return peer.in.Write(buf)
}

func (m *memRaw) Ready(ctx context.Context, interest rawio.Interest) (rawio.Interest, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		m.mu.Lock()
		ready := !m.online || m.in.Len() > 0
		m.mu.Unlock()
		if ready {
			return interest, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *memRaw) Reconnect(context.Context) error {
	return errs.New(errs.Unsupported, "memRaw does not support reconnect")
}

func (m *memRaw) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = false
	return nil
}

func newTestManagers(t *testing.T) (client *Manager, server *Manager, connID string) {
	t.Helper()
	clientRaw, serverRaw := newMemPair()
	ctx := context.Background()

	server = New(Config{
		Local:         version.New(0, 1, 0),
		AuthMethods:   map[string]auth.Method{auth.None: auth.NoneMethod{}},
		AuthAvailable: []string{auth.None},
	})
	client = New(Config{Local: version.New(0, 1, 0)})
	require.NoError(t, client.RegisterConnectHandler("mem", func(context.Context, string, map[string]string) (rawio.Raw, error) {
		return clientRaw, nil
	}))

	var serverConnID string
	var serverErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverConnID, serverErr = server.Accept(ctx, serverRaw)
	}()

	connected, err := client.Connect(ctx, Connect{Destination: "mem://x"}, auth.DummyHandler{})
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, serverErr)
	_ = serverConnID

	return client, server, connected.ID
}

func TestConnectEstablishesRegisteredConnection(t *testing.T) {
	client, _, connID := newTestManagers(t)
	info, err := client.Info(connID)
	require.NoError(t, err)
	require.Equal(t, "mem://x", info.Destination)
}

func TestOpenChannelAndExchangePayload(t *testing.T) {
	client, server, connID := newTestManagers(t)
	ctx := context.Background()

	channelID, clientStream, err := client.OpenChannel(ctx, connID)
	require.NoError(t, err)
	require.NotEmpty(t, channelID)

	// Discover the server's mirrored connection id and channel id via
	// List, the way an operator tool would.
	list := server.List()
	require.Len(t, list.Connections, 1)
	serverConnID := list.Connections[0].ID
	require.Len(t, list.Connections[0].ChannelIDs, 1)
	serverChannelID := list.Connections[0].ChannelIDs[0]

	serverStream, err := server.Channel(serverConnID, serverChannelID)
	require.NoError(t, err)

	require.NoError(t, client.SendChannel(ctx, connID, channelID, []byte("ping")))
	select {
	case got := <-serverStream:
		require.Equal(t, "ping", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel payload")
	}

	require.NoError(t, client.CloseChannel(ctx, connID, channelID))
	_ = clientStream
}

func TestConnectFailsForUnknownScheme(t *testing.T) {
	m := New(Config{Local: version.New(0, 1, 0)})
	_, err := m.Connect(context.Background(), Connect{Destination: "ssh://host"}, auth.DummyHandler{})
	require.Error(t, err)
}

func TestRegisterConnectHandlerRejectsDuplicateScheme(t *testing.T) {
	m := New(Config{Local: version.New(0, 1, 0)})
	h := func(context.Context, string, map[string]string) (rawio.Raw, error) { return nil, nil }
	require.NoError(t, m.RegisterConnectHandler("tcp", h))
	require.Error(t, m.RegisterConnectHandler("tcp", h))
}

func TestKillUnregistersConnection(t *testing.T) {
	client, _, connID := newTestManagers(t)
	require.NoError(t, client.Kill(connID))
	_, err := client.Info(connID)
	require.Error(t, err)
}

// refusingHandler fails the test if it is ever asked to answer a
// challenge: a second Connect that completes without hitting it proves
// a stored reauthentication credential satisfied the server instead.
type refusingHandler struct {
	auth.DummyHandler
	t *testing.T
}

func (h refusingHandler) OnChallenge(questions []auth.Question) ([]string, error) {
	h.t.Fatal("challenge reached the interactive handler; stored credential was not used")
	return nil, nil
}

func newKeychain(t *testing.T) *Keychain {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keychain.enc")
	k, err := OpenKeychain(path, testKey())
	require.NoError(t, err)
	return k
}

func TestReauthenticationCredentialSatisfiesSecondConnect(t *testing.T) {
	ctx := context.Background()
	const destination = "mem://x"

	serverKeychain := newKeychain(t)
	defer serverKeychain.Close(ctx)
	clientKeychain := newKeychain(t)
	defer clientKeychain.Close(ctx)

	server := New(Config{
		Local:         version.New(0, 1, 0),
		Keychain:      serverKeychain,
		AuthMethods:   map[string]auth.Method{auth.None: auth.NoneMethod{}},
		AuthAvailable: []string{auth.None},
	})
	client := New(Config{Local: version.New(0, 1, 0), Keychain: clientKeychain})

	clientRaw1, serverRaw1 := newMemPair()
	require.NoError(t, client.RegisterConnectHandler("mem", func(context.Context, string, map[string]string) (rawio.Raw, error) {
		return clientRaw1, nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	go func() {
		defer wg.Done()
		_, serverErr = server.Accept(ctx, serverRaw1)
	}()

	connected, err := client.Connect(ctx, Connect{Destination: destination}, auth.DummyHandler{})
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, serverErr)

	// The server pushes a credential to the client asynchronously after
	// Accept returns; poll the client keychain until it lands.
	require.Eventually(t, func() bool {
		_, ok := clientKeychain.Get(destination)
		return ok
	}, 2*time.Second, 10*time.Millisecond, "reauthentication credential never reached the client keychain")

	require.NoError(t, client.Kill(connected.ID))

	// Re-register "mem" for a fresh pipe and reconnect to the same
	// destination. The handler would fail the test if its OnChallenge is
	// invoked, proving the stored credential answered the
	// reauthentication challenge transparently.
	clientRaw2, serverRaw2 := newMemPair()
	client2 := New(Config{Local: version.New(0, 1, 0), Keychain: clientKeychain})
	require.NoError(t, client2.RegisterConnectHandler("mem", func(context.Context, string, map[string]string) (rawio.Raw, error) {
		return clientRaw2, nil
	}))

	// A fresh server Manager sharing the same keychain but advertising no
	// method except the auto-wired "reauthentication": this rules out the
	// credential being bypassed by a trivially-succeeding "none" method
	// still being first in the negotiated order.
	server2 := New(Config{Local: version.New(0, 1, 0), Keychain: serverKeychain})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, serverErr = server2.Accept(ctx, serverRaw2)
	}()

	_, err = client2.Connect(ctx, Connect{Destination: destination}, refusingHandler{t: t})
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, serverErr)
}

// dialIPC drives the low-level handshake/auth/version steps a distant
// CLI would go through to become a plain runtime.Client of a Manager's
// local IPC listener, without going through Manager.Connect (which would
// also register a connection entry we don't want here).
func dialIPC(t *testing.T, ctx context.Context, raw rawio.Raw) *runtime.Client {
	t.Helper()
	tr, err := transport.New(ctx, raw, handshake.RoleClient, handshake.Prefs{})
	require.NoError(t, err)
	require.NoError(t, auth.ClientAuthenticate(ctx, tr, auth.DummyHandler{}))
	c, err := conn.New(ctx, tr, version.New(0, 1, 0))
	require.NoError(t, err)
	return runtime.NewClient(c)
}

func TestKindConnectDialsAndRegistersUpstreamConnection(t *testing.T) {
	ctx := context.Background()

	hub := New(Config{
		Local:         version.New(0, 1, 0),
		AuthMethods:   map[string]auth.Method{auth.None: auth.NoneMethod{}},
		AuthAvailable: []string{auth.None},
	})
	require.NoError(t, hub.RegisterConnectHandler("mem-upstream", func(context.Context, string, map[string]string) (rawio.Raw, error) {
		hubSide, upstreamSide := newMemPair()
		go func() {
			_, _ = hub.Accept(ctx, upstreamSide)
		}()
		return hubSide, nil
	}))

	ipcClientRaw, ipcServerRaw := newMemPair()
	var wg sync.WaitGroup
	wg.Add(1)
	var hubErr error
	go func() {
		defer wg.Done()
		_, hubErr = hub.Accept(ctx, ipcServerRaw)
	}()

	ipcClient := dialIPC(t, ctx, ipcClientRaw)
	wg.Wait()
	require.NoError(t, hubErr)

	connectPayload, err := encodeEnvelope(kindConnect, Connect{Destination: "mem-upstream://anything"})
	require.NoError(t, err)
	respCh, err := ipcClient.Send(ctx, conn.Request{ID: "req1", Payload: connectPayload})
	require.NoError(t, err)

	select {
	case resp := <-respCh:
		env, err := decodeEnvelope(resp.Payload)
		require.NoError(t, err)
		require.Equal(t, kindConnected, env.Kind)
		var connected Connected
		require.NoError(t, cbor.Unmarshal(env.Payload, &connected))
		require.NotEmpty(t, connected.ID)

		info, err := hub.Info(connected.ID)
		require.NoError(t, err)
		require.Equal(t, "mem-upstream://anything", info.Destination)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connected response")
	}
}

// TestForwardChannelProxiesToUpstreamAndRoutesResponse exercises the
// manager's channel-multiplexing middle box: a local IPC caller opens a
// channel against an upstream connection the manager dialed separately,
// sends a payload over it, and the manager must rewrite the request id,
// forward it to that upstream, and route the correlated response back to
// the original caller with its own origin_id restored.
func TestForwardChannelProxiesToUpstreamAndRoutesResponse(t *testing.T) {
	ctx := context.Background()

	hub := New(Config{
		Local:         version.New(0, 1, 0),
		AuthMethods:   map[string]auth.Method{auth.None: auth.NoneMethod{}},
		AuthAvailable: []string{auth.None},
	})

	upstreamClientRaw, upstreamServerRaw := newMemPair()
	require.NoError(t, hub.RegisterConnectHandler("echo", func(context.Context, string, map[string]string) (rawio.Raw, error) {
		return upstreamClientRaw, nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr, err := transport.New(ctx, upstreamServerRaw, handshake.RoleServer, handshake.Prefs{})
		require.NoError(t, err)
		require.NoError(t, auth.Authenticate(ctx, tr, []string{auth.None}, map[string]auth.Method{auth.None: auth.NoneMethod{}}))
		c, err := conn.New(ctx, tr, version.New(0, 1, 0))
		require.NoError(t, err)
		runtime.NewServer(c, func(ctx context.Context, req *conn.Request, reply *runtime.Reply) {
			_ = reply.Send(ctx, req.Payload) // echo, unwrapped by the envelope layer
		})
	}()

	upstream, err := hub.Connect(ctx, Connect{Destination: "echo://anything"}, auth.DummyHandler{})
	require.NoError(t, err)
	wg.Wait()

	ipcClientRaw, ipcServerRaw := newMemPair()
	wg.Add(1)
	var hubErr error
	go func() {
		defer wg.Done()
		_, hubErr = hub.Accept(ctx, ipcServerRaw)
	}()
	ipcClient := dialIPC(t, ctx, ipcClientRaw)
	wg.Wait()
	require.NoError(t, hubErr)

	openPayload, err := encodeEnvelope(kindOpenChannel, OpenChannel{ConnectionID: upstream.ID})
	require.NoError(t, err)
	respCh, err := ipcClient.Send(ctx, conn.Request{ID: "open1", Payload: openPayload})
	require.NoError(t, err)

	var channelID string
	select {
	case resp := <-respCh:
		env, err := decodeEnvelope(resp.Payload)
		require.NoError(t, err)
		require.Equal(t, kindChannelOpened, env.Kind)
		var opened ChannelOpened
		require.NoError(t, cbor.Unmarshal(env.Payload, &opened))
		channelID = opened.ChannelID
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel_opened")
	}
	require.NotEmpty(t, channelID)

	payload, err := cbor.Marshal("ping")
	require.NoError(t, err)
	channelPayload, err := encodeEnvelope(kindChannel, Channel{ConnectionID: upstream.ID, ChannelID: channelID, Payload: payload})
	require.NoError(t, err)
	respCh2, err := ipcClient.Send(ctx, conn.Request{ID: "chan1", Payload: channelPayload})
	require.NoError(t, err)

	select {
	case resp := <-respCh2:
		var got string
		require.NoError(t, cbor.Unmarshal(resp.Payload, &got))
		require.Equal(t, "ping", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for proxied channel response")
	}
}

// TestForwardChannelDropsLateResponseAfterClose proves testable property
// 15: once a channel is closed, a response that was already in flight for
// a request on that channel must be dropped rather than delivered.
func TestForwardChannelDropsLateResponseAfterClose(t *testing.T) {
	ctx := context.Background()

	hub := New(Config{
		Local:         version.New(0, 1, 0),
		AuthMethods:   map[string]auth.Method{auth.None: auth.NoneMethod{}},
		AuthAvailable: []string{auth.None},
	})

	upstreamClientRaw, upstreamServerRaw := newMemPair()
	require.NoError(t, hub.RegisterConnectHandler("slow-echo", func(context.Context, string, map[string]string) (rawio.Raw, error) {
		return upstreamClientRaw, nil
	}))

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr, err := transport.New(ctx, upstreamServerRaw, handshake.RoleServer, handshake.Prefs{})
		require.NoError(t, err)
		require.NoError(t, auth.Authenticate(ctx, tr, []string{auth.None}, map[string]auth.Method{auth.None: auth.NoneMethod{}}))
		c, err := conn.New(ctx, tr, version.New(0, 1, 0))
		require.NoError(t, err)
		runtime.NewServer(c, func(ctx context.Context, req *conn.Request, reply *runtime.Reply) {
			<-release // hold the response until the test closes the channel
			_ = reply.Send(ctx, req.Payload)
		})
	}()

	upstream, err := hub.Connect(ctx, Connect{Destination: "slow-echo://anything"}, auth.DummyHandler{})
	require.NoError(t, err)
	wg.Wait()

	ipcClientRaw, ipcServerRaw := newMemPair()
	wg.Add(1)
	var hubErr error
	go func() {
		defer wg.Done()
		_, hubErr = hub.Accept(ctx, ipcServerRaw)
	}()
	ipcClient := dialIPC(t, ctx, ipcClientRaw)
	wg.Wait()
	require.NoError(t, hubErr)

	openPayload, err := encodeEnvelope(kindOpenChannel, OpenChannel{ConnectionID: upstream.ID})
	require.NoError(t, err)
	respCh, err := ipcClient.Send(ctx, conn.Request{ID: "open1", Payload: openPayload})
	require.NoError(t, err)
	var channelID string
	select {
	case resp := <-respCh:
		env, err := decodeEnvelope(resp.Payload)
		require.NoError(t, err)
		var opened ChannelOpened
		require.NoError(t, cbor.Unmarshal(env.Payload, &opened))
		channelID = opened.ChannelID
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel_opened")
	}

	payload, err := cbor.Marshal("late")
	require.NoError(t, err)
	channelPayload, err := encodeEnvelope(kindChannel, Channel{ConnectionID: upstream.ID, ChannelID: channelID, Payload: payload})
	require.NoError(t, err)
	respCh2, err := ipcClient.Send(ctx, conn.Request{ID: "chan1", Payload: channelPayload})
	require.NoError(t, err)

	closePayload, err := encodeEnvelope(kindCloseChannel, CloseChannel{ConnectionID: upstream.ID, ChannelID: channelID})
	require.NoError(t, err)
	closeRespCh, err := ipcClient.Send(ctx, conn.Request{ID: "close1", Payload: closePayload})
	require.NoError(t, err)
	select {
	case <-closeRespCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel_closed")
	}

	close(release) // let the upstream finally answer the now-stale request

	select {
	case <-respCh2:
		t.Fatal("a response for a closed channel must be dropped, not delivered")
	case <-time.After(300 * time.Millisecond):
		// expected: no response delivered
	}
}
