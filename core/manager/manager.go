package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/remoteops/distant/core/auth"
	"github.com/remoteops/distant/core/conn"
	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/handshake"
	"github.com/remoteops/distant/core/rawio"
	"github.com/remoteops/distant/core/runtime"
	"github.com/remoteops/distant/core/transport"
	"github.com/remoteops/distant/core/version"
)

// ConnectHandler dials destination (with the scheme prefix already
// stripped) and returns a raw transport for Connect to build on. One is
// registered per scheme ("tcp", "unix", "quic", ...).
type ConnectHandler func(ctx context.Context, destination string, options map[string]string) (rawio.Raw, error)

// envelope tags one Request/Response payload with its manager message
// kind, the same pattern core/auth and core/conn use for dispatch.
type envelope struct {
	Kind    string          `cbor:"kind"`
	Payload cbor.RawMessage `cbor:"payload"`
}

const (
	kindConnect               = "connect"
	kindConnected             = "connected"
	kindOpenChannel           = "open_channel"
	kindChannelOpened         = "channel_opened"
	kindChannel               = "channel"
	kindCloseChannel          = "close_channel"
	kindChannelClosed         = "channel_closed"
	kindKill                  = "kill"
	kindKilled                = "killed"
	kindInfo                  = "info"
	kindConnectionInfo        = "connection_info"
	kindList                  = "list"
	kindConnectionList        = "connection_list"
	kindShutdown              = "shutdown"
	kindAuthenticate          = "authenticate"
	kindAuthenticateResponse  = "authenticate_response"
)

func encodeEnvelope(kind string, msg interface{}) (cbor.RawMessage, error) {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return nil, errs.Wrap(errs.Other, "manager: encode payload failed", err)
	}
	b, err := cbor.Marshal(envelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, errs.Wrap(errs.Other, "manager: encode envelope failed", err)
	}
	return b, nil
}

func decodeEnvelope(b []byte) (envelope, error) {
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return envelope{}, errs.Wrap(errs.InvalidData, "manager: decode envelope failed", err)
	}
	return env, nil
}

// connection is everything the manager tracks about one registered
// Connect/Accept result.
type connection struct {
	id          string
	destination string

	t    *transport.Transport
	c    *conn.Connection
	rtC  *runtime.Client // set for manager-initiated (Connect) connections
	rtS  *runtime.Server // set for peer-initiated (Accept) connections

	channels *registry // channel id -> chan []byte (inbound Channel payloads)
}

// Manager owns every registered connection and channel, dispatches the
// Request/Response vocabulary, and fans out server-initiated
// Authenticate pushes to the client that can answer them.
type Manager struct {
	local version.Version
	log   *logging.Logger

	connections *registry // connection id -> *connection

	handlersMu sync.Mutex
	handlers   map[string]ConnectHandler

	authMethods map[string]auth.Method
	authAvail   []string

	keychain *Keychain
	throttle *throttle
	stale    *staleChannels
	plugins  *plugins

	pendingAuthMu sync.Mutex
	pendingAuth   map[string]chan *AuthenticateResponse
}

// Config bundles Manager's construction-time dependencies.
type Config struct {
	Local             version.Version
	Logger            *logging.Logger
	Keychain          *Keychain
	ThrottleWindow    time.Duration
	ThrottleMax       int
	StaleChannelTTL   time.Duration
	AuthMethods       map[string]auth.Method
	AuthAvailable     []string
}

// New constructs an idle Manager. Register connect handlers and plugins
// before calling Connect/Accept. If cfg.Keychain is set, the manager
// accepts "reauthentication" automatically (server side) and, when the
// keychain holds a credential for the destination, answers every
// challenge on Connect with that stored secret while the caller's handler
// still receives the other prompts (client side); callers do not need to list
// auth.Reauthentication in AuthMethods/AuthAvailable themselves.
func New(cfg Config) *Manager {
	if cfg.StaleChannelTTL <= 0 {
		cfg.StaleChannelTTL = 5 * time.Minute
	}
	authMethods := make(map[string]auth.Method, len(cfg.AuthMethods)+1)
	for k, v := range cfg.AuthMethods {
		authMethods[k] = v
	}
	authAvail := append([]string(nil), cfg.AuthAvailable...)
	if cfg.Keychain != nil {
		if _, ok := authMethods[auth.Reauthentication]; !ok {
			authMethods[auth.Reauthentication] = auth.ReauthenticationMethod{Store: cfg.Keychain}
			authAvail = append(authAvail, auth.Reauthentication)
		}
	}
	return &Manager{
		local:       cfg.Local,
		log:         cfg.Logger,
		connections: newRegistry(),
		handlers:    make(map[string]ConnectHandler),
		authMethods: authMethods,
		authAvail:   authAvail,
		keychain:    cfg.Keychain,
		throttle:    newThrottle(cfg.ThrottleWindow, cfg.ThrottleMax),
		stale:       newStaleChannels(cfg.StaleChannelTTL),
		plugins:     newPlugins(),
		pendingAuth: make(map[string]chan *AuthenticateResponse),
	}
}

// RegisterConnectHandler wires scheme (e.g. "tcp") to h. Re-registering an
// already-registered scheme fails: schemes are a flat, case-sensitive
// namespace a plugin cannot silently shadow.
func (m *Manager) RegisterConnectHandler(scheme string, h ConnectHandler) error {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	if _, exists := m.handlers[scheme]; exists {
		return errs.Newf(errs.InvalidInput, "connect handler already registered for scheme %q", scheme)
	}
	m.handlers[scheme] = h
	return nil
}

// LoadPlugin runs plugin.OnLoad(m), typically to register extra connect
// handlers.
func (m *Manager) LoadPlugin(plugin Plugin) error {
	return m.plugins.Load(m, plugin)
}

// UnloadPlugins tears down every loaded plugin in reverse load order.
func (m *Manager) UnloadPlugins() {
	m.plugins.UnloadAll(m)
}

func splitScheme(destination string) (scheme, rest string, err error) {
	i := strings.Index(destination, "://")
	if i < 0 {
		return "", "", errs.Newf(errs.InvalidInput, "destination %q has no scheme", destination)
	}
	return destination[:i], destination[i+len("://"):], nil
}

// Connect dials destination, runs the client side of the handshake,
// authentication, and version check, and registers the resulting
// connection. handler answers the authentication driver's prompts; pass
// auth.DummyHandler{} for unattended "none"-only destinations.
func (m *Manager) Connect(ctx context.Context, req Connect, handler auth.Handler) (Connected, error) {
	scheme, rest, err := splitScheme(req.Destination)
	if err != nil {
		return Connected{}, err
	}
	if err := m.throttle.Allow(scheme); err != nil {
		return Connected{}, err
	}

	m.handlersMu.Lock()
	dial, ok := m.handlers[scheme]
	m.handlersMu.Unlock()
	if !ok {
		return Connected{}, errs.Newf(errs.Unsupported, "no connect handler registered for scheme %q", scheme)
	}

	raw, err := dial(ctx, rest, req.Options)
	if err != nil {
		return Connected{}, err
	}

	t, err := transport.New(ctx, raw, handshake.RoleClient, handshake.Prefs{})
	if err != nil {
		return Connected{}, err
	}

	effectiveHandler := handler
	if m.keychain != nil {
		if stored, ok := m.keychain.Get(req.Destination); ok {
			var cred reauthCredential
			if err := cbor.Unmarshal(stored, &cred); err == nil && len(cred.Secret) > 0 {
				effectiveHandler = &auth.StaticKeyHandler{Secret: cred.Secret, Inner: handler}
			}
		}
	}
	if err := auth.ClientAuthenticate(ctx, t, effectiveHandler); err != nil {
		_ = t.Close()
		return Connected{}, err
	}
	c, err := conn.New(ctx, t, m.local)
	if err != nil {
		return Connected{}, err
	}

	id := randomID()
	entry := &connection{
		id:          id,
		destination: req.Destination,
		t:           t,
		c:           c,
		rtC:         runtime.NewClient(c),
		channels:    newRegistry(),
	}
	m.connections.Put(id, entry)
	if m.keychain != nil {
		go m.watchReauthPush(entry)
	}
	return Connected{ID: id}, nil
}

// watchReauthPush drains entry.rtC's unsolicited stream for Authenticate
// pushes carrying a freshly issued reauthentication credential, stores it
// under the connection's destination, and answers the push in the two
// steps PushAuthenticate expects: a transport-level Response to unblock
// the server's entry.rtS.Send, followed by a separate fire-and-forget
// AuthenticateResponse Request that the server's dispatch correlates by
// push.ID and delivers on PushAuthenticate's reply channel. A bare
// Response here would never reach dispatch, which only ever sees inbound
// Requests.
func (m *Manager) watchReauthPush(entry *connection) {
	for v := range entry.rtC.Unsolicited() {
		req, ok := v.(*conn.Request)
		if !ok {
			continue
		}
		env, err := decodeEnvelope(req.Payload)
		if err != nil || env.Kind != kindAuthenticate {
			continue
		}
		var push Authenticate
		if err := cbor.Unmarshal(env.Payload, &push); err != nil {
			continue
		}
		var cred reauthCredential
		if err := cbor.Unmarshal(push.Msg, &cred); err == nil && len(cred.Secret) > 0 {
			m.keychain.Put(entry.destination, push.Msg)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = entry.c.SendResponse(ctx, conn.Response{ID: randomID(), OriginID: req.ID})
		if ackPayload, err := encodeEnvelope(kindAuthenticateResponse, AuthenticateResponse{ID: push.ID}); err == nil {
			_ = entry.sendFireAndForget(ctx, conn.Request{ID: randomID(), Payload: ackPayload})
		}
		cancel()
	}
}

// Accept runs the server side of the handshake, authentication, and
// version check over raw, and registers the resulting connection,
// dispatching its inbound Requests through m. The manager's configured
// auth methods and availability list drive authentication.
func (m *Manager) Accept(ctx context.Context, raw rawio.Raw) (string, error) {
	t, err := transport.New(ctx, raw, handshake.RoleServer, handshake.Prefs{})
	if err != nil {
		return "", err
	}
	if err := auth.Authenticate(ctx, t, m.authAvail, m.authMethods); err != nil {
		_ = t.Close()
		return "", err
	}
	c, err := conn.New(ctx, t, m.local)
	if err != nil {
		return "", err
	}

	id := randomID()
	entry := &connection{
		id:       id,
		t:        t,
		c:        c,
		channels: newRegistry(),
	}
	entry.rtS = runtime.NewServer(c, func(ctx context.Context, r *conn.Request, reply *runtime.Reply) {
		m.dispatch(ctx, entry, r, reply)
	})
	m.connections.Put(id, entry)
	if m.keychain != nil {
		go m.issueReauthCredential(entry)
	}
	return id, nil
}

// issueReauthCredential hands the newly connected client a single-use
// reauthentication credential via an Authenticate push, so a later
// reconnect from the same destination can skip interactive authentication.
// The credential is rolled back if the push is never acknowledged (the
// client disconnected, or does not understand the push).
func (m *Manager) issueReauthCredential(entry *connection) {
	id, secret := m.keychain.NewCredential()
	msg, err := cbor.Marshal(reauthCredential{ID: id, Secret: secret})
	if err != nil {
		m.keychain.Delete(id)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.PushAuthenticate(ctx, entry.id, msg); err != nil {
		m.keychain.Delete(id)
	}
}

func (m *Manager) dispatch(ctx context.Context, entry *connection, req *conn.Request, reply *runtime.Reply) {
	env, err := decodeEnvelope(req.Payload)
	if err != nil {
		return
	}
	switch env.Kind {
	case kindConnect:
		var cr Connect
		if err := cbor.Unmarshal(env.Payload, &cr); err != nil {
			return
		}
		connected, err := m.Connect(ctx, cr, auth.DummyHandler{})
		if err != nil {
			return
		}
		b, _ := encodeEnvelope(kindConnected, connected)
		_ = reply.Send(ctx, b)
	case kindOpenChannel:
		var oc OpenChannel
		if err := cbor.Unmarshal(env.Payload, &oc); err != nil {
			return
		}
		if !m.channelTargetExists(entry, oc.ConnectionID) {
			return
		}
		channelID := randomID()
		ch := make(chan []byte, 64)
		entry.channels.Put(channelID, ch)
		b, _ := encodeEnvelope(kindChannelOpened, ChannelOpened{ChannelID: channelID})
		_ = reply.Send(ctx, b)
	case kindChannel:
		var cm Channel
		if err := cbor.Unmarshal(env.Payload, &cm); err != nil {
			return
		}
		if target, ok := m.proxyTarget(entry, cm.ConnectionID); ok {
			m.forwardChannel(ctx, req, target, cm, reply)
			return
		}
		composite := compositeChannelID(entry.id, cm.ChannelID)
		if m.stale.isStale(composite) {
			return
		}
		if v, ok := entry.channels.Get(cm.ChannelID); ok {
			ch := v.(chan []byte)
			select {
			case ch <- []byte(cm.Payload):
			default:
			}
		}
	case kindCloseChannel:
		var cc CloseChannel
		if err := cbor.Unmarshal(env.Payload, &cc); err != nil {
			return
		}
		entry.channels.Delete(cc.ChannelID)
		target := entry.id
		if t, ok := m.proxyTarget(entry, cc.ConnectionID); ok {
			target = t.id
		}
		m.stale.mark(compositeChannelID(target, cc.ChannelID))
		b, _ := encodeEnvelope(kindChannelClosed, ChannelClosed{ConnectionID: cc.ConnectionID, ChannelID: cc.ChannelID})
		_ = reply.Send(ctx, b)
	case kindInfo:
		b, _ := encodeEnvelope(kindConnectionInfo, m.infoOf(entry))
		_ = reply.Send(ctx, b)
	case kindList:
		b, _ := encodeEnvelope(kindConnectionList, m.List())
		_ = reply.Send(ctx, b)
	case kindKill:
		_ = m.Kill(entry.id)
		b, _ := encodeEnvelope(kindKilled, Killed{ConnectionID: entry.id})
		_ = reply.Send(ctx, b)
	case kindShutdown:
		_ = m.Shutdown(ctx)
	case kindAuthenticateResponse:
		var ar AuthenticateResponse
		if err := cbor.Unmarshal(env.Payload, &ar); err != nil {
			return
		}
		m.pendingAuthMu.Lock()
		ch, ok := m.pendingAuth[ar.ID]
		if ok {
			delete(m.pendingAuth, ar.ID)
		}
		m.pendingAuthMu.Unlock()
		if ok {
			ch <- &ar
		}
	}
}

// channelTargetExists reports whether connectionID is a valid channel
// target as seen from entry: either empty/entry itself (a direct channel,
// multiplexed locally over the connection the request arrived on) or some
// other connection id the manager currently has registered (a proxy
// target the manager dialed separately, e.g. via Connect/kindConnect).
func (m *Manager) channelTargetExists(entry *connection, connectionID string) bool {
	if connectionID == "" || connectionID == entry.id {
		return true
	}
	_, ok := m.connections.Get(connectionID)
	return ok
}

// proxyTarget resolves connectionID to a registered connection distinct
// from entry, returning ok=false when the channel is a direct one
// (connectionID empty, equal to entry.id, or unresolved).
func (m *Manager) proxyTarget(entry *connection, connectionID string) (*connection, bool) {
	if connectionID == "" || connectionID == entry.id {
		return nil, false
	}
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return nil, false
	}
	return v.(*connection), true
}

// forwardChannel is the manager's channel-multiplexing middle box: it
// rewrites req's id to "{channel_id}_{request_id}", forwards cm's payload
// as a fresh Request to upstream, waits for upstream's matching Response,
// and replies to the local caller that sent cm with the recovered
// payload. reply already carries req's id as its origin_id, so a
// successful reply.Send restores it without further bookkeeping; the
// explicit split below exists to confirm the response actually belongs to
// this channel and to drop it if the channel was closed while the
// upstream round trip was in flight.
func (m *Manager) forwardChannel(ctx context.Context, req *conn.Request, upstream *connection, cm Channel, reply *runtime.Reply) {
	dedupKey := compositeChannelID(upstream.id, cm.ChannelID)
	if m.stale.isStale(dedupKey) {
		return
	}

	composite := channelRequestID(cm.ChannelID, req.ID)
	respCh, err := upstream.send(ctx, conn.Request{ID: composite, Payload: []byte(cm.Payload)})
	if err != nil {
		return
	}
	select {
	case resp := <-respCh:
		channelID, _, ok := splitFirstUnderscore(resp.OriginID)
		if !ok || channelID != cm.ChannelID {
			return
		}
		if m.stale.isStale(dedupKey) {
			return
		}
		_ = reply.Send(ctx, []byte(resp.Payload))
	case <-ctx.Done():
	}
}

// PushAuthenticate sends an Authenticate prompt to the client that owns
// connectionID's server-side runtime and waits for its
// AuthenticateResponse, for a reauthentication driver above m that
// discovers mid-flight it needs a fresh answer.
func (m *Manager) PushAuthenticate(ctx context.Context, connectionID string, msg cbor.RawMessage) (*AuthenticateResponse, error) {
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return nil, errs.Newf(errs.NotConnected, "no such connection %q", connectionID)
	}
	entry := v.(*connection)
	if entry.rtS == nil {
		return nil, errs.New(errs.Unsupported, "PushAuthenticate requires a peer-initiated (Accept) connection")
	}

	id := randomID()
	replyCh := make(chan *AuthenticateResponse, 1)
	m.pendingAuthMu.Lock()
	m.pendingAuth[id] = replyCh
	m.pendingAuthMu.Unlock()

	b, err := encodeEnvelope(kindAuthenticate, Authenticate{ID: id, ConnectionID: connectionID, Msg: msg})
	if err != nil {
		return nil, err
	}
	respCh, err := entry.rtS.Send(ctx, conn.Request{ID: randomID(), Payload: b})
	if err != nil {
		return nil, err
	}
	select {
	case <-respCh:
		// The ack is just the transport Response to our push Request;
		// the actual answer arrives separately as an AuthenticateResponse
		// dispatched through m.dispatch and delivered on replyCh.
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case ar := <-replyCh:
		return ar, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenChannel opens a new multiplexed channel over an already-registered
// connection, returning its id and a receive-only stream of inbound
// payloads.
func (m *Manager) OpenChannel(ctx context.Context, connectionID string) (string, <-chan []byte, error) {
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return "", nil, errs.Newf(errs.NotConnected, "no such connection %q", connectionID)
	}
	entry := v.(*connection)

	b, err := encodeEnvelope(kindOpenChannel, OpenChannel{ConnectionID: connectionID})
	if err != nil {
		return "", nil, err
	}
	respCh, err := entry.send(ctx, conn.Request{ID: randomID(), Payload: b})
	if err != nil {
		return "", nil, err
	}
	select {
	case resp := <-respCh:
		env, err := decodeEnvelope(resp.Payload)
		if err != nil {
			return "", nil, err
		}
		var opened ChannelOpened
		if err := cbor.Unmarshal(env.Payload, &opened); err != nil {
			return "", nil, errs.Wrap(errs.InvalidData, "manager: decode channel_opened failed", err)
		}
		ch := make(chan []byte, 64)
		entry.channels.Put(opened.ChannelID, ch)
		return opened.ChannelID, ch, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Channel returns the inbound payload stream for a channel already open
// on connectionID, whichever side opened it: the initiator gets it back
// from OpenChannel directly, the acceptor (whose dispatch handler
// allocated it on the peer's OpenChannel request) retrieves it here.
func (m *Manager) Channel(connectionID, channelID string) (<-chan []byte, error) {
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return nil, errs.Newf(errs.NotConnected, "no such connection %q", connectionID)
	}
	entry := v.(*connection)
	chv, ok := entry.channels.Get(channelID)
	if !ok {
		return nil, errs.Newf(errs.InvalidInput, "no such channel %q on connection %q", channelID, connectionID)
	}
	return chv.(chan []byte), nil
}

// SendChannel writes one payload onto an open channel.
func (m *Manager) SendChannel(ctx context.Context, connectionID, channelID string, payload []byte) error {
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return errs.Newf(errs.NotConnected, "no such connection %q", connectionID)
	}
	entry := v.(*connection)
	b, err := encodeEnvelope(kindChannel, Channel{ConnectionID: connectionID, ChannelID: channelID, Payload: payload})
	if err != nil {
		return err
	}
	return entry.sendFireAndForget(ctx, conn.Request{ID: randomID(), Payload: b})
}

// CloseChannel retires a channel on both the local registry and, by
// notifying the peer, theirs.
func (m *Manager) CloseChannel(ctx context.Context, connectionID, channelID string) error {
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return errs.Newf(errs.NotConnected, "no such connection %q", connectionID)
	}
	entry := v.(*connection)
	entry.channels.Delete(channelID)
	m.stale.mark(compositeChannelID(connectionID, channelID))

	b, err := encodeEnvelope(kindCloseChannel, CloseChannel{ConnectionID: connectionID, ChannelID: channelID})
	if err != nil {
		return err
	}
	return entry.sendFireAndForget(ctx, conn.Request{ID: randomID(), Payload: b})
}

// Kill tears down one connection and every channel registered on it.
func (m *Manager) Kill(connectionID string) error {
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return errs.Newf(errs.NotConnected, "no such connection %q", connectionID)
	}
	entry := v.(*connection)
	m.connections.Delete(connectionID)
	if entry.rtC != nil {
		_ = entry.rtC.Shutdown()
	}
	if entry.rtS != nil {
		_ = entry.rtS.Shutdown()
	}
	return nil
}

func (m *Manager) infoOf(entry *connection) ConnectionInfo {
	return ConnectionInfo{
		ID:          entry.id,
		Destination: entry.destination,
		ChannelIDs:  entry.channels.IDs(),
	}
}

// Info returns a snapshot of one registered connection.
func (m *Manager) Info(connectionID string) (ConnectionInfo, error) {
	v, ok := m.connections.Get(connectionID)
	if !ok {
		return ConnectionInfo{}, errs.Newf(errs.NotConnected, "no such connection %q", connectionID)
	}
	return m.infoOf(v.(*connection)), nil
}

// List returns a deterministic, ascending-by-id snapshot of every
// registered connection.
func (m *Manager) List() ConnectionList {
	out := ConnectionList{}
	m.connections.Each(func(id string, v interface{}) bool {
		out.Connections = append(out.Connections, m.infoOf(v.(*connection)))
		return true
	})
	return out
}

// Shutdown kills every registered connection and closes the keychain.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, id := range m.connections.IDs() {
		_ = m.Kill(id)
	}
	m.UnloadPlugins()
	if m.keychain != nil {
		return m.keychain.Close(ctx)
	}
	return nil
}

// send issues req over whichever runtime side entry has (client or
// server) and returns a channel for its Response.
func (c *connection) send(ctx context.Context, req conn.Request) (<-chan *conn.Response, error) {
	if c.rtC != nil {
		return c.rtC.Send(ctx, req)
	}
	if c.rtS != nil {
		return c.rtS.Send(ctx, req)
	}
	return nil, errs.New(errs.NotConnected, "connection has no runtime attached")
}

// sendFireAndForget issues req and discards its Response once it arrives,
// for messages where the caller doesn't need to wait.
func (c *connection) sendFireAndForget(ctx context.Context, req conn.Request) error {
	_, err := c.send(ctx, req)
	return err
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
