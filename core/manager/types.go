// Package manager implements the connection registry, channel
// multiplexer, and connect dispatch (there is no launch-handler registry):
// the component that owns
// every Transport a process holds and exposes them to callers as a
// single Request/Response vocabulary.
package manager

import (
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Connect asks the manager to dial destination (e.g. "tcp://host:port",
// "unix:///path/to.sock", "quic://host:port") and register the resulting
// connection.
type Connect struct {
	Destination string            `cbor:"destination"`
	Options     map[string]string `cbor:"options,omitempty"`
}

// Connected answers Connect with the new connection's id.
type Connected struct {
	ID string `cbor:"id"`
}

// OpenChannel asks for a new multiplexed channel over an existing
// connection.
type OpenChannel struct {
	ConnectionID string `cbor:"connection_id"`
}

// ChannelOpened answers OpenChannel with the new channel's id, unique
// within its connection.
type ChannelOpened struct {
	ChannelID string `cbor:"channel_id"`
}

// Channel carries one opaque payload over an already-open channel. Both
// directions use the same shape; the manager never interprets Payload.
type Channel struct {
	ConnectionID string          `cbor:"connection_id"`
	ChannelID    string          `cbor:"channel_id"`
	Payload      cbor.RawMessage `cbor:"payload"`
}

// CloseChannel retires one channel. The manager acknowledges with
// ChannelClosed and the composite id becomes eligible for dedup tracking
// so a late-arriving frame for it is dropped rather than misrouted to a
// reused id.
type CloseChannel struct {
	ConnectionID string `cbor:"connection_id"`
	ChannelID    string `cbor:"channel_id"`
}

type ChannelClosed struct {
	ConnectionID string `cbor:"connection_id"`
	ChannelID    string `cbor:"channel_id"`
}

// Kill tears down an entire connection and every channel on it.
type Kill struct {
	ConnectionID string `cbor:"connection_id"`
}

type Killed struct {
	ConnectionID string `cbor:"connection_id"`
}

// Info asks for a snapshot of one connection.
type Info struct {
	ConnectionID string `cbor:"connection_id"`
}

type ConnectionInfo struct {
	ID          string   `cbor:"id"`
	Destination string   `cbor:"destination"`
	ChannelIDs  []string `cbor:"channel_ids"`
}

// List asks for a snapshot of every registered connection, in a
// deterministic order (ascending by id).
type List struct{}

type ConnectionList struct {
	Connections []ConnectionInfo `cbor:"connections"`
}

// Shutdown asks the manager to kill every connection and stop.
type Shutdown struct{}

// Authenticate is pushed by the manager to the client that owns
// ConnectionID whenever that connection's auth driver needs an answer
// it cannot supply itself: e.g. a reauthentication credential it holds
// is rejected and a fresh interactive round is needed. Msg carries one
// auth.* message, opaque to the conduit.
type Authenticate struct {
	ID           string          `cbor:"id"`
	ConnectionID string          `cbor:"connection_id"`
	Msg          cbor.RawMessage `cbor:"msg"`
}

// AuthenticateResponse answers a prior Authenticate push, correlated by
// ID.
type AuthenticateResponse struct {
	ID  string          `cbor:"id"`
	Msg cbor.RawMessage `cbor:"msg"`
}

// reauthCredential is the Authenticate push payload the manager uses to
// hand a freshly issued, single-use reauthentication key to the client
// that just finished authenticating, so a later reconnect can present it
// instead of prompting interactively.
type reauthCredential struct {
	ID     string `cbor:"id"`
	Secret []byte `cbor:"secret"`
}

// compositeChannelID joins a connection id and channel id into a single
// dedup-cache key, since channels are scoped per connection and a closed
// channel id can in principle be reused by a later OpenChannel on a
// different connection.
func compositeChannelID(connectionID, channelID string) string {
	return connectionID + "_" + channelID
}

// channelRequestID rewrites a locally-issued request id into the id the
// manager actually sends upstream when forwarding a Channel payload:
// "{channel_id}_{request_id}". Embedding the channel id lets the manager
// recover, from the upstream Response.origin_id alone, which of
// potentially many channels multiplexed over that one upstream connection
// the response belongs to.
func channelRequestID(channelID, requestID string) string {
	return channelID + "_" + requestID
}

// splitFirstUnderscore reverses either compositeChannelID or
// channelRequestID: both join two hex ids (connection/channel/request ids
// never contain '_') with a single '_', so splitting on the first
// occurrence unambiguously recovers the two halves regardless of which
// composite scheme produced the string.
func splitFirstUnderscore(composite string) (first, second string, ok bool) {
	i := strings.IndexByte(composite, '_')
	if i < 0 {
		return "", "", false
	}
	return composite[:i], composite[i+1:], true
}
