// Package auth implements the authentication state machine: method
// negotiation, challenge/verification/info/error messages, and the
// static_key/reauthentication/none methods.
package auth

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	"github.com/remoteops/distant/core/errs"
)

// Method name tags.
const (
	StaticKey        = "static_key"
	Reauthentication = "reauthentication"
	None             = "none"
	Unknown          = "unknown"
)

// Error kind tags carried on the wire Error message.
const (
	ErrorFatal       = "fatal"
	ErrorRecoverable = "error"
)

// Initialization announces the methods this side is willing to run, in
// its own preference order.
type Initialization struct {
	AvailableMethods []string `cbor:"available_methods"`
}

// InitializationResponse is the client's reply, choosing a subset of the
// announced methods in the order it wants them attempted.
type InitializationResponse struct {
	ChosenMethods []string `cbor:"chosen_methods"`
}

// StartMethod announces the method about to run.
type StartMethod struct {
	Method string `cbor:"method"`
}

// Question is one labeled prompt within a Challenge.
type Question struct {
	Label   string            `cbor:"label"`
	Text    string            `cbor:"text"`
	Options map[string]string `cbor:"options,omitempty"`
}

// Challenge asks one or more labeled questions.
type Challenge struct {
	Questions []Question `cbor:"questions"`
}

// ChallengeResponse answers a Challenge's questions in the same order.
type ChallengeResponse struct {
	Answers []string `cbor:"answers"`
}

// Verification asks the peer to approve something.
type Verification struct {
	Text string `cbor:"text"`
}

// VerificationResponse answers a Verification.
type VerificationResponse struct {
	Valid bool `cbor:"valid"`
}

// Info is one-way, best-effort; no response expected.
type Info struct {
	Text string `cbor:"text"`
}

// Error reports a method failure. Kind is ErrorFatal or ErrorRecoverable.
type Error struct {
	Kind string `cbor:"kind"`
	Text string `cbor:"text"`
}

// Finished signals overall authentication success.
type Finished struct{}

// tag identifies a message's concrete type on the wire, following the
// teacher's cborplugin convention of a small registry mapping a type to a
// wire identifier, but carried inline per envelope rather than via a
// package-level cbor.TagSet since every message here is decoded against a
// dynamically-chosen type rather than a single known destination.
const (
	tagInitialization = "initialization"
	tagInitResponse   = "initialization_response"
	tagStartMethod    = "start_method"
	tagChallenge      = "challenge"
	tagChallengeResp  = "challenge_response"
	tagVerification   = "verification"
	tagVerificationResp = "verification_response"
	tagInfo           = "info"
	tagError          = "error"
	tagFinished       = "finished"
)

// envelope wraps one message with its type tag so the receiving side can
// dispatch to the right concrete struct before decoding the payload.
type envelope struct {
	Type    string          `cbor:"type"`
	Payload cbor.RawMessage `cbor:"payload"`
}

// FrameIO is the minimal contract auth needs from the layer below: a
// ready framed transport exchanging opaque frame payloads. transport.Transport
// satisfies this directly.
type FrameIO interface {
	WriteFrame(ctx context.Context, b []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
}

func tagFor(msg interface{}) (string, error) {
	switch msg.(type) {
	case Initialization:
		return tagInitialization, nil
	case InitializationResponse:
		return tagInitResponse, nil
	case StartMethod:
		return tagStartMethod, nil
	case Challenge:
		return tagChallenge, nil
	case ChallengeResponse:
		return tagChallengeResp, nil
	case Verification:
		return tagVerification, nil
	case VerificationResponse:
		return tagVerificationResp, nil
	case Info:
		return tagInfo, nil
	case Error:
		return tagError, nil
	case Finished:
		return tagFinished, nil
	default:
		return "", errs.Newf(errs.Other, "unknown auth message type %T", msg)
	}
}

// sendMessage wraps msg in an envelope carrying its type tag and writes
// it as one frame.
func sendMessage(ctx context.Context, io FrameIO, msg interface{}) error {
	tag, err := tagFor(msg)
	if err != nil {
		return err
	}
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.Other, "encode auth message failed", err)
	}
	b, err := cbor.Marshal(envelope{Type: tag, Payload: payload})
	if err != nil {
		return errs.Wrap(errs.Other, "encode auth envelope failed", err)
	}
	return io.WriteFrame(ctx, b)
}

// recvMessage reads one frame and decodes it into its tagged concrete
// type. Returns errs.InvalidData if the frame doesn't carry a known tag,
// or errs.UnexpectedEOF if the transport is at clean EOF.
func recvMessage(ctx context.Context, io FrameIO) (interface{}, error) {
	b, err := io.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.New(errs.UnexpectedEOF, "connection closed during authentication")
	}
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return nil, errs.Wrap(errs.InvalidData, "decode auth envelope failed", err)
	}

	var out interface{}
	switch env.Type {
	case tagInitialization:
		var m Initialization
		out = &m
	case tagInitResponse:
		var m InitializationResponse
		out = &m
	case tagStartMethod:
		var m StartMethod
		out = &m
	case tagChallenge:
		var m Challenge
		out = &m
	case tagChallengeResp:
		var m ChallengeResponse
		out = &m
	case tagVerification:
		var m Verification
		out = &m
	case tagVerificationResp:
		var m VerificationResponse
		out = &m
	case tagInfo:
		var m Info
		out = &m
	case tagError:
		var m Error
		out = &m
	case tagFinished:
		var m Finished
		out = &m
	default:
		return nil, errs.Newf(errs.InvalidData, "unknown auth message tag %q", env.Type)
	}
	if err := cbor.Unmarshal(env.Payload, out); err != nil {
		return nil, errs.Wrap(errs.InvalidData, "decode auth message payload failed", err)
	}
	return out, nil
}
