package auth

import (
	"context"
	"crypto/subtle"

	"github.com/remoteops/distant/core/errs"
)

// Method is one concrete server-side authentication method: static_key,
// reauthentication, or none. Authenticate runs the
// method's own challenge/verification exchange (StartMethod has already
// been sent by the driver) and returns nil on success. A non-nil error
// with errs.KindOf == errs.InvalidData is treated as a fatal protocol
// violation; any other error is recoverable (the driver tries the next
// chosen method).
type Method interface {
	Name() string
	Authenticate(ctx context.Context, io FrameIO) error
}

// NoneMethod completes immediately without any exchange.
type NoneMethod struct{}

func (NoneMethod) Name() string                                   { return None }
func (NoneMethod) Authenticate(context.Context, FrameIO) error { return nil }

// StaticKeyMethod issues exactly one "key" challenge and compares the
// answer against secret in constant time. The same implementation backs
// both static_key and reauthentication; only the name and the secret's
// provenance differ.
type StaticKeyMethod struct {
	MethodName string
	Secret     []byte
}

func (m *StaticKeyMethod) Name() string { return m.MethodName }

func (m *StaticKeyMethod) Authenticate(ctx context.Context, io FrameIO) error {
	if err := sendMessage(ctx, io, Challenge{Questions: []Question{{Label: "key", Text: "shared secret key"}}}); err != nil {
		return err
	}
	msg, err := recvMessage(ctx, io)
	if err != nil {
		return err
	}
	resp, ok := msg.(*ChallengeResponse)
	if !ok {
		return errs.Newf(errs.InvalidData, "expected challenge_response, got %T", msg)
	}
	if len(resp.Answers) != 1 {
		return errs.New(errs.InvalidData, "challenge_response must carry exactly one answer")
	}
	answer := resp.Answers[0]
	if answer == "" {
		return errs.New(errs.InvalidInput, "missing answer")
	}
	if subtle.ConstantTimeCompare([]byte(answer), m.Secret) != 1 {
		return errs.New(errs.PermissionDenied, "answer does not match key")
	}
	return nil
}

// CredentialStore backs ReauthenticationMethod: it holds credentials
// issued on a prior successful authentication and consumes one on
// presentation, so each reauthentication key is usable exactly once.
type CredentialStore interface {
	FindAndConsume(secret []byte) (id string, ok bool)
}

// ReauthenticationMethod issues the same single "key" challenge as
// StaticKeyMethod, but checks the answer against any credential current
// held in Store rather than one fixed secret, and consumes the matching
// entry on success.
type ReauthenticationMethod struct {
	Store CredentialStore
}

func (ReauthenticationMethod) Name() string { return Reauthentication }

func (m ReauthenticationMethod) Authenticate(ctx context.Context, io FrameIO) error {
	if err := sendMessage(ctx, io, Challenge{Questions: []Question{{Label: "key", Text: "reauthentication key"}}}); err != nil {
		return err
	}
	msg, err := recvMessage(ctx, io)
	if err != nil {
		return err
	}
	resp, ok := msg.(*ChallengeResponse)
	if !ok {
		return errs.Newf(errs.InvalidData, "expected challenge_response, got %T", msg)
	}
	if len(resp.Answers) != 1 {
		return errs.New(errs.InvalidData, "challenge_response must carry exactly one answer")
	}
	answer := resp.Answers[0]
	if answer == "" {
		return errs.New(errs.InvalidInput, "missing answer")
	}
	if _, ok := m.Store.FindAndConsume([]byte(answer)); !ok {
		return errs.New(errs.PermissionDenied, "reauthentication key not recognized")
	}
	return nil
}

// Authenticate drives the server side of the authentication state machine
// over io: advertise available, negotiate chosen methods, run each in
// order, and report success with Finished.
func Authenticate(ctx context.Context, io FrameIO, available []string, methods map[string]Method) error {
	if err := sendMessage(ctx, io, Initialization{AvailableMethods: available}); err != nil {
		return err
	}
	msg, err := recvMessage(ctx, io)
	if err != nil {
		return err
	}
	initResp, ok := msg.(*InitializationResponse)
	if !ok {
		return errs.Newf(errs.InvalidData, "expected initialization_response, got %T", msg)
	}

	succeeded := false
	for _, name := range initResp.ChosenMethods {
		if err := sendMessage(ctx, io, StartMethod{Method: name}); err != nil {
			return err
		}

		impl, ok := methods[name]
		if !ok {
			_ = sendMessage(ctx, io, Error{Kind: ErrorFatal, Text: "unknown method " + name})
			return errs.Newf(errs.Unsupported, "no authenticator registered for method %q", name)
		}

		if err := impl.Authenticate(ctx, io); err != nil {
			if errs.KindOf(err) == errs.InvalidData {
				_ = sendMessage(ctx, io, Error{Kind: ErrorFatal, Text: err.Error()})
				return err
			}
			if sendErr := sendMessage(ctx, io, Error{Kind: ErrorRecoverable, Text: err.Error()}); sendErr != nil {
				return sendErr
			}
			continue
		}
		succeeded = true
		break
	}

	if !succeeded {
		_ = sendMessage(ctx, io, Error{Kind: ErrorFatal, Text: "no authentication method succeeded"})
		return errs.New(errs.PermissionDenied, "authentication failed: no method succeeded")
	}
	return sendMessage(ctx, io, Finished{})
}
