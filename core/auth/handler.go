package auth

import (
	"context"

	"github.com/remoteops/distant/core/errs"
)

// Handler answers the authenticator's events from the client side.
// Implementations may prompt a user, consult a config file, or answer
// programmatically.
type Handler interface {
	OnInitialization(available []string) (chosen []string, err error)
	OnChallenge(questions []Question) (answers []string, err error)
	OnVerification(text string) (valid bool, err error)
	OnInfo(text string)
	OnError(kind, text string)
	OnStartMethod(method string)
}

// DummyHandler accepts everything: chooses every available method,
// answers every challenge question with an empty string, and approves
// every verification.
type DummyHandler struct{}

func (DummyHandler) OnInitialization(available []string) ([]string, error) {
	return available, nil
}

func (DummyHandler) OnChallenge(questions []Question) ([]string, error) {
	answers := make([]string, len(questions))
	return answers, nil
}

func (DummyHandler) OnVerification(string) (bool, error) { return true, nil }
func (DummyHandler) OnInfo(string)                       {}
func (DummyHandler) OnError(string, string)              {}
func (DummyHandler) OnStartMethod(string)                {}

// StaticKeyHandler answers only "key"-labeled challenge questions with a
// fixed secret, rejecting any other label, and forwards every other
// event to Inner.
type StaticKeyHandler struct {
	Secret []byte
	Inner  Handler
}

func (h *StaticKeyHandler) OnInitialization(available []string) ([]string, error) {
	return h.Inner.OnInitialization(available)
}

func (h *StaticKeyHandler) OnChallenge(questions []Question) ([]string, error) {
	answers := make([]string, len(questions))
	for i, q := range questions {
		if q.Label != "key" {
			return nil, errs.Newf(errs.InvalidInput, "static key handler cannot answer question labeled %q", q.Label)
		}
		answers[i] = string(h.Secret)
	}
	return answers, nil
}

func (h *StaticKeyHandler) OnVerification(text string) (bool, error) {
	return h.Inner.OnVerification(text)
}
func (h *StaticKeyHandler) OnInfo(text string)        { h.Inner.OnInfo(text) }
func (h *StaticKeyHandler) OnError(kind, text string) { h.Inner.OnError(kind, text) }
func (h *StaticKeyHandler) OnStartMethod(method string) {
	h.Inner.OnStartMethod(method)
}

// ClientAuthenticate drives the client side of the authentication state
// machine over io, delegating every decision to handler. Returns nil once
// Finished arrives.
func ClientAuthenticate(ctx context.Context, io FrameIO, handler Handler) error {
	msg, err := recvMessage(ctx, io)
	if err != nil {
		return err
	}
	init, ok := msg.(*Initialization)
	if !ok {
		return errs.Newf(errs.InvalidData, "expected initialization, got %T", msg)
	}
	chosen, err := handler.OnInitialization(init.AvailableMethods)
	if err != nil {
		return err
	}
	if err := sendMessage(ctx, io, InitializationResponse{ChosenMethods: chosen}); err != nil {
		return err
	}

	for {
		msg, err := recvMessage(ctx, io)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *StartMethod:
			handler.OnStartMethod(m.Method)
		case *Challenge:
			answers, err := handler.OnChallenge(m.Questions)
			if err != nil {
				return err
			}
			if err := sendMessage(ctx, io, ChallengeResponse{Answers: answers}); err != nil {
				return err
			}
		case *Verification:
			valid, err := handler.OnVerification(m.Text)
			if err != nil {
				return err
			}
			if err := sendMessage(ctx, io, VerificationResponse{Valid: valid}); err != nil {
				return err
			}
		case *Info:
			handler.OnInfo(m.Text)
		case *Error:
			handler.OnError(m.Kind, m.Text)
			if m.Kind == ErrorFatal {
				return errs.New(errs.PermissionDenied, "authentication failed: "+m.Text)
			}
			// Recoverable: the authenticator is about to try the next
			// chosen method or, when none is left, follows up with a
			// final fatal Error.
		case *Finished:
			return nil
		default:
			return errs.Newf(errs.InvalidData, "unexpected auth message %T", msg)
		}
	}
}
