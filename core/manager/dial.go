package manager

import (
	"context"

	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/rawio"
)

// RegisterDefaultConnectHandlers wires the built-in raw transports under
// their conventional scheme names. Callers that want a subset, or
// additional schemes from a plugin, register individually via
// RegisterConnectHandler instead.
func RegisterDefaultConnectHandlers(m *Manager) error {
	handlers := map[string]ConnectHandler{
		"tcp": func(ctx context.Context, dest string, _ map[string]string) (rawio.Raw, error) {
			return rawio.DialTCP(ctx, dest)
		},
		"unix": func(ctx context.Context, dest string, _ map[string]string) (rawio.Raw, error) {
			return rawio.DialUnix(ctx, dest)
		},
		"quic": func(ctx context.Context, dest string, _ map[string]string) (rawio.Raw, error) {
			return rawio.DialQUIC(ctx, dest)
		},
	}
	for scheme, h := range handlers {
		if err := m.RegisterConnectHandler(scheme, h); err != nil {
			return errs.Wrap(errs.Other, "manager: registering default connect handlers failed", err)
		}
	}
	return nil
}
