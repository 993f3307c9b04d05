// Command distant-client dials a distant-server listener, opens one
// channel over the resulting connection, and pipes stdin to it while
// printing whatever comes back on stdout. It exists to exercise the
// manager/runtime/transport stack end to end; any filesystem/process/
// search vocabulary on top of the channel is out of scope.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/remoteops/distant/core/auth"
	"github.com/remoteops/distant/core/log"
	"github.com/remoteops/distant/core/manager"
	"github.com/remoteops/distant/core/version"
)

func main() {
	dest := flag.String("connect", "", `destination to dial, e.g. "tcp://host:port"`)
	authMethod := flag.String("auth", auth.None, "authentication method to offer: none or static_key")
	key := flag.String("key", "", "shared secret, required when -auth=static_key")
	logLevel := flag.String("log-level", "NOTICE", "log level")
	flag.Parse()

	if *dest == "" {
		fmt.Fprintln(os.Stderr, "distant-client: -connect is required")
		os.Exit(1)
	}

	if err := log.Init(log.Config{Level: *logLevel}); err != nil {
		fmt.Fprintln(os.Stderr, "distant-client: log init:", err)
		os.Exit(1)
	}
	logger := log.New("distant-client")

	mgr := manager.New(manager.Config{Local: version.New(0, 1, 0), Logger: logger})
	if err := manager.RegisterDefaultConnectHandlers(mgr); err != nil {
		logger.Fatalf("registering connect handlers: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	handler := chosenHandler(*authMethod, *key)
	connected, err := mgr.Connect(ctx, manager.Connect{Destination: *dest}, handler)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	logger.Infof("connected: %s", connected.ID)

	channelID, stream, err := mgr.OpenChannel(ctx, connected.ID)
	if err != nil {
		logger.Fatalf("open channel: %v", err)
	}
	logger.Infof("channel opened: %s", channelID)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := mgr.SendChannel(ctx, connected.ID, channelID, scanner.Bytes()); err != nil {
				logger.Errorf("send: %v", err)
				return
			}
		}
		cancel()
	}()

	for {
		select {
		case payload, ok := <-stream:
			if !ok {
				return
			}
			fmt.Println(string(payload))
		case <-ctx.Done():
			_ = mgr.CloseChannel(context.Background(), connected.ID, channelID)
			_ = mgr.Kill(connected.ID)
			return
		}
	}
}

// chosenHandler builds the auth.Handler the method flag calls for.
// "none" needs no answers; "static_key" answers every "key"-labeled
// challenge with key and nothing else, so a misconfigured server that
// asks for something unexpected fails loudly instead of silently.
func chosenHandler(method, key string) auth.Handler {
	switch method {
	case auth.StaticKey:
		return &auth.StaticKeyHandler{Secret: []byte(key), Inner: auth.DummyHandler{}}
	default:
		return auth.DummyHandler{}
	}
}
