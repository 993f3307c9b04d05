// Command distant-server accepts connections on every configured
// listener and registers them with a manager.Manager. It is the daemon
// side of the runtime: dialing out (distant-client) and any
// filesystem/process/search vocabulary on top of a channel are out of
// scope here.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/remoteops/distant/config"
	"github.com/remoteops/distant/core/auth"
	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/log"
	"github.com/remoteops/distant/core/manager"
	"github.com/remoteops/distant/core/metrics"
	"github.com/remoteops/distant/core/rawio"
	"github.com/remoteops/distant/core/version"
)

func main() {
	configPath := flag.String("config", os.Getenv("DISTANT_CONFIG"), "path to the runtime config file")
	metricsAddr := flag.String("metrics", "", "address to serve Prometheus metrics on (empty disables)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "distant-server: -config or DISTANT_CONFIG is required")
		os.Exit(1)
	}
	if err := config.Load(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "distant-server:", err)
		os.Exit(1)
	}
	cfg := config.Current

	if err := log.Init(log.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "distant-server: log init:", err)
		os.Exit(1)
	}
	logger := log.New("distant-server")

	if *metricsAddr != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Warningf("metrics: %v", err)
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	mgrCfg := manager.Config{
		Local:          version.New(0, 1, 0),
		Logger:         logger,
		AuthMethods:    make(map[string]auth.Method),
		AuthAvailable:  nil,
		ThrottleWindow: time.Duration(cfg.Manager.ThrottleWindowSec) * time.Second,
		ThrottleMax:    cfg.Manager.ThrottleMax,
	}
	for _, a := range cfg.Auth {
		switch a.Name {
		case "none":
			mgrCfg.AuthMethods[auth.None] = auth.NoneMethod{}
		case "static_key":
			mgrCfg.AuthMethods[auth.StaticKey] = &auth.StaticKeyMethod{MethodName: auth.StaticKey, Secret: []byte(a.StaticKey)}
		case "reauthentication":
			// wired automatically by manager.New when cfg.Keychain is set
			continue
		}
		mgrCfg.AuthAvailable = append(mgrCfg.AuthAvailable, a.Name)
	}
	if cfg.Manager.KeychainPath != "" {
		key, err := hex.DecodeString(cfg.Manager.KeychainKeyHex)
		if err != nil {
			logger.Fatalf("keychain key: %v", err)
		}
		kc, err := manager.OpenKeychain(cfg.Manager.KeychainPath, key)
		if err != nil {
			logger.Fatalf("keychain: %v", err)
		}
		mgrCfg.Keychain = kc
	}

	mgr := manager.New(mgrCfg)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Notice("shutting down")
		cancel()
		_ = mgr.Shutdown(context.Background())
	}()

	for _, l := range cfg.Listeners {
		if err := serveListener(ctx, mgr, l, logger); err != nil {
			logger.Fatalf("listener %q: %v", l.Name, err)
		}
	}

	<-ctx.Done()
}

// serveListener starts accepting connections on l in a background
// goroutine, handing each raw transport to mgr.Accept.
func serveListener(ctx context.Context, mgr *manager.Manager, l config.Listener, logger *logging.Logger) error {
	switch l.Transport {
	case "tcp":
		ln, err := net.Listen("tcp", l.Address)
		if err != nil {
			return err
		}
		go acceptLoop(ctx, mgr, ln, logger, l.Name, func(c net.Conn) rawio.Raw { return rawio.AcceptedTCP(c) })
		return nil
	case "unix":
		ln, err := rawio.ListenUnix(l.Address)
		if err != nil {
			return err
		}
		go acceptLoop(ctx, mgr, ln, logger, l.Name, func(c net.Conn) rawio.Raw { return rawio.AcceptedUnix(c) })
		return nil
	case "pipe":
		ln, err := rawio.ListenPipe(l.Address)
		if err != nil {
			return err
		}
		go acceptLoop(ctx, mgr, ln, logger, l.Name, func(c net.Conn) rawio.Raw { return rawio.AcceptedPipe(c) })
		return nil
	case "quic":
		go func() {
			err := rawio.ListenQUIC(ctx, l.Address, func(q *rawio.Quic) {
				acceptRaw(ctx, mgr, q, logger, l.Name)
			})
			if err != nil && ctx.Err() == nil {
				logger.Errorf("listener %q (quic): %v", l.Name, err)
			}
		}()
		return nil
	default:
		return errs.Newf(errs.InvalidInput, "unknown transport %q", l.Transport)
	}
}

func acceptLoop(ctx context.Context, mgr *manager.Manager, ln net.Listener, logger *logging.Logger, name string, wrap func(net.Conn) rawio.Raw) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("listener %q: accept: %v", name, err)
			continue
		}
		acceptRaw(ctx, mgr, wrap(conn), logger, name)
	}
}

func acceptRaw(ctx context.Context, mgr *manager.Manager, raw rawio.Raw, logger *logging.Logger, name string) {
	go func() {
		id, err := mgr.Accept(ctx, raw)
		if err != nil {
			logger.Warningf("listener %q: accept rejected: %v", name, err)
			return
		}
		logger.Infof("listener %q: connection %s accepted", name, id)
	}()
}
