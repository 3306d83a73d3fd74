package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"signaldesk/internal/api"
	"signaldesk/internal/config"
	"signaldesk/internal/events"
	"signaldesk/internal/logging"
	"signaldesk/internal/session"
)

const usage = `usage: signalctl [-config path] [-ephemeral] <command> [flags]

commands:
  login      sign in and store the session
  logout     forget the stored session
  register   create an account
  status     show the stored session
  profile    show the signed-in user
  subscribe  show or change the subscription plan
  connect    hand broker API keys to the backend
  bot        show or toggle the trading bot for a broker
  pnl        show daily profit and loss
  watch      poll broker stats until interrupted
  signals    print a demo signal feed
`

type app struct {
	cfg      config.Client
	logger   *zap.Logger
	store    *session.Store
	client   *api.Client
	bus      *events.Bus
	slotDesc string
	stdout   io.Writer
	stderr   io.Writer
	stdin    io.Reader
	closers  []func() error
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("signalctl", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", "", "path to configuration file (json or yaml)")
	ephemeral := global.Bool("ephemeral", false, "keep the session in memory only")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	_ = godotenv.Load()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalctl: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *ephemeral)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalctl: %v\n", err)
		return 1
	}
	defer a.close()

	name, rest := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "signalctl: unknown command %q\n\n", name)
		global.Usage()
		return 2
	}

	if err := cmd(ctx, a, rest); err != nil {
		return a.report(err)
	}
	return 0
}

func newApp(ctx context.Context, cfg config.Client, ephemeral bool) (*app, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{
		cfg:    cfg,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
		stdin:  os.Stdin,
	}
	a.closers = append(a.closers, func() error { _ = logger.Sync(); return nil })

	var slot session.Slot
	switch {
	case ephemeral:
		slot = session.NewMemorySlot()
		a.slotDesc = "memory (ephemeral)"
		a.bus = events.NewLocalBus(logger)
	case cfg.RedisURL != "":
		redisSlot, err := session.NewRedisSlot(ctx, cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, redisSlot.Close)
		slot = redisSlot
		a.slotDesc = "redis key " + redisSlot.Key()
		bus, err := events.NewRedisBus(redisSlot.Client(), logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.bus = bus
	default:
		fileSlot := session.NewFileSlot(cfg.StateFile)
		slot = fileSlot
		a.slotDesc = fileSlot.Path()
		a.bus = events.NewLocalBus(logger)
	}
	// Runs before the redis client is closed.
	a.closers = append(a.closers, a.bus.Close)

	store, err := session.NewStore(ctx, session.StoreOptions{
		Slot:      slot,
		Logger:    logger.Named("session"),
		Listeners: []session.Listener{a.bus.Listener()},
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	httpClient := &http.Client{Timeout: cfg.RequestTimeout.Duration}
	refresher, err := session.NewHTTPRefresher(session.HTTPRefresherOptions{
		Endpoint:   cfg.RefreshURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	caller, err := session.NewCaller(store, refresher, logger.Named("caller"))
	if err != nil {
		a.close()
		return nil, err
	}
	client, err := api.NewClient(caller, api.Options{
		BaseURL:    cfg.APIBaseURL,
		Brokers:    cfg.Brokers,
		HTTPClient: httpClient,
		Logger:     logger.Named("api"),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.client = client
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug("close", zap.Error(err))
		}
	}
	a.closers = nil
}

// report prints err in user terms and picks the exit code.
func (a *app) report(err error) int {
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		fmt.Fprintln(a.stderr, "Your session has expired. Run `signalctl login` to sign in again.")
	case errors.Is(err, session.ErrUnauthorized):
		fmt.Fprintln(a.stderr, "You are not signed in. Run `signalctl login` first.")
	case errors.Is(err, api.ErrInvalidCredentials):
		fmt.Fprintln(a.stderr, "Login failed: invalid email or password.")
	case errors.As(err, &statusErr):
		fmt.Fprintf(a.stderr, "Request failed (%d): %s\n", statusErr.StatusCode, statusErr.Message)
	case errors.Is(err, errUsage):
		fmt.Fprintf(a.stderr, "signalctl: %v\n", err)
		return 2
	default:
		fmt.Fprintf(a.stderr, "signalctl: %v\n", err)
	}
	return 1
}
