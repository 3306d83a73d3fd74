package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"signaldesk/internal/api"
	"signaldesk/internal/events"
	"signaldesk/internal/session"
)

var errUsage = errors.New("usage")

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":     cmdLogin,
	"logout":    cmdLogout,
	"register":  cmdRegister,
	"status":    cmdStatus,
	"profile":   cmdProfile,
	"subscribe": cmdSubscribe,
	"connect":   cmdConnect,
	"bot":       cmdBot,
	"pnl":       cmdPnL,
	"watch":     cmdWatch,
	"signals":   cmdSignals,
}

func newFlags(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	return nil
}

// readSecret falls back to the first line of stdin when the flag was not given.
func readSecret(a *app, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(a.stderr, prompt)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "login")
	email := fs.String("email", os.Getenv("SIGNALDESK_EMAIL"), "account email")
	password := fs.String("password", os.Getenv("SIGNALDESK_PASSWORD"), "account password (read from stdin when empty)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("email", *email); err != nil {
		return err
	}
	secret, err := readSecret(a, *password, "Password: ")
	if err != nil {
		return err
	}
	if err := a.client.Login(ctx, *email, secret); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Signed in as %s.\n", *email)
	return nil
}

func cmdLogout(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlags(a, "logout"), args); err != nil {
		return err
	}
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Signed out.")
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "register")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (read from stdin when empty)")
	name := fs.String("name", "", "full name")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("email", *email); err != nil {
		return err
	}
	secret, err := readSecret(a, *password, "Password: ")
	if err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("%w: password cannot be empty", errUsage)
	}
	profile, err := a.client.Register(ctx, api.RegisterRequest{Email: *email, Password: secret, FullName: *name})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Account %s created. Run `signalctl login -email %s` to sign in.\n", profile.ID, profile.Email)
	return nil
}

func cmdStatus(_ context.Context, a *app, args []string) error {
	if err := parse(newFlags(a, "status"), args); err != nil {
		return err
	}
	pair := a.store.Get()

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "storage\t%s\n", a.slotDesc)
	fmt.Fprintf(w, "api\t%s\n", a.cfg.APIBaseURL)
	fmt.Fprintf(w, "signed in\t%s\n", yesNo(pair.Authenticated()))
	fmt.Fprintf(w, "refreshable\t%s\n", yesNo(pair.CanRefresh()))
	if exp, ok := session.AccessExpiry(pair.AccessToken); ok {
		left := time.Until(exp).Round(time.Second)
		if left > 0 {
			fmt.Fprintf(w, "access token\texpires %s (in %s)\n", exp.Local().Format(time.RFC1123), left)
		} else {
			fmt.Fprintf(w, "access token\texpired %s (refreshed on next call)\n", exp.Local().Format(time.RFC1123))
		}
	}
	return w.Flush()
}

func cmdProfile(ctx context.Context, a *app, args []string) error {
	if err := parse(newFlags(a, "profile"), args); err != nil {
		return err
	}
	profile, err := a.client.Profile(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", profile.ID)
	fmt.Fprintf(w, "email\t%s\n", profile.Email)
	fmt.Fprintf(w, "name\t%s\n", profile.FullName)
	if !profile.CreatedAt.IsZero() {
		fmt.Fprintf(w, "member since\t%s\n", profile.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func cmdSubscribe(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "subscribe")
	plan := fs.String("plan", "", "plan to switch to; shows the current plan when empty")
	if err := parse(fs, args); err != nil {
		return err
	}

	var (
		sub api.Subscription
		err error
	)
	if *plan == "" {
		sub, err = a.client.Subscription(ctx)
	} else {
		sub, err = a.client.Subscribe(ctx, *plan)
	}
	if err != nil {
		return err
	}

	expires := "never"
	if sub.ExpiresAt != nil {
		expires = sub.ExpiresAt.Format("2006-01-02")
	}
	fmt.Fprintf(a.stdout, "Plan %s (%s), expires %s, active: %s\n", sub.Plan, sub.Status, expires, yesNo(sub.Active()))
	return nil
}

func cmdConnect(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "connect")
	broker := fs.String("broker", "", "broker name ("+strings.Join(a.client.Brokers(), ", ")+")")
	key := fs.String("key", "", "broker API key")
	secret := fs.String("secret", "", "broker API secret (read from stdin when empty)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("broker", *broker); err != nil {
		return err
	}
	if err := required("key", *key); err != nil {
		return err
	}
	apiSecret, err := readSecret(a, *secret, "API secret: ")
	if err != nil {
		return err
	}
	conn, err := a.client.ConnectBroker(ctx, *broker, api.BrokerKey{APIKey: *key, APISecret: apiSecret})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s connected: %s\n", conn.Broker, yesNo(conn.Connected))
	return nil
}

func cmdBot(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "bot")
	broker := fs.String("broker", "", "broker name")
	set := fs.String("set", "", "on or off; shows the bot state when empty")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("broker", *broker); err != nil {
		return err
	}

	var (
		state api.BotState
		err   error
	)
	switch strings.ToLower(*set) {
	case "":
		state, err = a.client.Bot(ctx, *broker)
	case "on":
		state, err = a.client.SetBot(ctx, *broker, true)
	case "off":
		state, err = a.client.SetBot(ctx, *broker, false)
	default:
		return fmt.Errorf("%w: -set must be on or off", errUsage)
	}
	if err != nil {
		return err
	}

	status := "stopped"
	if state.Enabled {
		status = "running"
	}
	fmt.Fprintf(a.stdout, "Bot on %s is %s.\n", state.Broker, status)
	return nil
}

func cmdPnL(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "pnl")
	broker := fs.String("broker", "", "broker name")
	days := fs.Int("days", 30, "number of days to show")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("broker", *broker); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("%w: -days must be positive", errUsage)
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -(*days - 1))
	history, err := a.client.ProfitHistory(ctx, *broker, from, to)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "date\tpnl\t")
	for _, p := range history {
		fmt.Fprintf(w, "%s\t%s\t\n", p.Date.Format("2006-01-02"), p.PnL.StringFixed(2))
	}
	return w.Flush()
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "watch")
	broker := fs.String("broker", "", "broker name")
	interval := fs.Duration("interval", a.cfg.PollInterval.Duration, "poll interval")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("broker", *broker); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signedOut := make(chan struct{})
	var once bool
	err := a.bus.Watch(ctx, func(ev events.SessionChanged) {
		if !ev.Authenticated && !once {
			once = true
			close(signedOut)
			cancel()
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Watching %s every %s. Press Ctrl+C to stop.\n", *broker, *interval)
	err = a.client.PollStats(ctx, *broker, *interval, func(s api.Stats, err error) {
		now := time.Now().Format("15:04:05")
		if err != nil {
			fmt.Fprintf(a.stderr, "%s  stats unavailable: %v\n", now, err)
			return
		}
		fmt.Fprintf(a.stdout, "%s  balance %s  pnl %s  win rate %.0f%%  open %d\n",
			now, s.Balance.StringFixed(2), s.TotalPnL.StringFixed(2), s.WinRate*100, s.OpenPositions)
	})
	if err != nil {
		return err
	}

	select {
	case <-signedOut:
		fmt.Fprintln(a.stdout, "Signed out elsewhere; stopping. Run `signalctl login` to continue.")
	default:
	}
	return nil
}

func cmdSignals(_ context.Context, a *app, args []string) error {
	fs := newFlags(a, "signals")
	n := fs.Int("n", 10, "number of signals")
	symbols := fs.String("symbols", strings.Join(api.DefaultSymbols, ","), "comma separated symbols")
	if err := parse(fs, args); err != nil {
		return err
	}

	var list []string
	for _, s := range strings.Split(*symbols, ",") {
		if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
			list = append(list, s)
		}
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "time\tsymbol\tside\tprice\tconfidence")
	for _, s := range api.RandomSignals(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), list, *n) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\n", s.At.Local().Format("15:04"), s.Symbol, s.Side, s.Price.StringFixed(2), s.Confidence*100)
	}
	fmt.Fprintln(w, "\nDemo data only.")
	return w.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
