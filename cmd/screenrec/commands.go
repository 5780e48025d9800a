package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/config"
	"github.com/aura-webinar/screenrec/internal/auth"
	"github.com/aura-webinar/screenrec/internal/library"
	"github.com/aura-webinar/screenrec/internal/models"
	"github.com/aura-webinar/screenrec/internal/realtime"
	"github.com/aura-webinar/screenrec/pkg/redis"
)

var errUsage = errors.New("invalid usage")

type app struct {
	cfg    *config.Config
	store  *auth.Store
	auth   *auth.Client
	lib    *library.Client
	in     *bufio.Reader
	out    io.Writer
	logger *zap.Logger
	loc    *time.Location
}

func newApp(cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) (*app, error) {
	store, err := auth.OpenStore(cfg.Session.File, cfg.Session.Passphrase)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		store:  store,
		auth:   auth.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, logger),
		lib:    library.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, logger),
		in:     bufio.NewReader(in),
		out:    out,
		logger: logger,
		loc:    time.Local,
	}, nil
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "signup":
		return a.signup(ctx, rest)
	case "demo":
		return a.demo()
	case "logout":
		return a.logout()
	case "whoami":
		return a.whoami()
	case "list":
		return a.list(ctx, rest)
	case "search":
		return a.search(ctx, rest)
	case "rename":
		return a.rename(ctx, rest)
	case "delete":
		return a.delete(ctx, rest)
	case "share":
		return a.share(ctx, rest)
	case "strength":
		return a.strength(rest)
	case "watch":
		return a.watch(ctx)
	case "help", "-h", "--help":
		return flag.ErrHelp
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// prompt reads one line, printing label first. Flags win over prompts.
func (a *app) prompt(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "account email (defaults to the remembered one)")
	password := fs.String("password", "", "password (prompted when empty)")
	remember := fs.Bool("remember", false, "remember the email for next time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		*email = a.store.RememberedEmail()
	}
	e, err := a.prompt("Email: ", *email)
	if err != nil {
		return err
	}
	p, err := a.prompt("Password: ", *password)
	if err != nil {
		return err
	}
	sess, err := a.auth.Login(ctx, auth.LoginRequest{Email: e, Password: p})
	if err != nil {
		return err
	}
	if err := a.store.Save(sess); err != nil {
		return err
	}
	remembered := ""
	if *remember {
		remembered = e
	}
	if err := a.store.RememberEmail(remembered); err != nil {
		a.logger.Warn("remember email failed", zap.Error(err))
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", displayName(sess.User))
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := newFlagSet("signup")
	email := fs.String("email", "", "account email")
	username := fs.String("username", "", "display name")
	password := fs.String("password", "", "password (prompted when empty)")
	confirm := fs.String("confirm", "", "password confirmation (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	e, err := a.prompt("Email: ", *email)
	if err != nil {
		return err
	}
	p, err := a.prompt("Password: ", *password)
	if err != nil {
		return err
	}
	s := auth.PasswordStrength(p)
	fmt.Fprintf(a.out, "Password strength: %s (%d/%d)\n", s.Label, s.Score, s.MaxScore)
	cp, err := a.prompt("Confirm password: ", *confirm)
	if err != nil {
		return err
	}
	req := auth.SignupRequest{Email: e, Username: *username, Password: p, ConfirmPassword: cp}
	if err := a.auth.Signup(ctx, req); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Account created for %s. Run `screenrec login` to sign in.\n", req.Email)
	return nil
}

func (a *app) demo() error {
	sess, err := a.store.Demo()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Entering demo mode as %s\n", sess.User.Username)
	return nil
}

func (a *app) logout() error {
	if err := a.store.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *app) whoami() error {
	u, ok := a.store.User()
	if !ok || !a.store.Valid() {
		return auth.ErrNotAuthenticated
	}
	fmt.Fprintf(a.out, "%s <%s>", displayName(u), u.Email)
	if u.IsDemo {
		fmt.Fprint(a.out, " (demo)")
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) load(ctx context.Context) ([]models.LibraryEntry, error) {
	token, err := a.store.Token(ctx)
	if err != nil {
		return nil, err
	}
	return a.lib.LoadLibrary(ctx, a.store.UserID(), token)
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	asJSON := fs.Bool("json", false, "print raw entries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := a.load(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return a.printEntries(entries)
}

func (a *app) search(ctx context.Context, args []string) error {
	if _, err := a.load(ctx); err != nil {
		return err
	}
	return a.printEntries(a.lib.Search(strings.Join(args, " ")))
}

func (a *app) printEntries(entries []models.LibraryEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No recordings yet.")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tDATE\tTIME\tDURATION")
	for _, it := range library.Present(entries, a.loc) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Title, it.Date, it.Time, it.Duration)
	}
	return tw.Flush()
}

func (a *app) rename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: rename <id> <name>", errUsage)
	}
	name := strings.TrimSpace(strings.Join(args[1:], " "))
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", errUsage)
	}
	token, err := a.store.Token(ctx)
	if err != nil {
		return err
	}
	if err := a.lib.RenameEntry(ctx, args[0], name, token); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Renamed %s to %q\n", args[0], name)
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete <id>", errUsage)
	}
	token, err := a.store.Token(ctx)
	if err != nil {
		return err
	}
	if err := a.lib.DeleteEntry(ctx, args[0], token); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", args[0])
	return nil
}

func (a *app) share(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: share <id>", errUsage)
	}
	token, err := a.store.Token(ctx)
	if err != nil {
		return err
	}
	link, err := a.lib.ShareLink(ctx, args[0], token)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, link)
	return nil
}

func (a *app) strength(args []string) error {
	p, err := a.prompt("Password: ", strings.Join(args, " "))
	if err != nil {
		return err
	}
	s := auth.PasswordStrength(p)
	if s.Label == "" {
		fmt.Fprintln(a.out, "empty password")
		return nil
	}
	fmt.Fprintf(a.out, "%s (%d/%d)\n", s.Label, s.Score, s.MaxScore)
	return nil
}

func (a *app) watch(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		return errors.New("watch needs REDIS_ADDR pointing at the agent's Redis")
	}
	rdb, err := redis.NewClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, a.logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	events := make(chan models.SessionEvent, 64)
	cancel, err := realtime.NewRedisPubSub(rdb.Client, a.logger).SubscribeSessions(ctx, func(ev models.SessionEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer cancel()

	fmt.Fprintln(a.out, "Watching session events (Ctrl-C to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			fmt.Fprintln(a.out, formatEvent(ev, a.loc))
		}
	}
}

func formatEvent(ev models.SessionEvent, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-15s %-9s", ev.At.In(loc).Format("15:04:05"), ev.Type, ev.State)
	if ev.Elapsed != "" {
		fmt.Fprintf(&b, " %s", ev.Elapsed)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, " %s", ev.Message)
	}
	return strings.TrimRight(b.String(), " ")
}

func displayName(u models.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
