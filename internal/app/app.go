package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/randchat/internal/matching"
	"github.com/aussiebroadwan/randchat/internal/messages"
	"github.com/aussiebroadwan/randchat/internal/metrics"
	"github.com/aussiebroadwan/randchat/internal/notice"
	"github.com/aussiebroadwan/randchat/internal/notifications"
	"github.com/aussiebroadwan/randchat/internal/transcript"
	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
	"github.com/aussiebroadwan/randchat/pkg/httpx"
	"github.com/aussiebroadwan/randchat/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Commands typed at the prompt.
const (
	CommandLeave   = "/leave"
	CommandQuit    = "/quit"
	CommandNotices = "/notices"
)

// errQuit ends Run without an error.
var errQuit = errors.New("quit")

// Application is the headless chat client: it authenticates, matches and
// chats over a line-based terminal.
type Application struct {
	cfg    Config
	logger *slog.Logger

	in    io.Reader
	out   io.Writer
	outMu sync.Mutex
	lines chan string

	// Core dependencies
	client   *chatsdk.SDKClient
	session  *chatsdk.Session
	store    *transcript.Store
	notices  *notice.Board
	registry *prometheus.Registry
	metrics  *metrics.Collector

	// Pacers shared by every round, so a failing step cannot spin.
	sessionPacer *httpx.Pacer
	ticketPacer  *httpx.Pacer

	mu    sync.Mutex
	state State

	// Optional metrics endpoint
	metricsServer *http.Server
	logFile       *os.File
}

// New creates an Application reading commands from in and writing the
// conversation to out.
func New(cfg Config, in io.Reader, out io.Writer) (*Application, error) {
	app := &Application{
		cfg:   cfg,
		in:    in,
		out:   out,
		lines: make(chan string),
	}

	if err := app.initLogger(); err != nil {
		return nil, err
	}

	store, err := transcript.Open(context.Background())
	if err != nil {
		app.closeLog()
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	app.store = store

	app.client = chatsdk.NewSDKClient(cfg.BaseURL())
	if cfg.HTTPTimeout > 0 {
		app.client.HTTPClient.Timeout = cfg.HTTPTimeout
	}

	app.registry = prometheus.NewRegistry()
	app.metrics = metrics.NewCollector(app.registry)

	app.sessionPacer = httpx.NewPacer(cfg.SessionRetry)
	app.ticketPacer = httpx.NewPacer(cfg.TicketRetry)

	app.notices = notice.NewBoard(cfg.NoticeTTL, app.logger)
	app.notices.OnAppend = func(line string) { app.printf("%s", line) }

	if cfg.MetricsAddr != "" {
		app.metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.SetupMetricsRoute(app.registry),
			ReadHeaderTimeout: 3 * time.Second,
		}
	}

	return app, nil
}

func (app *Application) initLogger() error {
	logCfg := slogx.Config{
		Service: "randchat",
		Version: BuildVersion,
		Env:     app.cfg.Env,
		Level:   app.cfg.LogLevel,
		Format:  app.cfg.LogFormat,
	}

	if app.cfg.LogFile != "" {
		f, err := os.OpenFile(app.cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		app.logFile = f
		logCfg.Output = f
	}

	app.logger = slogx.New(logCfg)
	return nil
}

// State returns the current navigation state.
func (app *Application) State() State {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.state
}

func (app *Application) advance(e Event) {
	app.mu.Lock()
	from := app.state
	to, err := Next(from, e)
	app.state = to
	app.mu.Unlock()

	if err != nil {
		app.logger.Error("unexpected navigation event", "error", err)
		return
	}
	app.logger.Debug("state changed", "from", from, "to", to, "event", e)
}

// Run drives the session until the user quits, input ends or ctx is
// cancelled. Quitting is not an error.
func (app *Application) Run(ctx context.Context) error {
	ctx = slogx.WithContext(ctx, app.logger)

	app.notices.Start()
	app.startMetrics()
	go app.readInput(ctx)

	app.logger.Info("randchat starting", "service", app.cfg.BaseURL(), "version", BuildVersion)

	err := app.loop(ctx)
	if errors.Is(err, errQuit) {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (app *Application) loop(ctx context.Context) error {
	if err := app.retry(ctx, app.createAccount); err != nil {
		return err
	}
	if err := app.retry(ctx, app.login); err != nil {
		return err
	}

	var threadID string
	err := app.retry(ctx, func(ctx context.Context) error {
		var err error
		threadID, err = app.bootstrap(ctx)
		return err
	})
	if err != nil {
		return err
	}

	// After a failed round the user confirms the next one, even when an
	// open ticket could be adopted straight away.
	confirm := false
	for {
		switch app.State() {
		case Matching:
			threadID, err = app.match(ctx, confirm)
			confirm = threadID == ""
		case Chatting:
			err = app.retry(ctx, func(ctx context.Context) error {
				return app.chat(ctx, threadID)
			})
		default:
			return fmt.Errorf("%w: stuck in %s", ErrInvalidTransition, app.State())
		}
		if err != nil {
			return err
		}
	}
}

// retry runs step until it succeeds. Each failure is reported and retried
// at the session pacer's rate. An incorrect secret, quitting and ctx
// ending are returned.
func (app *Application) retry(ctx context.Context, step func(context.Context) error) error {
	for {
		err := step(ctx)
		switch {
		case err == nil, errors.Is(err, errQuit):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}

		app.notices.Report(err)
		if errors.Is(err, chatsdk.ErrIncorrectCredential) {
			return err
		}

		if err := app.sessionPacer.Wait(ctx); err != nil {
			return err
		}
		app.logger.Debug("retrying after failure", "state", app.State(), "error", err)
	}
}

// Shutdown releases everything New and Run acquired.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down randchat...")

	if app.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
		defer cancel()

		if err := app.metricsServer.Shutdown(ctx); err != nil {
			app.logger.Error("graceful metrics shutdown failed", "error", err)
			_ = app.metricsServer.Close()
		}
	}

	app.notices.Stop()

	if err := app.store.Close(); err != nil {
		app.logger.Error("error closing transcript", "error", err)
		return err
	}

	app.logger.Info("randchat stopped")
	app.closeLog()
	return nil
}

func (app *Application) closeLog() {
	if app.logFile != nil {
		_ = app.logFile.Close()
	}
}

func (app *Application) startMetrics() {
	if app.metricsServer == nil {
		return
	}

	go func() {
		app.logger.Info("metrics listening", "addr", app.metricsServer.Addr)
		if err := app.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// ============================================================================
// Terminal
// ============================================================================

func (app *Application) readInput(ctx context.Context) {
	defer close(app.lines)

	scanner := bufio.NewScanner(app.in)
	for scanner.Scan() {
		select {
		case app.lines <- strings.TrimRight(scanner.Text(), "\r"):
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		app.logger.Warn("input closed", "error", err)
	}
}

// nextLine blocks for one line of input. Closed input and /quit both
// return errQuit; /notices is answered here and never returned.
func (app *Application) nextLine(ctx context.Context) (string, error) {
	for {
		select {
		case line, ok := <-app.lines:
			switch {
			case !ok || strings.TrimSpace(line) == CommandQuit:
				return "", errQuit
			case strings.TrimSpace(line) == CommandNotices:
				app.showNotices()
			default:
				return line, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// showNotices reprints the notices that have not expired yet.
func (app *Application) showNotices() {
	lines := app.notices.Lines()
	if len(lines) == 0 {
		app.printf("No recent problems.")
		return
	}
	for _, line := range lines {
		app.printf("%s", line)
	}
}

func (app *Application) printf(format string, args ...any) {
	app.outMu.Lock()
	defer app.outMu.Unlock()
	fmt.Fprintf(app.out, format+"\n", args...)
}

func (app *Application) printMessages(batch []chatsdk.Message) {
	self := app.session.UserID()
	for _, m := range batch {
		who := "peer"
		if m.UserID == self {
			who = "you"
		}
		app.printf("[%s] %s: %s", m.Time.Time().Local().Format("15:04:05"), who, m.Text)
	}
}

// ============================================================================
// Phases
// ============================================================================

// createAccount creates an account when no secret is configured.
func (app *Application) createAccount(ctx context.Context) error {
	if app.cfg.Secret != "" {
		return nil
	}

	created, err := app.client.CreateUser(ctx)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	app.cfg.Secret = string(created)

	app.printf("Your secret is %s", app.cfg.Secret)
	app.printf("It is shown only once. Pass it with --secret to log in again.")
	return nil
}

// login exchanges the secret for a session.
func (app *Application) login(ctx context.Context) error {
	secret := chatsdk.Secret(app.cfg.Secret)

	session, err := app.client.AuthenticateWithSecret(ctx, secret)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	app.session = session

	app.logger.Info("logged in", "user_id", session.UserID(), "session_id", session.ID().Short(), "secret", secret)
	app.advance(EventLoggedIn)
	return nil
}

// bootstrap resumes the single open conversation if there is one.
func (app *Application) bootstrap(ctx context.Context) (string, error) {
	threads, err := app.session.ListThreads(ctx)
	if err != nil {
		return "", fmt.Errorf("list threads: %w", err)
	}

	if len(threads) == 1 {
		app.advance(EventHasThread)
		return threads[0], nil
	}

	app.advance(EventNoThread)
	return "", nil
}

// match runs one round of matching. It returns the matched thread, or ""
// when the round failed and should be retried. With confirm set the round
// waits for the user before polling, even for an adopted ticket.
func (app *Application) match(ctx context.Context, confirm bool) (string, error) {
	if confirm {
		if err := app.ticketPacer.Wait(ctx); err != nil {
			return "", err
		}
	}

	syncer := matching.New(app.session, matching.Config{
		Pacer:   app.ticketPacer,
		Metrics: app.metrics,
		OnTransition: func(from, to matching.State) {
			app.logger.Debug("ticket state changed", "from", from, "to", to)
		},
	})

	adopted, err := syncer.Reconcile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		app.notices.Report(err)
	}

	if adopted == "" || confirm {
		app.printf("Press Enter to match, %s to exit.", CommandQuit)
		if _, err := app.nextLine(ctx); err != nil {
			return "", err
		}
		app.printf("Matching...")
	} else {
		app.printf("Still matching...")
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := syncer.Run(waitCtx)
	for {
		select {
		case res := <-results:
			if res.Err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				app.notices.Report(res.Err)
				return "", nil
			}
			app.advance(EventMatched)
			return res.ThreadID, nil

		case line, ok := <-app.lines:
			switch {
			case !ok || strings.TrimSpace(line) == CommandQuit:
				// The open ticket is adopted by the next session.
				return "", errQuit
			case strings.TrimSpace(line) == CommandNotices:
				app.showNotices()
			default:
				app.printf("Still matching...")
			}

		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// chat runs the conversation in threadID until it is left.
func (app *Application) chat(ctx context.Context, threadID string) error {
	log := app.logger.With("thread_id", threadID)
	ctx = slogx.WithContext(ctx, log)

	// A restarted chat catches up from the newest message already shown.
	since, err := app.store.Latest(ctx, threadID)
	if err != nil && !errors.Is(err, transcript.ErrEmpty) {
		return fmt.Errorf("load transcript: %w", err)
	}

	app.printf("Chatting. Type a message or %s to leave. %s shows recent problems, %s exits.", CommandLeave, CommandNotices, CommandQuit)

	engine := messages.New(messages.SessionAPI(app.session), threadID, messages.Config{
		Deliver:    app.printMessages,
		Transcript: app.store,
		Pacer:      httpx.NewPacer(app.cfg.MessagesRetry),
		Metrics:    app.metrics,
	})
	notes := notifications.New(notifications.SessionAPI(app.session), notifications.Config{
		ThreadID: threadID,
		Pacer:    httpx.NewPacer(app.cfg.NotificationsRetry),
		Metrics:  app.metrics,
		OnNotification: func(n chatsdk.Notification) {
			log.Info("notification", "code", n.Code, "notified_thread", n.ThreadID())
		},
	})
	conv := &conversation{app: app, threadID: threadID, engine: engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notes.Run(gctx) })
	g.Go(func() error { return engine.Follow(gctx, since) })
	g.Go(func() error { return conv.input(gctx) })

	err = g.Wait()
	switch {
	case errors.Is(err, notifications.ErrThreadLeft):
		app.printf("Chat ended.")
		if ferr := app.store.Forget(context.WithoutCancel(ctx), threadID); ferr != nil {
			log.Warn("failed to forget transcript", "error", ferr)
		}
		app.advance(EventLeft)
		return nil
	case errors.Is(err, errQuit):
		return errQuit
	default:
		return err
	}
}

// conversation handles typed input for one thread.
type conversation struct {
	app      *Application
	threadID string
	engine   *messages.Engine

	leaveMu sync.Mutex
	left    bool
}

func (c *conversation) input(ctx context.Context) error {
	for {
		line, err := c.app.nextLine(ctx)
		if err != nil {
			return err
		}

		if strings.TrimSpace(line) == CommandLeave {
			c.leave(ctx)
			continue
		}

		if err := c.engine.Send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.app.notices.Report(err)
		}
	}
}

// leave asks the server to end the thread. The chat itself ends when the
// thread_leaved notification arrives. A leave already sent is not repeated.
func (c *conversation) leave(ctx context.Context) {
	c.leaveMu.Lock()
	defer c.leaveMu.Unlock()

	if c.left {
		return
	}

	if err := c.app.session.LeaveThread(ctx, c.threadID); err != nil {
		c.app.notices.Report(err)
		return
	}
	c.left = true
	c.app.printf("Leaving...")
}
