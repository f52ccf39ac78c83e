package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/client"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/config"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/connectivity"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/events"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/services"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/session"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/store"
	"github.com/Masparrito/lactokeeper-sub001/internal/client/wsbridge"
	"github.com/Masparrito/lactokeeper-sub001/internal/filex"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
)

// remoteAPI is everything the CLI needs from the sync server.
type remoteAPI interface {
	client.Client
	client.RemoteStore
}

type App struct {
	config  *config.Config
	logger  logging.Logger
	api     remoteAPI
	auth    services.AuthService
	conn    connectivity.Signal
	watcher *connectivity.Watcher
	broker  *events.Broker
	bridge  *wsbridge.Server

	accounts *store.Store
	session  *session.Engine
	// stopStatus ends forwarding of the session status to the broker.
	stopStatus context.CancelFunc

	userName string
	reader   *bufio.Reader
	out      io.Writer
}

// NewApp wires the API client, the account cache and the connectivity
// watcher. Sessions are opened on login.
func NewApp(c *config.Config, logger logging.Logger) (*App, error) {
	ctx := context.Background()

	dataDir, err := filex.EnsureDir(c.DataDir)
	if err != nil {
		return nil, err
	}
	accounts, err := store.Open(ctx, filepath.Join(dataDir, "accounts.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing account cache: %w", err)
	}

	api, err := client.NewGRPCClient(c.ServerEndpointAddr, logger)
	if err != nil {
		_ = accounts.Close()
		return nil, err
	}

	watcher := connectivity.NewWatcher(api, c.OnlineCheckInterval, logger)
	broker := events.NewBroker()

	a := &App{
		config:   c,
		logger:   logger.With("module", "cli"),
		api:      api,
		auth:     services.NewAuthService(api, accounts.Metadata()),
		conn:     watcher,
		watcher:  watcher,
		broker:   broker,
		accounts: accounts,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}
	if c.BridgeAddr != "" {
		a.bridge = wsbridge.New(broker, logger)
	}
	return a, nil
}

// Run starts the background watchers and blocks in the REPL until the user
// exits.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}
	if a.bridge != nil {
		if err := a.bridge.Start(a.config.BridgeAddr); err != nil {
			a.logger.Error(ctx, "event bridge not started", "error", err)
		}
	}
	go a.printEvents(ctx)

	a.Root(ctx)
	a.shutdown(ctx)
}

func (a *App) shutdown(ctx context.Context) {
	a.closeSession(ctx)
	if a.bridge != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.bridge.Stop(sctx)
		cancel()
	}
	if err := a.auth.Close(ctx); err != nil {
		a.logger.Warn(ctx, "client close failed", "error", err)
	}
	if a.accounts != nil {
		_ = a.accounts.Close()
	}
}

func (a *App) isLoggedIn() bool {
	return a.session != nil
}

// openSession starts the sync session of owner, replacing any open one.
func (a *App) openSession(ctx context.Context, owner string) error {
	a.closeSession(ctx)

	e, err := session.New(ctx, session.Options{
		DataDir:          a.config.DataDir,
		OwnerID:          owner,
		Kinds:            a.config.Kinds,
		AuditKind:        a.config.AuditKind,
		Remote:           a.api,
		Connectivity:     a.conn,
		Notifier:         a.broker,
		OperationTimeout: a.config.OperationTimeout,
		StatusDebounce:   a.config.StatusDebounce,
		SweepBase:        a.config.SweepBase,
		SweepMax:         a.config.SweepMax,
		Logger:           a.logger,
	})
	if err != nil {
		return err
	}
	a.session = e

	fctx, stop := context.WithCancel(context.Background())
	states, unsubscribe := e.SubscribeStatus()
	a.stopStatus = func() {
		stop()
		unsubscribe()
	}
	go a.broker.ForwardStatus(fctx, states)
	return nil
}

func (a *App) closeSession(ctx context.Context) {
	if a.session == nil {
		return
	}
	if a.stopStatus != nil {
		a.stopStatus()
		a.stopStatus = nil
	}
	if err := a.session.Close(); err != nil {
		a.logger.Warn(ctx, "session close failed", "error", err)
	}
	a.session = nil
}

// printEvents tells the user when remote changes land in the local store.
func (a *App) printEvents(ctx context.Context) {
	evs, unsubscribe := a.broker.Subscribe(0)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-evs:
			if !ok {
				return
			}
			if e.Type == events.DataChanged {
				printlnFn(fmt.Sprintf("* %s updated from server", e.Kind))
			}
		}
	}
}

func (a *App) requireSession() (*session.Engine, error) {
	if a.session == nil {
		return nil, errNotLoggedIn
	}
	return a.session, nil
}

var errNotLoggedIn = errors.New("not logged in")
