package clientbuilder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/park285/chess-sync-client/internal/config"
	"github.com/park285/chess-sync-client/internal/directory"
	"github.com/park285/chess-sync-client/internal/gameapi"
	"github.com/park285/chess-sync-client/internal/gamesync"
	"github.com/park285/chess-sync-client/internal/matchmaking"
	"github.com/park285/chess-sync-client/internal/msgcat"
	"github.com/park285/chess-sync-client/internal/presenter"
	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/internal/stompws"
	"github.com/park285/chess-sync-client/pkg/chessdto"
	"go.uber.org/zap"
)

// Deps owns every long-lived client component. The transport is created here
// and shared; nothing else opens a connection.
type Deps struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	API         *gameapi.Client
	Transport   *session.Transport
	Matchmaking *matchmaking.Controller
	Sync        *gamesync.Synchronizer
	Directory   *directory.Refresher
	Catalog     *msgcat.Catalog
	Presenter   *presenter.Presenter

	matches chan chessdto.MatchFound
}

type Options struct {
	Out io.Writer
	// Dialer replaces the STOMP/WebSocket dialer, mainly for tests.
	Dialer session.Dialer
}

func New(cfg *config.AppConfig, logger *zap.Logger, opts Options) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	pres := presenter.New(opts.Out, presenter.NewFormatter(cat))

	api := gameapi.New(cfg.APIBaseURL,
		gameapi.WithTimeout(cfg.HTTPTimeout),
		gameapi.WithLogger(logger.Named("gameapi")),
	)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = stompws.NewDialer(cfg.WSURL, stompws.WithLogger(logger.Named("stompws")))
	}
	tr := session.New(dialer, session.Config{
		ReconnectDelay:       cfg.ReconnectDelay,
		Heartbeat:            cfg.Heartbeat,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Passcode:             cfg.Passcode,
		AppPrefix:            cfg.AppPrefix,
		UserPrefix:           cfg.UserPrefix,
		TopicPrefix:          cfg.TopicPrefix,
		HeaderProvider:       api.HandshakeHeader,
	}, logger.Named("session"))

	d := &Deps{
		Config:    cfg,
		Logger:    logger,
		API:       api,
		Transport: tr,
		Catalog:   cat,
		Presenter: pres,
		matches:   make(chan chessdto.MatchFound, 1),
	}

	d.Matchmaking = matchmaking.New(tr, matchmaking.Callbacks{
		OnMatch: func(m chessdto.MatchFound) {
			pres.Print(pres.MatchFound(m))
			select {
			case d.matches <- m:
			default:
			}
		},
		OnStatus: func(text string) { pres.Print(pres.QueueStatus(text)) },
		OnError:  func(err error) { pres.Print(pres.Error(err)) },
	}, logger.Named("matchmaking"))

	d.Sync = gamesync.New(tr, api, gamesync.Callbacks{
		OnUpdate:     func(s gamesync.Snapshot) { pres.Print(pres.Game(s)) },
		OnMoveFailed: func(sub chessdto.MoveSubmission, err error) { pres.Print(pres.MoveFailed(sub, err)) },
		OnError:      func(err error) { pres.Print(pres.Error(err)) },
	}, gamesync.Options{ConfirmTimeout: cfg.ConfirmTimeout}, logger.Named("gamesync"))

	d.Directory = directory.New(api,
		func(games []chessdto.Game) { pres.Print(pres.Lobby(games, tr.UserID())) },
		directory.WithInterval(cfg.DirectoryRefresh),
		directory.WithErrorHandler(func(err error) { pres.Print(pres.Error(err)) }),
		directory.WithLogger(logger.Named("directory")),
	)

	// failures and retries are printed from the transport's error callback
	tr.OnStateChange(func(ev session.Event) {
		switch ev.State {
		case session.StateConnected:
			pres.Print(cat.Text("session.connected", map[string]any{"User": ev.UserID}))
		case session.StateDisconnected:
			pres.Print(cat.Text("session.disconnected", nil))
		}
	})
	return d, nil
}

// Connect opens the messaging session for userID with the matchmaking queues wired in.
// Connection failures reach the terminal while the transport keeps retrying.
func (d *Deps) Connect(ctx context.Context, userID string) *session.Handshake {
	return d.Transport.Connect(ctx, userID, d.Matchmaking.Handlers(func(err error) {
		d.Logger.Debug("session_error", zap.Error(err))
		d.Presenter.Print(d.Presenter.ConnectionError(err, d.Transport.Config().ReconnectDelay))
	}))
}

// Matches delivers match-found notifications for callers that navigate on them.
func (d *Deps) Matches() <-chan chessdto.MatchFound { return d.matches }

func (d *Deps) Close() {
	d.Sync.Shutdown()
	d.Matchmaking.Close()
	d.Transport.Disconnect()
}
