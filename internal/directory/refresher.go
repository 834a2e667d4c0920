// Package directory keeps the game list fresh on a fixed interval.
package directory

import (
	"context"
	"time"

	"github.com/park285/chess-sync-client/pkg/chessdto"
	"go.uber.org/zap"
)

type Lister interface {
	ListGames(ctx context.Context) ([]chessdto.Game, error)
}

type Refresher struct {
	api      Lister
	interval time.Duration
	onGames  func([]chessdto.Game)
	onError  func(error)
	logger   *zap.Logger
}

type Option func(*Refresher)

func WithInterval(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(r *Refresher) { r.onError = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(api Lister, onGames func([]chessdto.Game), opts ...Option) *Refresher {
	r := &Refresher{api: api, interval: 15 * time.Second, onGames: onGames, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fetches immediately and then every interval until ctx is done.
// Fetch errors are reported and do not stop the loop.
func (r *Refresher) Run(ctx context.Context) error {
	_, _ = r.Refresh(ctx)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_, _ = r.Refresh(ctx)
		}
	}
}

func (r *Refresher) Refresh(ctx context.Context) ([]chessdto.Game, error) {
	games, err := r.api.ListGames(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("directory_refresh_failed", zap.Error(err))
			if r.onError != nil {
				r.onError(err)
			}
		}
		return nil, err
	}
	r.logger.Debug("directory_refreshed", zap.Int("games", len(games)))
	if r.onGames != nil {
		r.onGames(games)
	}
	return games, nil
}

// Joinable lists games still waiting for a second player that userID did not create.
func Joinable(games []chessdto.Game, userID string) []chessdto.Game {
	var out []chessdto.Game
	for _, g := range games {
		if g.EffectiveStatus() != chessdto.StatusWaitingForPlayer {
			continue
		}
		if userID != "" && g.ColorOf(userID) != "" {
			continue
		}
		out = append(out, g)
	}
	return out
}

// Spectatable lists games in progress.
func Spectatable(games []chessdto.Game) []chessdto.Game {
	var out []chessdto.Game
	for _, g := range games {
		if g.EffectiveStatus() == chessdto.StatusActive {
			out = append(out, g)
		}
	}
	return out
}
