package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/park285/chess-sync-client/internal/clientbuilder"
	"github.com/park285/chess-sync-client/pkg/chessdto"
)

var errQuit = errors.New("quit")

// shell reads one command per line and drives the client components.
// Pushes (match found, game updates) print asynchronously through the presenter.
type shell struct {
	deps *clientbuilder.Deps
	user string
	in   io.Reader
}

func newShell(deps *clientbuilder.Deps, user string, in io.Reader) *shell {
	return &shell{deps: deps, user: user, in: in}
}

func (s *shell) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.print(s.deps.Catalog.Text("shell.help", nil))
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.deps.Matches():
			if _, err := s.deps.Sync.Open(ctx, m.GameID.String()); err != nil {
				s.print(s.deps.Presenter.Error(err))
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := s.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				s.print(s.deps.Presenter.Error(err))
			}
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "help", "?":
		s.print(s.deps.Catalog.Text("shell.help", nil))
	case "quit", "exit":
		return errQuit
	case "games":
		_, err := s.deps.Directory.Refresh(ctx)
		return err
	case "create":
		g, err := s.deps.API.CreateGame(ctx, chessdto.CreateGameRequest{
			Player1ID: s.user,
			Color:     chessdto.ParseColorChoice(arg(0)),
		})
		if err != nil {
			return err
		}
		_, err = s.deps.Sync.Open(ctx, g.ID.String())
		return err
	case "join":
		if arg(0) == "" {
			return errors.New("usage: join <game-id>")
		}
		g, err := s.deps.API.JoinGame(ctx, arg(0), s.user)
		if err != nil {
			return err
		}
		_, err = s.deps.Sync.Open(ctx, g.ID.String())
		return err
	case "open":
		_, err := s.deps.Sync.Open(ctx, arg(0))
		return err
	case "history":
		id := arg(0)
		if id == "" {
			snap, ok := s.deps.Sync.Snapshot()
			if !ok {
				s.print(s.deps.Catalog.Text("shell.no_game", nil))
				return nil
			}
			id = snap.GameID
		}
		moves, err := s.deps.API.GetMoves(ctx, id)
		if err != nil {
			return err
		}
		s.print(s.deps.Presenter.History(id, moves))
	case "logout":
		if err := s.deps.API.Logout(ctx); err != nil {
			return err
		}
		s.print(s.deps.Catalog.Text("auth.logged_out", nil))
		return errQuit
	case "close":
		s.deps.Sync.Close()
	case "board":
		snap, ok := s.deps.Sync.Snapshot()
		if !ok {
			s.print(s.deps.Catalog.Text("shell.no_game", nil))
			return nil
		}
		s.print(s.deps.Presenter.Game(snap))
	case "queue":
		if err := s.deps.Matchmaking.JoinQueue(ctx); err != nil {
			return err
		}
		s.print(s.deps.Catalog.Text("queue.joined", nil))
	case "leave":
		if err := s.deps.Matchmaking.LeaveQueue(ctx); err != nil {
			return err
		}
		s.print(s.deps.Catalog.Text("queue.left", nil))
	case "move":
		return s.move(ctx, arg(0))
	default:
		if _, _, _, err := parseMove(cmd); err == nil {
			return s.move(ctx, cmd)
		}
		s.print(s.deps.Catalog.Text("shell.unknown", map[string]any{"Command": cmd}))
	}
	return nil
}

func (s *shell) move(ctx context.Context, text string) error {
	from, to, promo, err := parseMove(text)
	if err != nil {
		return err
	}
	sub, err := s.deps.Sync.Move(ctx, from, to, promo)
	if err != nil {
		return err
	}
	s.print(s.deps.Presenter.MoveSent(sub))
	return nil
}

func (s *shell) print(text string) { s.deps.Presenter.Print(text) }

// parseMove accepts coordinate notation such as e2e4, e7e8q or e7-e8=Q.
func parseMove(text string) (from, to, promo string, err error) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.NewReplacer("-", "", "=", "").Replace(t)
	if len(t) != 4 && len(t) != 5 {
		return "", "", "", fmt.Errorf("move %q: want from and to squares like e2e4", text)
	}
	from, to = t[:2], t[2:4]
	if !isSquare(from) || !isSquare(to) {
		return "", "", "", fmt.Errorf("move %q: bad square", text)
	}
	if len(t) == 5 {
		promo = t[4:]
		if !strings.Contains("qrbn", promo) {
			return "", "", "", fmt.Errorf("move %q: bad promotion piece", text)
		}
	}
	return from, to, promo, nil
}

func isSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}
