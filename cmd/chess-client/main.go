package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/park285/chess-sync-client/internal/clientbuilder"
	appcfg "github.com/park285/chess-sync-client/internal/config"
	"github.com/park285/chess-sync-client/internal/obslog"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Printf("warning: logger init: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "chess-client",
		Usage: "terminal client for the chess server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Sources: cli.EnvVars("CHESS_USERNAME")},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Sources: cli.EnvVars("CHESS_PASSWORD")},
		},
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "check credentials and print the session user id",
				Action: runLogin,
			},
			{
				Name:      "register",
				Usage:     "create an account",
				ArgsUsage: "<username> <password>",
				Action:    runRegister,
			},
			{
				Name:   "whoami",
				Usage:  "print the authenticated user id",
				Action: runWhoami,
			},
			{
				Name:      "profile",
				Usage:     "show a user profile",
				ArgsUsage: "[user-id]",
				Action:    runProfile,
			},
			{
				Name:   "games",
				Usage:  "list games, refreshing until interrupted with --watch",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}}},
				Action: runGames,
			},
			{
				Name:      "create",
				Usage:     "create a game and play it",
				ArgsUsage: "[white|black|random]",
				Action:    runCreate,
			},
			{
				Name:      "join",
				Usage:     "join a waiting game and play it",
				ArgsUsage: "<game-id>",
				Action:    runJoin,
			},
			{
				Name:   "queue",
				Usage:  "enter matchmaking and play the matched game",
				Action: runQueue,
			},
			{
				Name:   "play",
				Usage:  "connect and play interactively",
				Action: runPlay,
			},
		},
	}
}

// build loads configuration and signs in when credentials were given.
func build(ctx context.Context, cmd *cli.Command) (*clientbuilder.Deps, error) {
	cfg, err := appcfg.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	deps, err := clientbuilder.New(cfg, obslog.L(), clientbuilder.Options{Out: os.Stdout})
	if err != nil {
		return nil, err
	}
	if user := strings.TrimSpace(cmd.String("username")); user != "" {
		res, err := deps.API.Login(ctx, user, cmd.String("password"))
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("login: %w", err)
		}
		obslog.L().Info("logged_in", zap.String("username", res.Username))
	}
	return deps, nil
}

// resolveUser prefers the configured id and falls back to the server's view of the session.
func resolveUser(ctx context.Context, deps *clientbuilder.Deps) (string, error) {
	if deps.Config.UserID != "" {
		return deps.Config.UserID, nil
	}
	return deps.API.CurrentUserID(ctx)
}

func runLogin(ctx context.Context, cmd *cli.Command) error {
	if cmd.String("username") == "" {
		return cli.Exit("login needs --username and --password", 2)
	}
	deps, err := build(ctx, cmd)
	if err != nil {
		return err
	}
	defer deps.Close()
	id, err := deps.API.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	deps.Presenter.Print(deps.Catalog.Text("auth.logged_in", map[string]any{"UserID": id}))
	return nil
}

func runRegister(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 2 {
		return cli.Exit("usage: register <username> <password>", 2)
	}
	deps, err := build(ctx, cmd)
	if err != nil {
		return err
	}
	defer deps.Close()
	p, err := deps.API.Register(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
	if err != nil {
		return err
	}
	deps.Presenter.Print(deps.Catalog.Text("auth.registered", map[string]any{"Username": p.Username}))
	return nil
}

func runWhoami(ctx context.Context, cmd *cli.Command) error {
	deps, err := build(ctx, cmd)
	if err != nil {
		return err
	}
	defer deps.Close()
	id, err := deps.API.CurrentUserID(ctx)
	if err != nil {
		deps.Presenter.Print(deps.Catalog.Text("auth.not_authenticated", nil))
		return err
	}
	deps.Presenter.Print(deps.Catalog.Text("auth.whoami", map[string]any{"UserID": id}))
	return nil
}

func runProfile(ctx context.Context, cmd *cli.Command) error {
	deps, err := build(ctx, cmd)
	if err != nil {
		return err
	}
	defer deps.Close()
	id := cmd.Args().First()
	if id == "" {
		if id, err = resolveUser(ctx, deps); err != nil {
			return err
		}
	}
	p, err := deps.API.UserProfile(ctx, id)
	if err != nil {
		return err
	}
	deps.Presenter.Print(deps.Presenter.Profile(p))
	return nil
}

func runGames(ctx context.Context, cmd *cli.Command) error {
	deps, err := build(ctx, cmd)
	if err != nil {
		return err
	}
	defer deps.Close()
	if !cmd.Bool("watch") {
		_, err := deps.Directory.Refresh(ctx)
		return err
	}
	if err := deps.Directory.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runPlay(ctx context.Context, cmd *cli.Command) error {
	return interactive(ctx, cmd, "")
}

func runCreate(ctx context.Context, cmd *cli.Command) error {
	return interactive(ctx, cmd, strings.TrimSpace("create "+cmd.Args().First()))
}

func runJoin(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().First() == "" {
		return cli.Exit("usage: join <game-id>", 2)
	}
	return interactive(ctx, cmd, "join "+cmd.Args().First())
}

func runQueue(ctx context.Context, cmd *cli.Command) error {
	return interactive(ctx, cmd, "queue")
}

// interactive connects the messaging session, runs first as a shell command
// and then hands stdin to the shell.
func interactive(ctx context.Context, cmd *cli.Command, first string) error {
	deps, err := build(ctx, cmd)
	if err != nil {
		return err
	}
	defer deps.Close()

	user, err := resolveUser(ctx, deps)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if err := deps.Connect(ctx, user).Wait(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	sh := newShell(deps, user, os.Stdin)
	if first != "" {
		if err := sh.exec(ctx, first); err != nil {
			return err
		}
	}
	return sh.Run(ctx)
}
