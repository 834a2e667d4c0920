package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	appcfg "github.com/park285/chess-sync-client/internal/config"
	"github.com/park285/chess-sync-client/internal/gameapi"
	"github.com/park285/chess-sync-client/internal/obslog"
	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/internal/stompws"
)

// connectcheck checks the REST API and the STOMP endpoint with the current environment.
func main() {
	_ = godotenv.Load()
	if err := obslog.InitFromEnv(); err != nil {
		log.Printf("logger init: %v", err)
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	api := gameapi.New(cfg.APIBaseURL, gameapi.WithTimeout(cfg.HTTPTimeout), gameapi.WithLogger(obslog.Named("gameapi")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if user := os.Getenv("CHESS_USERNAME"); user != "" {
		if _, err := api.Login(ctx, user, os.Getenv("CHESS_PASSWORD")); err != nil {
			log.Fatalf("login error: %v", err)
		}
		log.Printf("login ok: %s", user)
	}

	games, err := api.ListGames(ctx)
	if err != nil {
		log.Printf("/api/games error: %v", err)
	} else {
		log.Printf("/api/games ok: %d games", len(games))
	}

	userID := cfg.UserID
	if userID == "" {
		if userID, err = api.CurrentUserID(ctx); err != nil {
			log.Printf("no user id (%v); skipping STOMP check", err)
			return
		}
	}

	tr := session.New(stompws.NewDialer(cfg.WSURL, stompws.WithLogger(obslog.Named("stompws"))), session.Config{
		ReconnectDelay:       cfg.ReconnectDelay,
		Heartbeat:            cfg.Heartbeat,
		MaxReconnectAttempts: 1,
		Passcode:             cfg.Passcode,
		AppPrefix:            cfg.AppPrefix,
		UserPrefix:           cfg.UserPrefix,
		TopicPrefix:          cfg.TopicPrefix,
		HeaderProvider:       api.HandshakeHeader,
	}, obslog.Named("session"))
	tr.OnStateChange(func(ev session.Event) {
		log.Printf("session state: %s err=%v", ev.State, ev.Err)
	})
	defer tr.Disconnect()

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	err = tr.Connect(cctx, userID, session.Handlers{
		OnServerError: func(m session.Message) error {
			log.Printf("server error frame: %s", m.Body)
			return nil
		},
	}).Wait(cctx)
	if err != nil {
		log.Printf("STOMP connect error: %v", err)
		return
	}

	// Observe for a short window so heartbeats and pushes show up.
	t := time.NewTimer(10 * time.Second)
	<-t.C
}
