package gameapi

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/park285/chess-sync-client/pkg/chessdto"
	"github.com/valyala/fasthttp"
)

var ErrEmptyGameID = errors.New("gameapi: empty game id")

func gamePath(gameID string, suffix string) (string, error) {
	id := strings.TrimSpace(gameID)
	if id == "" {
		return "", ErrEmptyGameID
	}
	return "/api/games/" + url.PathEscape(id) + suffix, nil
}

func (c *Client) ListGames(ctx context.Context) ([]chessdto.Game, error) {
	var games []chessdto.Game
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games", nil, &games); err != nil {
		return nil, err
	}
	return games, nil
}

func (c *Client) GetGame(ctx context.Context, gameID string) (*chessdto.Game, error) {
	path, err := gamePath(gameID, "")
	if err != nil {
		return nil, err
	}
	var g chessdto.Game
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) GetMoves(ctx context.Context, gameID string) ([]chessdto.MoveRecord, error) {
	path, err := gamePath(gameID, "/moves")
	if err != nil {
		return nil, err
	}
	var moves []chessdto.MoveRecord
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &moves); err != nil {
		return nil, err
	}
	return moves, nil
}

func (c *Client) CreateGame(ctx context.Context, req chessdto.CreateGameRequest) (*chessdto.Game, error) {
	if req.Color == "" {
		req.Color = chessdto.ColorRandom
	}
	var g chessdto.Game
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/create", req, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) JoinGame(ctx context.Context, gameID, playerID string) (*chessdto.Game, error) {
	path, err := gamePath(gameID, "/join")
	if err != nil {
		return nil, err
	}
	var g chessdto.Game
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, chessdto.JoinGameRequest{PlayerID: playerID}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
