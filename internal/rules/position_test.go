package rules

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/park285/chess-sync-client/pkg/chessdto"
)

func TestApplyLegalMove(t *testing.T) {
	p := New()
	if p.Turn() != chessdto.White {
		t.Fatalf("expected white to move")
	}
	got, err := p.Apply("e2", "e4", "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.UCI != "e2e4" || got.SAN != "e4" {
		t.Fatalf("unexpected notation: %+v", got)
	}
	if p.Turn() != chessdto.Black {
		t.Fatalf("expected black to move after e4")
	}
	if !strings.HasPrefix(got.FEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("unexpected fen: %s", got.FEN)
	}
}

func TestApplyIllegalMoveLeavesPositionUntouched(t *testing.T) {
	p := New()
	before := p.FEN()
	if _, err := p.Apply("e2", "e5", ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if _, err := p.Apply("z9", "e4", ""); !errors.Is(err, ErrInvalidSquare) {
		t.Fatalf("expected ErrInvalidSquare, got %v", err)
	}
	if p.FEN() != before {
		t.Fatalf("position changed after illegal attempts")
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	p, err := Load("8/P7/8/8/8/8/8/k6K w - - 0 1", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := p.Apply("a7", "a8", "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.UCI != "a7a8q" || got.Promotion != "q" {
		t.Fatalf("expected queen promotion, got %+v", got)
	}

	p2, _ := Load("8/P7/8/8/8/8/8/k6K w - - 0 1", nil)
	got, err = p2.Apply("a7", "a8", "n")
	if err != nil || got.UCI != "a7a8n" {
		t.Fatalf("expected knight promotion, got %+v err=%v", got, err)
	}
}

func TestLoadReplaysMovesWithoutFEN(t *testing.T) {
	p, err := Load("", []string{"e2e4", "e7e5", "g1f3"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Turn() != chessdto.Black {
		t.Fatalf("expected black to move")
	}
	if len(p.Moves()) != 3 {
		t.Fatalf("expected 3 moves, got %v", p.Moves())
	}
	if _, err := Load("", []string{"e2e5"}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition for bad replay, got %v", err)
	}
	if _, err := Load("not a fen", nil); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition for bad fen, got %v", err)
	}
}

func TestOutcomeAfterMate(t *testing.T) {
	p, err := Load("", []string{"f2f3", "e7e5", "g2g4"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Finished() {
		t.Fatalf("game should be in progress")
	}
	if _, err := p.Apply("d8", "h4", ""); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	outcome, method := p.Outcome()
	if outcome != "0-1" || method != "Checkmate" {
		t.Fatalf("unexpected outcome %q/%q", outcome, method)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := New()
	c := p.Clone()
	if _, err := c.Apply("d2", "d4", ""); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.Turn() != chessdto.White || len(p.Moves()) != 0 {
		t.Fatalf("clone mutation leaked into original")
	}
}

func TestLoadKeepsHistoryAlongsideFEN(t *testing.T) {
	const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	p, err := Load(afterE4, []string{"e2e4"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Turn() != chessdto.Black {
		t.Fatalf("FEN must decide the position, got %s to move", p.Turn())
	}
	if got := p.Moves(); len(got) != 1 || got[0] != "e2e4" {
		t.Fatalf("expected history [e2e4], got %v", got)
	}
}

func TestConcurrentLoadsDecodeIndependently(t *testing.T) {
	fens := []string{
		"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1",
		"r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3",
		"8/8/8/4k3/8/8/4K3/7R w - - 0 1",
		"rnbqkb1r/pp3ppp/4pn2/2pp4/3P4/4PN2/PPP2PPP/RNBQKB1R w KQkq - 0 5",
	}
	want := make([]string, len(fens))
	for i, fen := range fens {
		p, err := Load(fen, nil)
		if err != nil {
			t.Fatalf("Load %q: %v", fen, err)
		}
		want[i] = p.FEN()
	}

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				i := (w + n) % len(fens)
				p, err := Load(fens[i], nil)
				if err != nil || p.FEN() != want[i] {
					select {
					case errs <- fens[i]:
					default:
					}
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for fen := range errs {
		t.Fatalf("concurrent Load decoded %q wrongly", fen)
	}
}
