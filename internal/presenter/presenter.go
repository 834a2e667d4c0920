package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Presenter writes formatted lines to the terminal. Safe for concurrent use
// since pushes arrive on transport goroutines.
type Presenter struct {
	mu  sync.Mutex
	out io.Writer
	*Formatter
}

func New(out io.Writer, f *Formatter) *Presenter {
	return &Presenter{out: out, Formatter: f}
}

func (p *Presenter) Print(text string) {
	if p == nil || strings.TrimSpace(text) == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, text)
}
