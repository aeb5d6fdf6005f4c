package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"cardsync/internal/services"
)

// progressRenderer prints services.Progress updates on a single terminal
// line. Non-terminal writers receive nothing, so piped output stays clean.
type progressRenderer struct {
	ch   chan services.Progress
	out  io.Writer
	wg   sync.WaitGroup
	live bool
}

func startProgress(out io.Writer) *progressRenderer {
	r := &progressRenderer{out: out, live: isTerminal(out)}
	if !r.live {
		return r
	}
	r.ch = make(chan services.Progress, 16)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for p := range r.ch {
			fmt.Fprintf(r.out, "\r\x1b[K%s", formatProgress(p))
		}
	}()
	return r
}

// Channel returns the send side handed to engine operations; nil when the
// writer is not a terminal.
func (r *progressRenderer) Channel() chan<- services.Progress {
	if r.ch == nil {
		return nil
	}
	return r.ch
}

// Stop must only be called once the operation that received Channel has
// returned.
func (r *progressRenderer) Stop() {
	if r.ch == nil {
		return
	}
	close(r.ch)
	r.wg.Wait()
	fmt.Fprintln(r.out)
}

func formatProgress(p services.Progress) string {
	parts := []string{fmt.Sprintf("[%s]", p.Stage)}
	if p.Item != "" {
		parts = append(parts, filepath.Base(p.Item))
	}
	if p.Percent >= 0 {
		parts = append(parts, fmt.Sprintf("%3.0f%%", p.Percent))
	}
	if p.Message != "" {
		parts = append(parts, p.Message)
	}
	return strings.Join(parts, " ")
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
