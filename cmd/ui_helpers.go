// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"atomicgo.dev/cursor"
	"github.com/pterm/pterm"

	"remotesql/cli/internal/blob"
	"remotesql/cli/internal/terminal"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

const spinnerInterval = 120 * time.Millisecond

// startInlineSpinner starts a simple inline spinner animation on a single line.
// It displays rotating animation frames followed by the provided text, updating
// the same line in the terminal. The spinner runs in a separate goroutine and
// can be stopped by calling the returned function, which clears the line.
//
// Nothing is drawn when the output is not a terminal.
func startInlineSpinner(w io.Writer, text string, frames []string, interval time.Duration) func() {
	if !terminal.IsInteractive() {
		return func() {}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		i := 0
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				line := fmt.Sprintf("%s %s", frames[i%len(frames)], text)
				fmt.Fprintf(w, "\r%*s\r", len(line), "")
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %s", frames[i%len(frames)], text)
				i++
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

// progressBar renders blob transfer progress as a pterm bar.
// It implements blob.ProgressSink; reports may arrive from another goroutine.
type progressBar struct {
	mu      sync.Mutex
	bar     *pterm.ProgressbarPrinter
	current int
}

// startProgressBar hides the cursor and shows a 0-100 bar titled title.
// It returns nil when the output is not a terminal.
func startProgressBar(title string) *progressBar {
	if !terminal.IsInteractive() {
		return nil
	}

	cursor.Hide()
	bar, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle(title).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		cursor.Show()
		return nil
	}
	return &progressBar{bar: bar}
}

// Report implements blob.ProgressSink.
func (p *progressBar) Report(percent int) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if percent > p.current {
		p.bar.Add(percent - p.current)
		p.current = percent
	}
}

// Stop removes the bar and restores the cursor.
func (p *progressBar) Stop() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.bar.Stop()
	cursor.Show()
}

// sink returns p as a progress sink, or nil when no bar is shown.
func (p *progressBar) sink() blob.ProgressSink {
	if p == nil {
		return nil
	}
	return p
}
