// Package terminal provides the password prompt and helpers to tidy up after it.
package terminal

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ClearPreviousLines erases the prompt of textLength characters written to stderr,
// plus the empty line the cursor moved to when Enter was pressed.
func ClearPreviousLines(textLength int) {
	width := 80
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 {
		width = w
	}
	clearLines(os.Stderr, linesUsed(textLength, width)+1)
}

// linesUsed returns how many terminal rows n characters wrap to.
func linesUsed(n, width int) int {
	if n <= 0 || width <= 0 {
		return 1
	}
	return (n + width - 1) / width
}

func clearLines(w io.Writer, n int) {
	for i := 0; i < n; i++ {
		fmt.Fprint(w, "\r\x1b[2K")
		if i < n-1 {
			fmt.Fprint(w, "\x1b[1A")
		}
	}
}
