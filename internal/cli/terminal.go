package cli

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const defaultWidth = 80

// isTerminal reports whether w writes to a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of the terminal w writes to, or
// [defaultWidth] when w is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}

	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}

	return width
}

// colorProfile returns the color profile of w, honoring NO_COLOR and
// CLICOLOR_FORCE. Writers that are not terminals get [termenv.Ascii].
func colorProfile(w io.Writer) termenv.Profile {
	if !isTerminal(w) {
		return termenv.Ascii
	}

	return termenv.NewOutput(w).EnvColorProfile()
}
