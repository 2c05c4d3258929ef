package cli

import (
	"fmt"
	"io"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/muesli/termenv"
)

const chromaStyle = "catppuccin-mocha"

// highlightYAML writes content to w, highlighted for profile.
func highlightYAML(w io.Writer, content string, profile termenv.Profile) error {
	if profile == termenv.Ascii {
		_, err := io.WriteString(w, content)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}

		return nil
	}

	lexer := chroma.Coalesce(lexers.Get("YAML"))

	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return fmt.Errorf("lexer tokenize: %w", err)
	}

	err = formatters.Get(formatterName(profile)).Format(w, styles.Get(chromaStyle), iterator)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}

	return nil
}

func formatterName(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal8"
	case termenv.Ascii:
	}

	return "noop"
}
