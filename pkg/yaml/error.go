package yaml

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-yaml"
	"github.com/goccy/go-yaml/printer"
	"github.com/goccy/go-yaml/token"
)

// Error is a YAML error tied to a location in a document, given either as the
// offending [*token.Token] or as a [*yaml.Path] into Source.
type Error struct {
	Err    error
	Path   *yaml.Path
	Token  *token.Token
	File   string
	Source []byte
	Color  bool
}

// ErrorOpt configures an [Error].
type ErrorOpt func(e *Error)

// NewError creates a new [*Error] wrapping err.
func NewError(err error, opts ...ErrorOpt) *Error {
	e := &Error{Err: err}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// WithPath sets the path of the offending node.
func WithPath(path *yaml.Path) ErrorOpt {
	return func(e *Error) {
		e.Path = path
	}
}

// WithToken sets the offending token.
func WithToken(tk *token.Token) ErrorOpt {
	return func(e *Error) {
		e.Token = tk
	}
}

// WithFile sets the name of the file the error occurred in.
func WithFile(name string) ErrorOpt {
	return func(e *Error) {
		e.File = name
	}
}

// WithSource sets the document source, used to annotate path errors.
func WithSource(source []byte) ErrorOpt {
	return func(e *Error) {
		e.Source = source
	}
}

// WithColor enables colored source annotations.
func WithColor(color bool) ErrorOpt {
	return func(e *Error) {
		e.Color = color
	}
}

// Annotate applies opts if err is (or wraps) an [*Error], and returns err.
func Annotate(err error, opts ...ErrorOpt) error {
	var yamlErr *Error
	if errors.As(err, &yamlErr) {
		for _, opt := range opts {
			opt(yamlErr)
		}
	}

	return err
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	if e.Err == nil {
		return ""
	}

	var msg strings.Builder

	if e.File != "" {
		msg.WriteString(e.File + ": ")
	}

	var excerpt string

	switch {
	case e.Token != nil:
		fmt.Fprintf(&msg, "[%d:%d] %v", e.Token.Position.Line, e.Token.Position.Column, e.Err)

		var pp printer.Printer
		excerpt = pp.PrintErrorToken(e.Token, e.Color)

	case e.Path != nil:
		fmt.Fprintf(&msg, "at %s: %v", e.Path, e.Err)

		if len(e.Source) > 0 {
			annotated, err := e.Path.AnnotateSource(e.Source, e.Color)
			if err == nil {
				excerpt = string(annotated)
			}
		}

	default:
		msg.WriteString(e.Err.Error())
	}

	if excerpt != "" {
		msg.WriteString("\n")
		msg.WriteString(lipgloss.NewStyle().PaddingTop(1).Render(excerpt))
	}

	return msg.String()
}

// NewPathBuilder returns a builder for [*yaml.Path] values.
func NewPathBuilder() *yaml.PathBuilder {
	return &yaml.PathBuilder{}
}
