package yaml

import (
	"fmt"
	"io"
	"slices"

	"github.com/goccy/go-yaml"
)

// DefaultEncoderOptions are applied by [NewEncoder] and [Marshal].
var DefaultEncoderOptions = []yaml.EncodeOption{
	yaml.Indent(2),
	yaml.IndentSequence(true),
	yaml.UseLiteralStyleIfMultiline(true),
}

// Encoder writes YAML documents to an output stream.
type Encoder struct {
	e *yaml.Encoder
}

// NewEncoder creates a new [Encoder] writing to w.
func NewEncoder(w io.Writer, opts ...yaml.EncodeOption) *Encoder {
	return &Encoder{
		e: yaml.NewEncoder(w, slices.Concat(DefaultEncoderOptions, opts)...),
	}
}

// Encode writes v as a YAML document.
func (e *Encoder) Encode(v any) error {
	err := e.e.Encode(v)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	return nil
}

// Close flushes the encoder.
func (e *Encoder) Close() error {
	err := e.e.Close()
	if err != nil {
		return fmt.Errorf("close yaml encoder: %w", err)
	}

	return nil
}

// Marshal encodes v as YAML.
func Marshal(v any, opts ...yaml.EncodeOption) ([]byte, error) {
	data, err := yaml.MarshalWithOptions(v, slices.Concat(DefaultEncoderOptions, opts)...)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}

	return data, nil
}
