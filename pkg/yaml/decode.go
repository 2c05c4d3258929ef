// Package yaml wraps [github.com/goccy/go-yaml] with the decoding options,
// error reporting, merging and schema validation used for watchdo
// configuration files.
package yaml

import (
	"errors"
	"io"
	"slices"

	"github.com/goccy/go-yaml"
)

// DefaultDecoderOptions are applied by [NewDecoder] and [Unmarshal].
var DefaultDecoderOptions = []yaml.DecodeOption{
	yaml.AllowDuplicateMapKey(),
}

// Decoder reads YAML documents from an input stream.
type Decoder struct {
	d *yaml.Decoder
}

// NewDecoder creates a new [Decoder] reading from r.
func NewDecoder(r io.Reader, opts ...yaml.DecodeOption) *Decoder {
	return &Decoder{
		d: yaml.NewDecoder(r, slices.Concat(DefaultDecoderOptions, opts)...),
	}
}

// Decode reads the next document into v. Syntax and type errors are returned
// as [*Error], carrying the offending token.
func (d *Decoder) Decode(v any) error {
	return wrapDecodeError(d.d.Decode(v))
}

// Unmarshal decodes data into v. On failure, the returned [*Error] includes
// data as its source.
func Unmarshal(data []byte, v any, opts ...yaml.DecodeOption) error {
	err := yaml.UnmarshalWithOptions(data, v, slices.Concat(DefaultDecoderOptions, opts)...)
	if err == nil {
		return nil
	}

	err = wrapDecodeError(err)

	var yamlErr *Error
	if errors.As(err, &yamlErr) {
		yamlErr.Source = data
	}

	return err
}

func wrapDecodeError(err error) error {
	if err == nil {
		return nil
	}

	var yamlErr yaml.Error
	if errors.As(err, &yamlErr) {
		return NewError(errors.New(yamlErr.GetMessage()), WithToken(yamlErr.GetToken()))
	}

	//nolint:wrapcheck // Return the original error if it's not a [yaml.Error].
	return err
}
