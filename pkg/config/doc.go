// Package config loads watchdo configuration files.
//
// Configuration is read from watchdo.yaml in the current directory, then from
// every overlay file given on the command line, then from every file named in
// an include list. All documents are deep-merged, validated against the
// generated JSON schema and normalized into [task.Descriptor] values.
//
// Normalization has side effects: the work directory is recreated, and each
// task's work directory and relative watch directories are created.
package config

//go:generate go run ../../internal/schemagen/main.go -o ../../watchdo.schema.json
