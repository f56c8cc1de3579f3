// Package logstream receives the log lines uWSGI pushes out of leaves and
// out of the emperor.
package logstream

import (
	"context"
	"strings"
)

// Handler receives one batch of raw lines.
type Handler func(lines []string)

// Source is a push style log transport.
type Source interface {
	// Target is the uWSGI logger spec that ships lines to this source.
	Target() string
	// Run delivers batches to h until ctx is done.
	Run(ctx context.Context, h Handler) error
}

func splitLines(payload string) []string {
	return strings.Split(strings.TrimRight(payload, "\r\n"), "\n")
}
