// Package encoding selects a chunk encoder implementation at capture start,
// falling through an ordered list of formats until one can be constructed on
// this platform.
package encoding

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// ErrNoEncoder is returned when every registered format fails to construct.
var ErrNoEncoder = errors.New("no usable encoder format")

// entry pairs a format name with its factory.
type entry struct {
	format  audio.Format
	factory audio.EncoderFactory
}

// Chain is an ordered encoder-format fallback. The first registered format is
// preferred; later ones are tried only when earlier factories fail, typically
// with [audio.ErrFormatUnsupported] for an unavailable codec or sample rate.
//
// Registration is expected to happen during startup; New may be called from
// any goroutine afterwards.
type Chain struct {
	entries []entry
}

// NewChain creates an empty fallback chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register appends a format to the chain. Formats are tried in registration
// order.
func (c *Chain) Register(format audio.Format, factory audio.EncoderFactory) {
	c.entries = append(c.entries, entry{format: format, factory: factory})
}

// Formats returns the registered formats in fallback order.
func (c *Chain) Formats() []audio.Format {
	out := make([]audio.Format, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.format
	}
	return out
}

// New constructs an encoder for cfg from the first format whose factory
// succeeds, returning the encoder and the format that won. Returns
// [ErrNoEncoder] wrapped with the last failure when every format fails.
func (c *Chain) New(cfg audio.EncoderConfig) (audio.ChunkEncoder, audio.Format, error) {
	if len(c.entries) == 0 {
		return nil, "", fmt.Errorf("encoding: %w: empty chain", ErrNoEncoder)
	}

	var lastErr error
	for _, e := range c.entries {
		enc, err := e.factory(cfg)
		if err == nil {
			if e.format != c.entries[0].format {
				slog.Info("encoding: preferred format unavailable, using fallback",
					"preferred", c.entries[0].format, "format", e.format)
			}
			return enc, e.format, nil
		}
		lastErr = err
		slog.Warn("encoding: format unavailable, trying next",
			"format", e.format, "error", err)
	}
	return nil, "", fmt.Errorf("encoding: %w: %v", ErrNoEncoder, lastErr)
}
