package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"termwrap/internal/protocol"
)

const DefaultPollInterval = 100 * time.Millisecond

// WaitForText polls the session's plain-text transcript until it contains
// text. It gives up when ctx is done.
func (c *Client) WaitForText(ctx context.Context, id, text string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		got, err := c.Text(ctx, id, protocol.SourceOutput)
		if err != nil {
			return err
		}
		if strings.Contains(got, text) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %q: %w", text, ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitForQuiet waits until the session has produced no new output for
// quiet. It does not advance the read cursor.
func (c *Client) WaitForQuiet(ctx context.Context, id string, quiet, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if interval > quiet && quiet > 0 {
		interval = quiet
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last, err := c.Output(ctx, id, false)
	if err != nil {
		return err
	}
	since := time.Now()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s of quiet: %w", quiet, ctx.Err())
		case now := <-ticker.C:
			cur, err := c.Output(ctx, id, false)
			if err != nil {
				return err
			}
			if !bytes.Equal(cur, last) {
				last, since = cur, now
				continue
			}
			if now.Sub(since) >= quiet {
				return nil
			}
		}
	}
}
