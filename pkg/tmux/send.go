package tmux

import (
	"context"
	"strings"
)

// Send types text into target and submits it with Enter.
//
// Single-line text goes through send-keys in literal mode. Text containing
// line breaks is loaded into a named buffer and pasted with bracketed paste
// (-p) so the receiving TUI sees one paste event instead of a series of
// submits; Enter follows only after PasteSettle has elapsed.
func (c *Client) Send(ctx context.Context, target, text string) error {
	if !strings.ContainsAny(text, "\r\n") {
		return c.sendLine(ctx, target, text)
	}

	buf := c.bufferName()
	if _, err := c.run(ctx, "set-buffer", "-b", buf, "--", text); err != nil {
		return err
	}
	if _, err := c.run(ctx, "paste-buffer", "-p", "-d", "-b", buf, "-t", target); err != nil {
		_, _ = c.run(ctx, "delete-buffer", "-b", buf)
		return err
	}

	settle := c.PasteSettle
	if settle <= 0 {
		settle = DefaultPasteSettle
	}
	if err := c.sleep(ctx, settle); err != nil {
		return err
	}

	_, err := c.run(ctx, "send-keys", "-t", target, "Enter")
	return err
}

func (c *Client) sendLine(ctx context.Context, target, text string) error {
	if text != "" {
		if _, err := c.run(ctx, "send-keys", "-t", target, "-l", "--", text); err != nil {
			return err
		}
	}
	_, err := c.run(ctx, "send-keys", "-t", target, "Enter")
	return err
}
