package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"termwrap/internal/protocol"
)

const (
	writeWait = 10 * time.Second
	inputBuf  = 4096
)

// AttachOptions configures an interactive attachment.
type AttachOptions struct {
	// NoReplay starts at the live end of the stream instead of replaying
	// retained output.
	NoReplay bool
	// Resize, when set, forwards terminal size changes to the session.
	Resize <-chan protocol.ResizePayload
}

func (c *Client) wsURL(id string, opts AttachOptions) string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + sessionPath(id, "/ws")
	if opts.NoReplay {
		u.RawQuery = url.Values{"replay": {"false"}}.Encode()
	}
	return u.String()
}

// Attach streams the session's output to out and in to the session's input
// until the session exits, the connection drops, or ctx is done. It returns
// nil once the server reports the terminal closed.
//
// Reads from in are not interruptible; the goroutine reading it outlives
// Attach until its next Read returns.
func (c *Client) Attach(ctx context.Context, id string, in io.Reader, out io.Writer, opts AttachOptions) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(id, opts), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != 0 {
			apiErr := &APIError{Status: resp.StatusCode, Message: err.Error()}
			var e protocol.ErrorResponse
			if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
				apiErr.Code, apiErr.Message = e.Code, e.Error
			}
			return apiErr
		}
		return fmt.Errorf("attach %s: %w", id, err)
	}
	defer conn.Close()

	input := make(chan []byte, 16)
	if in != nil {
		go readInput(in, input)
	}

	g, ctx := errgroup.WithContext(ctx)
	closed := make(chan struct{})

	g.Go(func() error {
		defer close(closed)
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil ||
					websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("attach %s: %w", id, err)
			}
			switch typ {
			case websocket.BinaryMessage:
				if _, err := out.Write(data); err != nil {
					return err
				}
			case websocket.TextMessage:
				if string(data) == protocol.TerminalClosedMarker {
					return nil
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-closed:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil

			case <-ctx.Done():
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				// Unblocks the reader.
				conn.Close()
				return nil

			case data, ok := <-input:
				if !ok {
					input = nil
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					return fmt.Errorf("attach %s: %w", id, err)
				}

			case size := <-opts.Resize:
				msg, _ := protocol.NewMessage(protocol.TypeResize, size)
				raw, _ := json.Marshal(msg)
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					return fmt.Errorf("attach %s: %w", id, err)
				}
			}
		}
	})

	return g.Wait()
}

func readInput(in io.Reader, ch chan<- []byte) {
	defer close(ch)
	buf := make([]byte, inputBuf)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			ch <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			return
		}
	}
}
