package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"llmrelay/internal/domain"
)

// maxSSELine bounds a single SSE line; large tool-call argument chunks fit
// comfortably below this.
const maxSSELine = 1024 * 1024

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into zero or more StreamEvents using the provider-specific decode
// function. The returned channel carries exactly one terminal event (Done
// or Error) and is then closed; the body is closed when the goroutine
// exits, releasing the transport.
func parseSSEStream(ctx context.Context, body io.ReadCloser, decode func(data []byte) ([]domain.StreamEvent, error)) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		terminal := false
		emit := func(evt domain.StreamEvent) bool {
			if terminal {
				return false
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				terminal = true
				return false
			}
			if evt.Terminal() {
				terminal = true
			}
			return true
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				emit(domain.ErrorEvent(domain.WrapOp("stream", ctx.Err())))
				return
			default:
			}

			line := scanner.Bytes()

			// Skip empty lines and comments. "event:" lines are redundant
			// with the type field inside the data payload for every vendor
			// we speak to.
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

			// Common termination signal.
			if bytes.Equal(data, []byte("[DONE]")) {
				emit(domain.DoneEvent("stop"))
				return
			}

			events, err := decode(data)
			if err != nil {
				// Skip unparseable lines.
				continue
			}
			for _, evt := range events {
				if !emit(evt) {
					return
				}
				if evt.Terminal() {
					return
				}
			}
		}

		// Stream ended without an explicit terminator. An I/O error is a
		// terminal stream error; clean EOF is a vendor-side close.
		if !terminal {
			if err := scanner.Err(); err != nil {
				emit(domain.ErrorEvent(domain.WrapOp("stream read", err)))
			} else {
				emit(domain.DoneEvent("stop"))
			}
		}
	}()
	return ch
}
