// ABOUTME: Chunk is the unit the chat coordinator hands to its output sink
// ABOUTME: Encode renders a chunk as one Server-Sent Events frame

package stream

import (
	"encoding/json"
	"fmt"

	"github.com/2389/sourcing-gateway/internal/progress"
)

// Kind distinguishes the four chunk variants.
type Kind string

const (
	KindContent  Kind = "content"
	KindProgress Kind = "progress"
	KindError    Kind = "error"
	KindDone     Kind = "done"
)

// doneFrame terminates every stream.
const doneFrame = "data: [DONE]\n\n"

// Chunk is one item of a chat stream. Exactly one field is meaningful per Kind.
type Chunk struct {
	Kind     Kind
	Text     string
	Progress *progress.Event
	Error    string
}

// Content is a piece of answer text.
func Content(text string) Chunk { return Chunk{Kind: KindContent, Text: text} }

// Progress carries one tool progress event.
func Progress(ev progress.Event) Chunk { return Chunk{Kind: KindProgress, Progress: &ev} }

// Error reports a failure the client should show.
func Error(msg string) Chunk { return Chunk{Kind: KindError, Error: msg} }

// Done marks the end of the stream.
func Done() Chunk { return Chunk{Kind: KindDone} }

type contentPayload struct {
	Content string `json:"content"`
}

type progressPayload struct {
	Progress *progress.Event `json:"progress"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Encode renders a chunk as an SSE "data:" frame terminated by a blank line.
// It is pure; the same chunk always encodes to the same bytes.
func Encode(c Chunk) ([]byte, error) {
	var payload any
	switch c.Kind {
	case KindContent:
		payload = contentPayload{Content: c.Text}
	case KindProgress:
		if c.Progress == nil {
			return nil, fmt.Errorf("progress chunk without event")
		}
		payload = progressPayload{Progress: c.Progress}
	case KindError:
		payload = errorPayload{Error: c.Error}
	case KindDone:
		return []byte(doneFrame), nil
	default:
		return nil, fmt.Errorf("unknown chunk kind %q", c.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s chunk: %w", c.Kind, err)
	}

	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
