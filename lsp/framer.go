package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"
)

// MessageKind classifies a decoded JSON-RPC message. The classification is
// decided once at decode time so downstream dispatch never re-probes the
// message shape.
type MessageKind int

const (
	// KindResponse is a reply to a request this client sent.
	KindResponse MessageKind = iota
	// KindNotification is a server-to-client notification (no id).
	KindNotification
	// KindServerRequest is a server-initiated request that expects a reply.
	KindServerRequest
)

// Message is one decoded JSON-RPC message from the server.
type Message struct {
	Kind MessageKind

	// ID is the request id for KindResponse (an id this client assigned).
	ID int64

	// RawID preserves the server's id verbatim for KindServerRequest so the
	// reply can echo it regardless of its JSON type.
	RawID json.RawMessage

	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError
}

const (
	headerToken = "Content-Length:"
	sepCRLF     = "\r\n\r\n"
	sepLF       = "\n\n"
)

var contentLengthPattern = regexp.MustCompile(`Content-Length:\s*(\d+)`)

// messageEnvelope is the shape probe used once per frame.
type messageEnvelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// DecodeMessage incrementally decodes one complete JSON-RPC message from an
// append-only receive buffer. It returns the decoded message and the
// remaining buffer, or (nil, buf) when more bytes are needed. Partial
// trailing data is never discarded; frames with malformed JSON bodies are
// consumed and skipped so one corrupt frame cannot wedge the connection.
func DecodeMessage(buf []byte) (*Message, []byte) {
	for {
		start := bytes.Index(buf, []byte(headerToken))
		if start < 0 {
			// Header not arrived yet. Keep a tail in case the token itself is
			// split across reads.
			return nil, buf
		}
		if start > 0 {
			// Unexpected preamble before the header (e.g. stray logging on
			// stdout). Skip it.
			buf = buf[start:]
		}

		sep := []byte(sepCRLF)
		sepIdx := bytes.Index(buf, sep)
		if sepIdx < 0 {
			sep = []byte(sepLF)
			sepIdx = bytes.Index(buf, sep)
		}
		if sepIdx < 0 {
			return nil, buf
		}

		header := buf[:sepIdx]
		match := contentLengthPattern.FindSubmatch(header)
		if match == nil {
			// Malformed length header. Do not consume anything; a later flush
			// may complete it, otherwise the request times out downstream.
			return nil, buf
		}
		length, err := strconv.Atoi(string(match[1]))
		if err != nil {
			return nil, buf
		}

		bodyStart := sepIdx + len(sep)
		if len(buf) < bodyStart+length {
			return nil, buf
		}

		body := buf[bodyStart : bodyStart+length]
		rest := buf[bodyStart+length:]

		msg, err := classifyMessage(body)
		if err != nil {
			logger.Warn(fmt.Sprintf("Dropping malformed JSON-RPC frame (%d bytes): %v", length, err))
			buf = rest
			continue
		}
		return msg, rest
	}
}

// classifyMessage parses a frame body and assigns its MessageKind.
func classifyMessage(body []byte) (*Message, error) {
	var env messageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	switch {
	case env.Method != "" && len(env.ID) == 0:
		return &Message{
			Kind:   KindNotification,
			Method: env.Method,
			Params: env.Params,
		}, nil

	case env.Method != "" && len(env.ID) > 0:
		return &Message{
			Kind:   KindServerRequest,
			RawID:  env.ID,
			Method: env.Method,
			Params: env.Params,
		}, nil

	default:
		id, err := strconv.ParseInt(string(bytes.TrimSpace(env.ID)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("response with non-numeric id %s", env.ID)
		}
		return &Message{
			Kind:   KindResponse,
			ID:     id,
			Result: env.Result,
			Error:  env.Error,
		}, nil
	}
}

// EncodeMessage frames a JSON-RPC payload with a Content-Length header.
func EncodeMessage(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Content-Length: %d\r\n\r\n", len(body))
	out.Write(body)
	return out.Bytes(), nil
}
