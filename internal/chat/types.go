// Package chat models the OpenAI chat-completions wire shape as seen by the
// proxy.
//
// The proxy must forward unknown top-level fields unchanged, so a request is
// never decoded into a rigid struct: the raw body is retained and mutated
// surgically with gjson/sjson. Only the fields the pipeline reasons about
// (model, messages, stream) are lifted into Go values.
package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Roles recognised in a chat body.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// KnownRole reports whether role is one of system, user, or assistant.
func KnownRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a parsed chat-completions request. The original body bytes are
// retained so that top-level fields the proxy does not understand survive the
// round trip to the upstream untouched.
type Request struct {
	// Model is the requested model name.
	Model string

	// Messages is the inbound conversation in request order.
	Messages []Message

	// Stream records whether the client asked for a streamed response.
	// The proxy always forwards stream=false.
	Stream bool

	raw []byte
}

// ParseRequest validates body as a chat-completions request and lifts the
// fields the pipeline needs. It enforces: valid JSON object, a string model
// field, a non-empty messages array, a known role and string content on every
// message.
func ParseRequest(body []byte) (*Request, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("chat: body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errors.New("chat: body must be a JSON object")
	}

	model := root.Get("model")
	if model.Type != gjson.String || model.Str == "" {
		return nil, errors.New("chat: missing or non-string model field")
	}

	rawMsgs := root.Get("messages")
	if !rawMsgs.IsArray() {
		return nil, errors.New("chat: missing messages array")
	}
	arr := rawMsgs.Array()
	if len(arr) == 0 {
		return nil, errors.New("chat: messages array is empty")
	}

	msgs := make([]Message, 0, len(arr))
	for i, m := range arr {
		role := m.Get("role")
		content := m.Get("content")
		if role.Type != gjson.String || !KnownRole(role.Str) {
			return nil, fmt.Errorf("chat: message %d has unknown role %q", i, role.Str)
		}
		if content.Type != gjson.String {
			return nil, fmt.Errorf("chat: message %d content must be a string", i)
		}
		msgs = append(msgs, Message{Role: role.Str, Content: content.Str})
	}

	return &Request{
		Model:    model.Str,
		Messages: msgs,
		Stream:   root.Get("stream").Bool(),
		raw:      body,
	}, nil
}

// Last returns the final message of the request.
func (r *Request) Last() Message {
	return r.Messages[len(r.Messages)-1]
}

// BuildBody renders the forwarded request body: the original bytes with the
// messages array replaced by msgs and any stream flag removed. Every other
// top-level field passes through byte-for-byte.
func (r *Request) BuildBody(msgs []Message) ([]byte, error) {
	body, err := sjson.SetBytes(r.raw, "messages", msgs)
	if err != nil {
		return nil, fmt.Errorf("chat: set messages: %w", err)
	}
	if gjson.GetBytes(body, "stream").Exists() {
		body, err = sjson.DeleteBytes(body, "stream")
		if err != nil {
			return nil, fmt.Errorf("chat: strip stream: %w", err)
		}
	}
	return body, nil
}

// noteLine renders a message as a single transcript line for folding into a
// system preamble.
func noteLine(m Message) string {
	switch m.Role {
	case RoleUser:
		return "User: " + m.Content
	case RoleAssistant:
		return "Assistant: " + m.Content
	case RoleSystem:
		return "System Note: " + m.Content
	default:
		return m.Role + ": " + m.Content
	}
}

// CompressSystemContext folds interior system messages into the leading
// system message so the forwarded body carries at most one system turn at the
// front. Upstreams that insist on system-first bodies then accept prompts
// whose enrichment block contains system notes.
//
// When the first message is not a system message, or there is nothing to
// fold, the input is returned unchanged.
func CompressSystemContext(messages []Message) []Message {
	first, last := -1, -1
	for i, m := range messages {
		if m.Role == RoleSystem {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first != 0 || first == last {
		return messages
	}

	var b strings.Builder
	b.WriteString(messages[0].Content)
	for _, m := range messages[1 : last+1] {
		b.WriteString("\n")
		b.WriteString(noteLine(m))
	}

	out := make([]Message, 0, len(messages)-last)
	out = append(out, Message{Role: RoleSystem, Content: b.String()})
	out = append(out, messages[last+1:]...)
	return out
}
