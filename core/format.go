package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Format converts canonical messages to and from one provider's message JSON.
// Implementations must be pure: Encode followed by Decode yields the input.
type Format interface {
	Encode(m Message) (json.RawMessage, error)
	Decode(raw json.RawMessage) (Message, error)
}

var formats = struct {
	sync.RWMutex
	m map[string]Format
}{m: map[string]Format{}}

func init() {
	RegisterFormat("openai", openAIFormat{})
	RegisterFormat("openrouter", openAIFormat{})
	RegisterFormat("anthropic", anthropicFormat{})
	RegisterFormat("gemini", geminiFormat{})
	RegisterFormat("ollama", ollamaFormat{})
}

// RegisterFormat adds or replaces the codec for a provider tag.
func RegisterFormat(tag string, f Format) {
	formats.Lock()
	defer formats.Unlock()
	formats.m[tag] = f
}

// FormatTags lists the registered provider tags in sorted order.
func FormatTags() []string {
	formats.RLock()
	defer formats.RUnlock()
	tags := make([]string, 0, len(formats.m))
	for t := range formats.m {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func lookupFormat(tag string) (Format, bool) {
	formats.RLock()
	defer formats.RUnlock()
	f, ok := formats.m[tag]
	return f, ok
}

// ToProviderFormat renders m in the message shape of the given provider.
// Metadata carrying another registered provider's prefix is dropped.
func ToProviderFormat(tag string, m Message) (json.RawMessage, error) {
	f, ok := lookupFormat(tag)
	if !ok {
		return nil, UnsupportedFormat(tag)
	}
	n, err := m.Normalized()
	if err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	n.Metadata = filterForeignMetadata(tag, n.Metadata)
	return f.Encode(n)
}

// FromProviderFormat parses a provider message into canonical form.
func FromProviderFormat(tag string, raw json.RawMessage) (Message, error) {
	f, ok := lookupFormat(tag)
	if !ok {
		return Message{}, UnsupportedFormat(tag)
	}
	m, err := f.Decode(raw)
	if err != nil {
		return Message{}, err
	}
	m, err = m.Normalized()
	if err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ToProviderMessages renders a transcript, failing on the first bad message.
func ToProviderMessages(tag string, msgs []Message) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(msgs))
	for i, m := range msgs {
		raw, err := ToProviderFormat(tag, m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func filterForeignMetadata(tag string, md Metadata) Metadata {
	if len(md) == 0 {
		return nil
	}
	tags := FormatTags()
	out := make(Metadata, len(md))
	for k, v := range md {
		if foreign(k, tag, tags) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func foreign(key, tag string, tags []string) bool {
	for _, t := range tags {
		if t != tag && strings.HasPrefix(key, t+".") {
			return true
		}
	}
	return false
}

// extension carries the canonical fields a provider shape has no slot for.
type extension struct {
	Name     string                     `json:"name,omitempty"`
	Data     json.RawMessage            `json:"data,omitempty"`
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

const extensionKey = "meepo"

func newExtension(name string, m Message) (*extension, error) {
	md, err := encodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	ext := &extension{Name: name, Data: m.Data, Metadata: md}
	if ext.Name == "" && len(ext.Data) == 0 && len(ext.Metadata) == 0 {
		return nil, nil
	}
	return ext, nil
}

func (e *extension) apply(m *Message) error {
	if e == nil {
		return nil
	}
	if e.Name != "" {
		m.Name = e.Name
	}
	if len(e.Data) > 0 {
		m.Data = e.Data
	}
	md, err := decodeMetadata(e.Metadata)
	if err != nil {
		return err
	}
	m.Metadata = md
	return nil
}

// encodeMetadata writes scalars so that decodeMetadata restores the exact Go
// type: floats always carry a fraction or exponent, integers never do.
func encodeMetadata(md Metadata) (map[string]json.RawMessage, error) {
	if len(md) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(md))
	for k, v := range md {
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, NewError(KindInvalidMessage, "metadata", fmt.Sprintf("%q is not a finite number", k), nil)
			}
			s := strconv.FormatFloat(n, 'g', -1, 64)
			if !strings.ContainsAny(s, ".eE") {
				s += ".0"
			}
			out[k] = json.RawMessage(s)
		case int64:
			out[k] = json.RawMessage(strconv.FormatInt(n, 10))
		default:
			b, err := EncodeJSON(v)
			if err != nil {
				return nil, NewError(KindInvalidMessage, "metadata", fmt.Sprintf("%q cannot be encoded", k), err)
			}
			out[k] = b
		}
	}
	return out, nil
}

func decodeMetadata(raw map[string]json.RawMessage) (Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(Metadata, len(raw))
	for k, r := range raw {
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, NewError(KindInvalidMessage, "metadata", fmt.Sprintf("%q cannot be decoded", k), err)
		}
		if num, ok := v.(json.Number); ok {
			s := num.String()
			if strings.ContainsAny(s, ".eE") {
				f, err := num.Float64()
				if err != nil {
					return nil, NewError(KindInvalidMessage, "metadata", fmt.Sprintf("%q is not a float", k), err)
				}
				v = f
			} else {
				i, err := num.Int64()
				if err != nil {
					return nil, NewError(KindInvalidMessage, "metadata", fmt.Sprintf("%q is not an integer", k), err)
				}
				v = i
			}
		}
		if !isScalar(v) {
			return nil, NewError(KindInvalidMessage, "metadata", fmt.Sprintf("%q is not a scalar", k), nil)
		}
		out[k] = v
	}
	return out, nil
}

// splitObject decodes a provider message into its known fields and the
// optional extension block.
func splitObject(raw json.RawMessage, into any) (*extension, error) {
	if err := json.Unmarshal(raw, into); err != nil {
		return nil, NewError(KindInvalidMessage, "format", "malformed provider message", err)
	}
	var wrapper struct {
		Ext *extension `json:"meepo"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, NewError(KindInvalidMessage, "format", "malformed extension block", err)
	}
	return wrapper.Ext, nil
}

// textOf accepts either a JSON string or an array of {"type":"text","text":...}
// parts, the two shapes chat APIs use for message content.
func textOf(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}
