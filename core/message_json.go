package core

import "encoding/json"

type messageAlias Message

type messageJSON struct {
	messageAlias
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON encodes the message with metadata numbers kept distinguishable:
// floats always carry a fraction or exponent.
func (m Message) MarshalJSON() ([]byte, error) {
	md, err := encodeMetadata(m.Metadata)
	if err != nil {
		return nil, err
	}
	return EncodeJSON(messageJSON{messageAlias: messageAlias(m), Metadata: md})
}

// UnmarshalJSON decodes a message written by MarshalJSON. Integral metadata
// numbers become int64, all others float64.
func (m *Message) UnmarshalJSON(raw []byte) error {
	var w messageJSON
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	md, err := decodeMetadata(w.Metadata)
	if err != nil {
		return err
	}
	*m = Message(w.messageAlias)
	m.Metadata = md
	return nil
}
