package core

import (
	"encoding/json"
	"strings"
)

// geminiFormat renders the GenerateContent Content shape: role user|model and
// a list of parts holding text, functionCall or functionResponse.
type geminiFormat struct{}

type geminiFunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
	Ext   *extension   `json:"meepo,omitempty"`
}

func (geminiFormat) Encode(m Message) (json.RawMessage, error) {
	out := geminiContent{Parts: []geminiPart{}}

	switch m.Role {
	case RoleAssistant:
		out.Role = "model"
	case RoleTool:
		out.Role = string(RoleUser)
	default:
		out.Role = string(m.Role)
	}

	if m.Role == RoleTool {
		out.Parts = append(out.Parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
			ID:       m.ToolCallID,
			Name:     m.Name,
			Response: map[string]any{"output": m.Content},
		}})
	} else {
		if m.Content != "" {
			out.Parts = append(out.Parts, geminiPart{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			out.Parts = append(out.Parts, geminiPart{FunctionCall: &geminiFunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments}})
		}
	}

	ext, err := newExtension(m.Name, m)
	if err != nil {
		return nil, err
	}
	out.Ext = ext

	return EncodeJSON(out)
}

func (geminiFormat) Decode(raw json.RawMessage) (Message, error) {
	var in geminiContent
	ext, err := splitObject(raw, &in)
	if err != nil {
		return Message{}, err
	}

	m := Message{Role: Role(in.Role)}
	if in.Role == "model" {
		m.Role = RoleAssistant
	}

	var text strings.Builder
	for _, p := range in.Parts {
		switch {
		case p.FunctionCall != nil:
			m.ToolCalls = append(m.ToolCalls, ToolCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Arguments: p.FunctionCall.Args})
		case p.FunctionResponse != nil:
			m.Role = RoleTool
			m.ToolCallID = p.FunctionResponse.ID
			m.Name = p.FunctionResponse.Name
			if out, ok := p.FunctionResponse.Response["output"].(string); ok {
				text.WriteString(out)
			} else if len(p.FunctionResponse.Response) > 0 {
				b, err := EncodeJSON(p.FunctionResponse.Response)
				if err != nil {
					return Message{}, err
				}
				text.Write(b)
			}
		default:
			text.WriteString(p.Text)
		}
	}
	m.Content = text.String()

	if err := ext.apply(&m); err != nil {
		return Message{}, err
	}

	return m, nil
}
