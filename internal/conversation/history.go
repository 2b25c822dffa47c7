// Package conversation holds the turn-by-turn history exchanged with the
// model and persists it between CLI invocations.
package conversation

import "strings"

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates multimodal content parts.
type PartType string

const (
	PartText     PartType = "text"
	PartImageRef PartType = "image_ref"
)

// Part is one element of a multimodal turn. ImageRef is a file path; the
// bytes are read only when the turn is sent.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageRef string   `json:"image_ref,omitempty"`
}

// Turn is a single message. Content is either Text or Parts, never both.
type Turn struct {
	Role  Role   `json:"role"`
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// TextTurn builds a plain-text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Text: text}
}

// IsMultimodal reports whether the turn carries parts instead of text.
func (t Turn) IsMultimodal() bool { return len(t.Parts) > 0 }

// PlainText flattens the turn to text. Image parts become a bracketed
// placeholder naming the file.
func (t Turn) PlainText() string {
	if !t.IsMultimodal() {
		return t.Text
	}
	var sb strings.Builder
	for i, p := range t.Parts {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch p.Type {
		case PartImageRef:
			sb.WriteString("[image: " + p.ImageRef + "]")
		default:
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func (t Turn) clone() Turn {
	if t.Parts != nil {
		t.Parts = append([]Part(nil), t.Parts...)
	}
	return t
}

// History is an ordered list of turns. Values are treated as immutable:
// Append never writes into the receiver's backing array.
type History []Turn

// Append returns a new history holding h followed by turns.
func (h History) Append(turns ...Turn) History {
	out := make(History, 0, len(h)+len(turns))
	for _, t := range h {
		out = append(out, t.clone())
	}
	for _, t := range turns {
		out = append(out, t.clone())
	}
	return out
}

// Clone returns a deep copy of h.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	return h.Append()
}

// Last returns the final turn, if any.
func (h History) Last() (Turn, bool) {
	if len(h) == 0 {
		return Turn{}, false
	}
	return h[len(h)-1], true
}
