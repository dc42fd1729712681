package chat

import (
	"encoding/json"
	"time"
)

// TurnType identifies who authored a turn.
type TurnType string

const (
	TypeUser      TurnType = "user"
	TypeAssistant TurnType = "assistant"
	TypeWhois     TurnType = "whois"
	TypeSystem    TurnType = "system"
)

// TimeLayout is the timestamp format stored on chats and turns.
const TimeLayout = time.RFC3339

// Turn is one immutable entry of a chat transcript. The set of
// implementations is closed: UserTurn, AssistantTurn, WhoisTurn and RoleTurn.
type Turn interface {
	Type() TurnType
	Text() string
	At() string
	isTurn()
}

// PromptTurn is a turn that may be replayed to the completion API.
// WhoisTurn deliberately does not implement it.
type PromptTurn interface {
	Turn
	Role() string
}

// UserTurn is a message typed by the user.
type UserTurn struct {
	Content string
	Time    string
}

func (t UserTurn) Type() TurnType { return TypeUser }
func (t UserTurn) Text() string   { return t.Content }
func (t UserTurn) At() string     { return t.Time }
func (t UserTurn) Role() string   { return string(TypeUser) }
func (UserTurn) isTurn()          {}

// AssistantTurn is generated text returned by the completion API.
type AssistantTurn struct {
	Content string
	Time    string
}

func (t AssistantTurn) Type() TurnType { return TypeAssistant }
func (t AssistantTurn) Text() string   { return t.Content }
func (t AssistantTurn) At() string     { return t.Time }
func (t AssistantTurn) Role() string   { return string(TypeAssistant) }
func (AssistantTurn) isTurn()          {}

// WhoisTurn carries a serialized registration lookup result.
type WhoisTurn struct {
	Content string
	Time    string
}

func (t WhoisTurn) Type() TurnType { return TypeWhois }
func (t WhoisTurn) Text() string   { return t.Content }
func (t WhoisTurn) At() string     { return t.Time }
func (WhoisTurn) isTurn()          {}

// RoleTurn mirrors any other role string reported by the remote API.
type RoleTurn struct {
	Name    string
	Content string
	Time    string
}

func (t RoleTurn) Type() TurnType { return TurnType(t.Name) }
func (t RoleTurn) Text() string   { return t.Content }
func (t RoleTurn) At() string     { return t.Time }
func (t RoleTurn) Role() string   { return t.Name }
func (RoleTurn) isTurn()          {}

// NewTurn builds the variant matching typ.
func NewTurn(typ TurnType, content, at string) Turn {
	switch typ {
	case TypeUser:
		return UserTurn{Content: content, Time: at}
	case TypeAssistant:
		return AssistantTurn{Content: content, Time: at}
	case TypeWhois:
		return WhoisTurn{Content: content, Time: at}
	default:
		return RoleTurn{Name: string(typ), Content: content, Time: at}
	}
}

// Record is the storage shape of a turn.
type Record struct {
	Type    string `json:"type" firestore:"type"`
	Content string `json:"content" firestore:"content"`
	Time    string `json:"time" firestore:"time"`
}

// ToRecord flattens t for persistence.
func ToRecord(t Turn) Record {
	return Record{Type: string(t.Type()), Content: t.Text(), Time: t.At()}
}

// Turn converts the stored record back into its variant.
func (r Record) Turn() Turn {
	return NewTurn(TurnType(r.Type), r.Content, r.Time)
}

// EncodeTurns flattens a transcript. A nil transcript encodes to nil.
func EncodeTurns(turns []Turn) []Record {
	if turns == nil {
		return nil
	}
	out := make([]Record, 0, len(turns))
	for _, t := range turns {
		out = append(out, ToRecord(t))
	}
	return out
}

// DecodeTurns rebuilds a transcript. A nil slice decodes to nil.
func DecodeTurns(records []Record) Transcript {
	if records == nil {
		return nil
	}
	out := make(Transcript, 0, len(records))
	for _, r := range records {
		out = append(out, r.Turn())
	}
	return out
}

// Transcript is the ordered, append-only turn list of a chat.
type Transcript []Turn

// MarshalJSON encodes the transcript as a list of records.
func (t Transcript) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	return json.Marshal(EncodeTurns(t))
}

// UnmarshalJSON decodes a list of records.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	*t = DecodeTurns(records)
	return nil
}

// PromptMessage is one entry of the message list sent to the completion API.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptHistory returns the replayable turns of a transcript as prompt
// messages, keeping only the last limit entries. A limit <= 0 keeps all.
func PromptHistory(turns []Turn, limit int) []PromptMessage {
	history := make([]PromptMessage, 0, len(turns))
	for _, t := range turns {
		p, ok := t.(PromptTurn)
		if !ok {
			continue
		}
		history = append(history, PromptMessage{Role: p.Role(), Content: p.Text()})
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
