package busmodel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleHuman   Role = "HUMAN"
	RoleAI      Role = "AI"
	RoleSystem  Role = "SYSTEM"
	RoleTool    Role = "TOOL"
	RoleCommand Role = "COMMAND"
)

// RunStatus is one state in the run lifecycle state machine.
type RunStatus string

const (
	StatusPending             RunStatus = "PENDING"
	StatusBuildingContext     RunStatus = "BUILDING_CONTEXT"
	StatusAwaitingLLMDecision RunStatus = "AWAITING_LLM_DECISION"
	StatusAwaitingToolResult  RunStatus = "AWAITING_TOOL_RESULT"
	StatusGeneratingResponse  RunStatus = "GENERATING_RESPONSE"
	StatusCompleted           RunStatus = "COMPLETED"
	StatusFailed              RunStatus = "FAILED"
	StatusTimedOut            RunStatus = "TIMED_OUT"
)

// Terminal reports whether s is one of the run's terminal states; a run
// in a terminal state is removed from active_runs.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Message is the atomic payload carried over the bus. Content is
// polymorphic: a plain string, a structured map, or a nested *Run.
// Callers use the As* helpers rather than type-asserting directly so
// the tagged-union nature stays in one place.
type Message struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	OwnerKey  string         `json:"owner_key"`
	Role      Role           `json:"role"`
	Content   any            `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a Message with a generated id and the current UTC
// timestamp.
func NewMessage(runID, ownerKey string, role Role, content any) Message {
	return Message{
		ID:        NewMessageID(),
		RunID:     runID,
		OwnerKey:  ownerKey,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// NewMessageID returns a new "msg_"-prefixed identifier.
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}

// NewRunID returns a new "run_"-prefixed identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// AsText returns the content as a string if it is one.
func (m Message) AsText() (string, bool) {
	s, ok := m.Content.(string)
	return s, ok
}

// AsMap returns the content as a structured map if it is one.
func (m Message) AsMap() (map[string]any, bool) {
	v, ok := m.Content.(map[string]any)
	return v, ok
}

// AsRun returns the content as a nested *Run if it is one.
func (m Message) AsRun() (*Run, bool) {
	r, ok := m.Content.(*Run)
	return r, ok
}

// Run is the lifecycle container for one user turn's agentic loop.
type Run struct {
	ID             string         `json:"id"`
	OwnerKey       string         `json:"owner_key"`
	Status         RunStatus      `json:"status"`
	History        []Message      `json:"history"`
	IterationCount int            `json:"iteration_count"`
	Tools          []ToolSpec     `json:"tools,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewRun creates a PENDING run seeded with a single HUMAN message.
func NewRun(ownerKey, userInput string, clientTimestampUTC string, clientTimezoneOffset int) *Run {
	id := NewRunID()
	msg := NewMessage(id, ownerKey, RoleHuman, userInput)
	return &Run{
		ID:       id,
		OwnerKey: ownerKey,
		Status:   StatusPending,
		History:  []Message{msg},
		Metadata: map[string]any{
			"client_timestamp_utc":   clientTimestampUTC,
			"client_timezone_offset": clientTimezoneOffset,
			"pending_tool_calls":     0,
		},
	}
}

// AppendHistory appends msg to the run's history. History appends only;
// existing entries are never mutated.
func (r *Run) AppendHistory(msg Message) {
	r.History = append(r.History, msg)
}

// FirstHumanInput returns the content of the first HUMAN message in the
// run's history, used by the Context Builder to recover the triggering
// utterance.
func (r *Run) FirstHumanInput() string {
	for _, m := range r.History {
		if m.Role == RoleHuman {
			if s, ok := m.AsText(); ok {
				return s
			}
		}
	}
	return ""
}

// PendingToolCalls reads the transient barrier counter from metadata.
func (r *Run) PendingToolCalls() int {
	v, _ := r.Metadata["pending_tool_calls"].(int)
	return v
}

// SetPendingToolCalls writes the transient barrier counter.
func (r *Run) SetPendingToolCalls(n int) {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata["pending_tool_calls"] = n
}

// ToolSpec is the tool catalog entry snapshotted onto a run at
// context-build time.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema-ish: {name: {type, description, required}}
}

// ToolCall is an LLM-issued request to invoke a tool.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (t ToolCall) String() string {
	return fmt.Sprintf("%s(%s)", t.Function.Name, t.ID)
}
