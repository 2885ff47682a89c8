// Package capture implements the hook-side pipeline: parse one host event
// from stdin, validate it, and record memories without ever failing the
// host.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies the hook event.
type EventKind string

const (
	EventSessionStart     EventKind = "SessionStart"
	EventPreCompact       EventKind = "PreCompact"
	EventPostToolUse      EventKind = "PostToolUse"
	EventUserPromptSubmit EventKind = "UserPromptSubmit"
	EventStop             EventKind = "Stop"
	EventManualSave       EventKind = "ManualSave"
)

// ToolInput carries the fields shared by the edit-family and shell tools.
// Unknown fields are ignored.
type ToolInput struct {
	FilePath  string `json:"file_path,omitempty"`
	Content   string `json:"content,omitempty"`
	NewString string `json:"new_string,omitempty"`
	Command   string `json:"command,omitempty"`
}

// ToolResponse carries the tool outcome for shell tools.
type ToolResponse struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// Event is one host hook event. Exactly which fields are required depends
// on the kind; Validate enforces that.
type Event struct {
	HookEventName  string        `json:"hook_event_name"`
	SessionID      string        `json:"session_id,omitempty"`
	CWD            string        `json:"cwd,omitempty"`
	TranscriptPath string        `json:"transcript_path,omitempty"`
	ToolName       string        `json:"tool_name,omitempty"`
	ToolInput      *ToolInput    `json:"tool_input,omitempty"`
	ToolResponse   *ToolResponse `json:"tool_response,omitempty"`
	ToolStatus     string        `json:"tool_status,omitempty"`
	Prompt         string        `json:"prompt,omitempty"`
	UserMessage    string        `json:"user_message,omitempty"`

	// Manual-save fields.
	Content string   `json:"content,omitempty"`
	Type    string   `json:"type,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	AgentID string   `json:"agent_id,omitempty"`
}

// Kind returns the event kind.
func (e *Event) Kind() EventKind { return EventKind(e.HookEventName) }

// Validation errors. All of them result in a logged drop and exit 0.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown hook event")
	ErrMissingField   = errors.New("missing required field")
)

// ParseEvent decodes a single event from raw JSON.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.HookEventName == "" {
		return nil, fmt.Errorf("%w: hook_event_name", ErrMissingField)
	}
	return &ev, nil
}

// Validate checks the per-kind required fields.
func (e *Event) Validate() error {
	switch e.Kind() {
	case EventSessionStart, EventPreCompact:
		if e.CWD == "" {
			return fmt.Errorf("%w: cwd", ErrMissingField)
		}
	case EventPostToolUse:
		if e.CWD == "" {
			return fmt.Errorf("%w: cwd", ErrMissingField)
		}
		if e.ToolName == "" {
			return fmt.Errorf("%w: tool_name", ErrMissingField)
		}
		if e.ToolInput == nil {
			return fmt.Errorf("%w: tool_input", ErrMissingField)
		}
	case EventUserPromptSubmit:
		if e.CWD == "" {
			return fmt.Errorf("%w: cwd", ErrMissingField)
		}
		if e.Prompt == "" && e.UserMessage == "" {
			return fmt.Errorf("%w: prompt", ErrMissingField)
		}
	case EventStop:
		if e.CWD == "" {
			return fmt.Errorf("%w: cwd", ErrMissingField)
		}
		if e.TranscriptPath == "" {
			return fmt.Errorf("%w: transcript_path", ErrMissingField)
		}
	case EventManualSave:
		if e.CWD == "" {
			return fmt.Errorf("%w: cwd", ErrMissingField)
		}
		if e.Content == "" {
			return fmt.Errorf("%w: content", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.HookEventName)
	}
	return nil
}

// PromptText returns the user text of a prompt event, whichever field the
// host populated.
func (e *Event) PromptText() string {
	if e.Prompt != "" {
		return e.Prompt
	}
	return e.UserMessage
}

// editTools is the whitelist for post-tool code-pattern capture.
var editTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// shellTools are the tools whose failures produce error-context items.
var shellTools = map[string]bool{
	"Bash": true,
}

// IsEditTool reports whether the tool is in the capture whitelist.
func IsEditTool(name string) bool { return editTools[name] }

// IsShellTool reports whether the tool is shell-family.
func IsShellTool(name string) bool { return shellTools[name] }
