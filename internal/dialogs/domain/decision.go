package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is the CRM side effect requested by the oracle.
type Action string

const (
	ActionNone              Action = "NONE"
	ActionLogComment        Action = "LOG_COMMENT"
	ActionCreateTaskAndLog  Action = "CREATE_TASK_AND_LOG"
	ActionEscalateToManager Action = "ESCALATE_TO_MANAGER"
)

// ParseAction normalizes a raw action label. Unknown labels are kept verbatim
// so the executor can log them before treating them as NONE.
func ParseAction(raw string) Action {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return ActionNone
	}
	return Action(trimmed)
}

// Decision is the oracle's answer for one dialog turn.
type Decision struct {
	ReplyText    string
	NewState     string
	Action       Action
	ActionParams map[string]any
}

// Param returns a string action parameter, or "" when missing.
func (d Decision) Param(key string) string {
	value, ok := d.ActionParams[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// IntParam returns an integer action parameter, or fallback when missing or invalid.
func (d Decision) IntParam(key string, fallback int) int {
	raw := d.Param(key)
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int(f)
	}
	return fallback
}
