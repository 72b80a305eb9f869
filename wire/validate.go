package wire

import (
	"fmt"

	"github.com/gojupyter/kernelclient/common"
)

// ExecutionStates lists the legal values of an iopub status message's
// execution_state, including "reconnecting", which a real kernel never
// sends but which is tolerated here. Nothing in this module injects such a
// message: the engine's own Reconnecting status comes from the Managed
// Socket's state listener, not from an iopub status frame.
var ExecutionStates = buildExecutionStates()

func buildExecutionStates() common.Set[string] {
	s := common.MakeSet[string](6)
	for _, v := range []string{"starting", "idle", "busy", "restarting", "dead", "reconnecting"} {
		s.Insert(v)
	}
	return s
}

// requiredContentFields maps a msg_type to the content fields it must
// carry. Unknown msg_types are not listed here and are tolerated (the
// engine forwards them as unhandled) — only listed types are validated.
var requiredContentFields = map[string][]string{
	"execute_reply":    {"status", "execution_count"},
	"complete_reply":   {"status", "matches", "cursor_start", "cursor_end"},
	"inspect_reply":    {"status", "found"},
	"history_reply":    {"history"},
	"is_complete_reply": {"status"},
	"comm_info_reply":  {"comms"},
	"kernel_info_reply": {"protocol_version", "implementation", "language_info"},
	"status":           {"execution_state"},
	"comm_open":        {"comm_id", "target_name"},
	"comm_msg":         {"comm_id"},
	"comm_close":       {"comm_id"},
	"error":            {"ename", "evalue", "traceback"},
}

// ValidateHeader asserts the header well-formedness rule from the
// Validator spec: msg_id, msg_type, session, username, version must all be
// non-empty.
func ValidateHeader(h Header) error {
	switch {
	case h.MsgID == "":
		return fmt.Errorf("header missing msg_id")
	case h.MsgType == "":
		return fmt.Errorf("header missing msg_type")
	case h.Session == "":
		return fmt.Errorf("header missing session")
	case h.Username == "":
		return fmt.Errorf("header missing username")
	case h.Version == "":
		return fmt.Errorf("header missing version")
	}
	return nil
}

// ValidateChannel asserts that ch is one of the four documented channels.
func ValidateChannel(ch Channel) error {
	for _, valid := range ValidChannels {
		if ch == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid channel %q", ch)
}

// ValidateContent checks the per-msg_type required-field list, plus the
// execute_reply status enum and the status message's execution_state
// enum. msg_types not present in requiredContentFields are not checked —
// they are forwarded to the caller as unhandled messages.
func ValidateContent(msgType string, content map[string]interface{}) error {
	required, known := requiredContentFields[msgType]
	if !known {
		return nil
	}
	for _, field := range required {
		if _, ok := content[field]; !ok {
			return fmt.Errorf("%s missing required content field %q", msgType, field)
		}
	}
	switch msgType {
	case "execute_reply":
		status, _ := content["status"].(string)
		if status != "ok" && status != "error" && status != "abort" {
			return fmt.Errorf("execute_reply has invalid status %q", status)
		}
		if n, ok := asNumber(content["execution_count"]); !ok || n < 0 {
			return fmt.Errorf("execute_reply has invalid execution_count %v", content["execution_count"])
		}
	case "status":
		state, _ := content["execution_state"].(string)
		if !ExecutionStates.Has(state) {
			return fmt.Errorf("status has invalid execution_state %q", state)
		}
	}
	return nil
}

// Validate runs ValidateHeader, ValidateChannel, and ValidateContent
// together — the single entry point the engine's read loop calls before
// dispatching a decoded frame. A non-nil error here means: log and drop
// the frame, never raise it to the caller (§7).
func Validate(m Message) error {
	if err := ValidateHeader(m.Header); err != nil {
		return err
	}
	if err := ValidateChannel(m.Channel); err != nil {
		return err
	}
	return ValidateContent(m.Header.MsgType, m.Content)
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
