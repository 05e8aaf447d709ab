package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Action identifies what an Event asks the engine to do.
type Action int

const (
	// ActionBulk rebuilds the whole archive from the dataset query.
	ActionBulk Action = iota
	// ActionAdd merges a single entity into the archive.
	ActionAdd
	// ActionRemove filters a single entity out of the archive.
	ActionRemove
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionBulk:
		return "bulk"
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Event is a validated update request for one dataset.
//
// The zero value is a bulk rebuild. Point events are built with Add and
// Remove, or parsed from a notification payload with ParseEvent.
type Event struct {
	action Action
	ref    int64
}

// Bulk returns an event requesting a full rebuild.
func Bulk() Event { return Event{action: ActionBulk} }

// Add returns an event merging entity ref into the archive.
func Add(ref int64) Event { return Event{action: ActionAdd, ref: ref} }

// Remove returns an event excluding entity ref from the archive.
func Remove(ref int64) Event { return Event{action: ActionRemove, ref: ref} }

// Action returns the requested action.
func (e Event) Action() Action { return e.action }

// Ref returns the entity reference. The boolean is false for bulk events.
func (e Event) Ref() (int64, bool) {
	if e.action == ActionBulk {
		return 0, false
	}
	return e.ref, true
}

// IsBulk reports whether the event asks for a full rebuild.
func (e Event) IsBulk() bool { return e.action == ActionBulk }

// RefToken renders the reference for use in file names and logs.
// Bulk events render as "bulk".
func (e Event) RefToken() string {
	if e.action == ActionBulk {
		return "bulk"
	}
	return strconv.FormatInt(e.ref, 10)
}

func (e Event) String() string {
	if e.action == ActionBulk {
		return "bulk"
	}
	return fmt.Sprintf("%s(%d)", e.action, e.ref)
}

// ParseEvent converts a notification payload into an Event.
//
// An absent payload (empty, whitespace, JSON null or {}) is a bulk rebuild.
// Otherwise the payload must be an object with action "add" or "remove" and
// an integral numeric ref. Keys match exactly. Anything else fails with
// *ValidationError.
func ParseEvent(payload string) (Event, error) {
	raw := strings.TrimSpace(payload)
	if raw == "" || raw == "null" {
		return Bulk(), nil
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Event{}, &ValidationError{
			Field:   "payload",
			Value:   truncate(raw),
			Message: fmt.Sprintf("not a JSON object: %v", err),
		}
	}

	if len(wire) == 0 {
		return Bulk(), nil
	}
	rawAction, hasAction := wire["action"]
	if !hasAction {
		return Event{}, &ValidationError{Field: "action", Message: "missing action"}
	}
	rawRef := wire["ref"]

	var name string
	if err := json.Unmarshal(rawAction, &name); err != nil || isNull(rawAction) {
		return Event{}, &ValidationError{
			Field:   "action",
			Value:   truncate(string(rawAction)),
			Message: "action must be a string",
		}
	}

	var action Action
	switch name {
	case "add":
		action = ActionAdd
	case "remove":
		action = ActionRemove
	default:
		return Event{}, &ValidationError{
			Field:   "action",
			Value:   name,
			Message: `unknown action, expected "add" or "remove"`,
		}
	}

	ref, err := parseRef(rawRef)
	if err != nil {
		return Event{}, err
	}
	return Event{action: action, ref: ref}, nil
}

// parseRef accepts a JSON number with an integral value. Strings, booleans,
// null and fractional numbers are rejected.
func parseRef(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, &ValidationError{Field: "ref", Message: "missing ref"}
	}
	if digits := strings.TrimPrefix(s, "-"); len(digits) > 1 && digits[0] == '0' && digits[1] >= '0' && digits[1] <= '9' {
		return 0, &ValidationError{Field: "ref", Value: truncate(s), Message: "leading zeros are not allowed"}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ValidationError{Field: "ref", Value: truncate(s), Message: "not a number"}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, &ValidationError{Field: "ref", Value: truncate(s), Message: "not an integer"}
	}
	return int64(f), nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
