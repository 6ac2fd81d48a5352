package seccomp

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is seccomp trap action
type Action uint32

// Action defines seccomp action to the syscall
// default value 0 is invalid
const (
	ActionAllow Action = iota + 1
	ActionErrno
	ActionTrace
	ActionKill
	ActionLog
)

var actionNames = []string{"invalid", "allow", "errno", "trace", "kill", "log"}

// WithReturnCode set the return code when action is trace or ban
func (a Action) WithReturnCode(code int16) Action {
	return a.Action() | Action(code)<<16
}

// ReturnCode get the return code
func (a Action) ReturnCode() int16 {
	return int16(a >> 16)
}

// Action get the basic action
func (a Action) Action() Action {
	return Action(a & 0xffff)
}

func (a Action) String() string {
	b := a.Action()
	if int(b) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", uint32(b))
	}
	if c := a.ReturnCode(); c != 0 {
		return actionNames[b] + "(" + strconv.Itoa(int(c)) + ")"
	}
	return actionNames[b]
}

// ParseAction parses "allow", "kill", "log", "trace" or "errno", the last
// two optionally followed by a return code such as "errno(1)".
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	name, code := s, ""
	if i := strings.IndexByte(s, '('); i >= 0 && strings.HasSuffix(s, ")") {
		name, code = s[:i], s[i+1:len(s)-1]
	}
	var a Action
	for i, n := range actionNames[1:] {
		if n == name {
			a = Action(i + 1)
		}
	}
	if a == 0 {
		return 0, fmt.Errorf("seccomp: unknown action %q", s)
	}
	if code == "" {
		return a, nil
	}
	if a != ActionErrno && a != ActionTrace {
		return 0, fmt.Errorf("seccomp: action %q does not take a return code", name)
	}
	c, err := strconv.ParseInt(code, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("seccomp: invalid return code %q: %w", code, err)
	}
	return a.WithReturnCode(int16(c)), nil
}

// UnmarshalText parses the action from config files
func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
