package domain

import (
	"fmt"
	"strings"
	"time"
)

type SessionID string
type MessageID string
type TurnID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Subject selects the tutoring persona and the greeting of a session.
type Subject string

const (
	SubjectMath      Subject = "Math"
	SubjectPhysics   Subject = "Physics"
	SubjectChemistry Subject = "Chemistry"
	SubjectGeneral   Subject = "General" // default mode, not offered in the subject switcher
)

// DefaultSubject is the subject a new session starts with.
const DefaultSubject = SubjectMath

// Subjects returns the selectable subjects in display order.
func Subjects() []Subject {
	return []Subject{SubjectMath, SubjectPhysics, SubjectChemistry}
}

// ParseSubject maps a user supplied name to a Subject (case-insensitive).
// An empty string yields DefaultSubject.
func ParseSubject(s string) (Subject, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultSubject, nil
	case "math", "maths":
		return SubjectMath, nil
	case "physics":
		return SubjectPhysics, nil
	case "chemistry", "chem":
		return SubjectChemistry, nil
	case "general":
		return SubjectGeneral, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSubject, s)
	}
}

type Timestamp = time.Time
