package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// GoalID identifies a goal aggregate. It doubles as a directory name in the
// event log, so only a conservative character set is accepted.
type GoalID string

// WorkerID identifies the worker (human or agent) issuing commands.
type WorkerID string

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ParseGoalID trims and validates a goal id.
func ParseGoalID(raw string) (GoalID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", InvalidInput("goal id is required")
	}
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return "", InvalidInput(fmt.Sprintf("invalid goal id %q", raw))
	}
	return GoalID(id), nil
}

// ParseWorkerID trims and validates a worker id.
func ParseWorkerID(raw string) (WorkerID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", InvalidInput("worker id is required")
	}
	if strings.ContainsAny(id, "\n\r\t") {
		return "", InvalidInput(fmt.Sprintf("invalid worker id %q", raw))
	}
	return WorkerID(id), nil
}

// NewGoalID returns a short random goal id such as goal_1a2b3c4d.
func NewGoalID() GoalID {
	return GoalID("goal_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// NewWorkerID returns a random worker id.
func NewWorkerID() WorkerID {
	return WorkerID("worker_" + uuid.NewString())
}

func (id GoalID) String() string   { return string(id) }
func (id WorkerID) String() string { return string(id) }
