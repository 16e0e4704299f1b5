package hierarchy

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/meepo/core"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetried   Status = "retried"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// A retried task may also fail directly when its deadline expires during the
// backoff wait.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusRetried},
	StatusRetried: {StatusRunning, StatusFailed},
}

// Terminal reports whether s is final.
func (s Status) Terminal() bool { return s == StatusSucceeded || s == StatusFailed }

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Attempt records one worker invocation.
type Attempt struct {
	Worker    string        `json:"worker"`
	Number    int           `json:"number"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
	ErrKind   core.Kind     `json:"error_kind,omitempty"`
	Transient bool          `json:"transient"`
}

// Assignment is the outcome of one worker of a task.
type Assignment struct {
	Worker   core.Descriptor
	Result   *core.RunResult
	Err      error
	Attempts int
}

// Task is one unit of delegated work. Its fields are written by the
// coordinator while the task runs and are stable once Status is terminal.
type Task struct {
	ID          string
	Description string
	Workers     []core.Descriptor
	Status      Status
	Result      *core.RunResult
	Err         error
	Attempts    int
	History     []Attempt
	// Assignments holds one entry per worker in assignment order.
	Assignments []Assignment
	Started     time.Time
	Finished    time.Time

	mu sync.Mutex
}

func newTask(description string, workers []Worker) *Task {
	t := &Task{
		ID:          core.NewID(),
		Description: description,
		Status:      StatusPending,
		Workers:     make([]core.Descriptor, len(workers)),
		Assignments: make([]Assignment, len(workers)),
	}
	for i, w := range workers {
		t.Workers[i] = w.Describe()
		t.Assignments[i].Worker = t.Workers[i]
	}
	return t
}

// advance moves the task to `to`. Repeating the current state is a no-op,
// which lets concurrent workers report retries independently.
func (t *Task) advance(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status == to {
		return nil
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("hierarchy: illegal task transition %s -> %s", t.Status, to)
	}
	t.Status = to
	return nil
}

func (t *Task) record(a Attempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Attempts++
	t.History = append(t.History, a)
}

// Kind returns the taxonomy kind of the terminal error, if any.
func (t *Task) Kind() core.Kind { return core.KindOf(t.Err) }

// Duration returns the wall time of the task.
func (t *Task) Duration() time.Duration {
	if t.Finished.IsZero() {
		return 0
	}
	return t.Finished.Sub(t.Started)
}

// Snapshot returns the current status and attempt count.
func (t *Task) Snapshot() (Status, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status, t.Attempts
}
