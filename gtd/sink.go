package gtd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/internal/util"
)

// ErrTaskNotFound is returned when a task id is unknown for the user.
var ErrTaskNotFound = errors.New("task not found")

// Task is a captured next action.
type Task struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Estimate  string    `json:"estimate"`
	Context   string    `json:"context"`
	Project   string    `json:"project"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// Map converts the task into a context friendly value.
func (t Task) Map() map[string]any {
	return map[string]any{
		"id":       t.ID,
		"content":  t.Content,
		"estimate": t.Estimate,
		"context":  t.Context,
		"project":  t.Project,
		"done":     t.Done,
	}
}

// TaskSink stores captured tasks. A task manager integration implements it
// in production; MemorySink serves tests and the CLI.
type TaskSink interface {
	AddTask(ctx context.Context, userID string, t Task) (Task, error)
	Tasks(ctx context.Context, userID string) ([]Task, error)
}

// MemorySink is an in-memory TaskSink. It is safe for concurrent use.
type MemorySink struct {
	mu    sync.RWMutex
	tasks map[string][]Task
	now   func() time.Time
}

var _ TaskSink = (*MemorySink)(nil)

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{tasks: map[string][]Task{}, now: time.Now}
}

// AddTask stores t, assigning an id and creation time when missing.
func (s *MemorySink) AddTask(ctx context.Context, userID string, t Task) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}

	if t.ID == "" {
		t.ID = util.NewID()
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[userID] = append(s.tasks[userID], t)

	return t, nil
}

// Tasks returns a copy of the user's tasks in capture order.
func (s *MemorySink) Tasks(_ context.Context, userID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Task(nil), s.tasks[userID]...), nil
}

// Complete marks a task done.
func (s *MemorySink) Complete(userID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks[userID] {
		if t.ID == taskID {
			s.tasks[userID][i].Done = true
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}
