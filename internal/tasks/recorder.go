package tasks

import (
	"context"
	"encoding/json"
	"sync"
)

// Enqueued is a task captured by Recorder.
type Enqueued struct {
	Name    Name
	Queue   Queue
	Payload []byte
}

// Recorder is a Dispatcher that keeps tasks in memory instead of running
// them. Tests use it to assert on what was enqueued.
type Recorder struct {
	mu    sync.Mutex
	tasks []Enqueued

	// Err, when set, is returned by Enqueue.
	Err error
}

func (r *Recorder) Enqueue(_ context.Context, name Name, payload any) error {
	if r.Err != nil {
		return r.Err
	}
	data, err := encode(name, payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, Enqueued{Name: name, Queue: QueueFor(name), Payload: data})
	return nil
}

// Tasks returns the captured tasks, optionally filtered to one name.
func (r *Recorder) Tasks(name Name) []Enqueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Enqueued
	for _, t := range r.tasks {
		if name == "" || t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// Decode unmarshals a captured payload.
func (e Enqueued) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Drain runs every captured task through handlers, including tasks enqueued
// while draining, and returns the first handler error.
func (r *Recorder) Drain(ctx context.Context, handlers Handlers) error {
	var first error
	for {
		r.mu.Lock()
		if len(r.tasks) == 0 {
			r.mu.Unlock()
			return first
		}
		t := r.tasks[0]
		r.tasks = r.tasks[1:]
		r.mu.Unlock()

		if err := process(ctx, handlers, t.Name, t.Payload); err != nil && first == nil {
			first = err
		}
	}
}
