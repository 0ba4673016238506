// Package tasks dispatches background work to workers over two queues:
// "main" for analysis and bookkeeping triggered by user actions, and "beat"
// for periodic corpus-wide jobs.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Name identifies a task type.
type Name string

const (
	ExtractData          Name = "extract_data"
	TrainStep            Name = "train_step"
	PredictAndUpdateTags Name = "predict_and_update_tags"
	PredictAll           Name = "predict_all"
	GroupFaces           Name = "group_faces"
	UpdateNames          Name = "update_names"
	DeleteFacesForImages Name = "delete_faces_for_images"
	SharePointIngest     Name = "sharepoint_ingest"
)

// Names lists every task the workers know.
var Names = []Name{
	ExtractData, TrainStep, PredictAndUpdateTags, PredictAll,
	GroupFaces, UpdateNames, DeleteFacesForImages, SharePointIngest,
}

// Queue is a named task queue.
type Queue string

const (
	QueueMain Queue = "main"
	QueueBeat Queue = "beat"
)

// ErrUnknownTask is returned for names outside the closed task set.
var ErrUnknownTask = errors.New("unknown task")

// Valid reports whether n is a known task.
func (n Name) Valid() bool {
	for _, known := range Names {
		if n == known {
			return true
		}
	}
	return false
}

// QueueFor returns the queue a task is enqueued on.
func QueueFor(n Name) Queue {
	switch n {
	case PredictAll, GroupFaces:
		return QueueBeat
	default:
		return QueueMain
	}
}

// ExtractDataPayload carries the raw upload so the worker does not need to
// fetch it back from the object store.
type ExtractDataPayload struct {
	Data     []byte `json:"data"`
	Filename string `json:"filename"`
}

type TrainStepPayload struct {
	Features []float32 `json:"features"`
	Target   []float32 `json:"target"`
}

type PredictPayload struct {
	IDs []string `json:"ids"`
}

type UpdateNamesPayload struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type DeleteFacesPayload struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type SharePointIngestPayload struct {
	Folder  string `json:"folder"`
	AlbumID string `json:"album_id,omitempty"`
	User    string `json:"user"`
}

// Dispatcher enqueues tasks. Enqueueing is fire and forget: the caller learns
// only whether the task was accepted by the queue.
type Dispatcher interface {
	Enqueue(ctx context.Context, name Name, payload any) error
}

// Handler processes one task payload.
type Handler func(ctx context.Context, payload []byte) error

// Handlers maps task names to their handlers.
type Handlers map[Name]Handler

// Typed adapts a handler taking a decoded payload.
func Typed[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, data []byte) error {
		var p T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
		}
		return fn(ctx, p)
	}
}

// Worker consumes tasks until ctx is cancelled.
type Worker interface {
	Run(ctx context.Context, handlers Handlers) error
}

func encode(name Name, payload any) ([]byte, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if payload == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return data, nil
}

// process runs the handler for name and records the outcome. Failures are
// logged here; tasks are never retried.
func process(ctx context.Context, handlers Handlers, name Name, payload []byte) error {
	h, ok := handlers[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTask, name)
		log.Error().Err(err).Msg("no handler registered")
		return err
	}

	start := time.Now()
	err := h(ctx, payload)
	elapsed := time.Since(start)
	metrics.RecordTask(string(name), err, elapsed)

	if err != nil {
		log.Error().Err(err).Str("task", string(name)).Dur("elapsed", elapsed).Msg("task failed")
		return err
	}
	log.Debug().Str("task", string(name)).Dur("elapsed", elapsed).Msg("task done")
	return nil
}
