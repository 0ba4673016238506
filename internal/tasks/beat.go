package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/rs/zerolog/log"
)

const beatEnqueueTimeout = 30 * time.Second

// Beat enqueues the periodic jobs on the beat queue. Exactly one process in a
// deployment should run it.
type Beat struct {
	scheduler gocron.Scheduler
}

// NewBeat schedules predict_all and group_faces at the configured periods.
func NewBeat(d Dispatcher, schedule config.ScheduleConfig) (*Beat, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name  Name
		every time.Duration
	}{
		{PredictAll, schedule.PredictAllInterval()},
		{GroupFaces, schedule.GroupFacesInterval()},
	}
	for _, j := range jobs {
		_, err := s.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(enqueueScheduled, d, j.name),
			gocron.WithName(string(j.name)),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
		log.Info().Str("task", string(j.name)).Dur("every", j.every).Msg("scheduled periodic task")
	}

	return &Beat{scheduler: s}, nil
}

func enqueueScheduled(d Dispatcher, name Name) {
	ctx, cancel := context.WithTimeout(context.Background(), beatEnqueueTimeout)
	defer cancel()
	if err := d.Enqueue(ctx, name, nil); err != nil {
		log.Error().Err(err).Str("task", string(name)).Msg("failed to enqueue periodic task")
	}
}

func (b *Beat) Start() {
	b.scheduler.Start()
}

func (b *Beat) Shutdown() error {
	return b.scheduler.Shutdown()
}
