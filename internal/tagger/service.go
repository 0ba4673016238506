package tagger

import (
	"context"
	"fmt"
	"slices"

	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/rs/zerolog"
)

// Service turns user actions into training steps and keeps auto tags fresh.
type Service struct {
	catalog    database.Catalog
	dispatcher tasks.Dispatcher
	predictor  *Predictor
	vocab      *Vocabulary
	log        zerolog.Logger
}

func NewService(catalog database.Catalog, dispatcher tasks.Dispatcher, cfg config.TaggerConfig) *Service {
	logger := logging.Component("tagger")
	return &Service{
		catalog:    catalog,
		dispatcher: dispatcher,
		predictor:  NewPredictor(cfg.ModelPath, cfg.LearningRate, logger),
		vocab:      NewVocabulary(catalog),
		log:        logger,
	}
}

// TrainingInit enqueues one train_step per image that already has features.
// The vocabulary is reloaded first so a tag the user just added has an output.
func (s *Service) TrainingInit(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	vocab, err := s.vocab.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("load tag vocabulary: %w", err)
	}
	if len(vocab) == 0 {
		return nil
	}

	images, err := s.catalog.GetImages(ctx, ids)
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}

	for _, img := range images {
		if !img.HasFeatures() {
			s.log.Debug().Str("image", img.ID).Msg("no features yet, not training")
			continue
		}
		payload := tasks.TrainStepPayload{
			Features: img.Features,
			Target:   TagsToVector(img.UserTags, img.Feedback, vocab),
		}
		if err := s.dispatcher.Enqueue(ctx, tasks.TrainStep, payload); err != nil {
			return fmt.Errorf("enqueue train step for %s: %w", img.ID, err)
		}
	}
	return nil
}

// TrainInitAlbums trains on every image in the albums and their descendants.
func (s *Service) TrainInitAlbums(ctx context.Context, albumIDs []string) error {
	ids, err := s.catalog.AlbumImageIDsRecursive(ctx, albumIDs)
	if err != nil {
		return fmt.Errorf("collect album images: %w", err)
	}
	return s.TrainingInit(ctx, ids)
}

// PredictAndUpdateTags predicts tags for each image and stores those the
// user has not already set as its auto tags. Images without features are
// skipped.
func (s *Service) PredictAndUpdateTags(ctx context.Context, ids []string) error {
	vocab, err := s.vocab.Get(ctx)
	if err != nil {
		return fmt.Errorf("load tag vocabulary: %w", err)
	}

	images, err := s.catalog.GetImages(ctx, ids)
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}

	updated := 0
	for _, img := range images {
		if !img.HasFeatures() {
			continue
		}
		predicted := s.predictor.PredictStep(img.Features, vocab)
		auto := slices.DeleteFunc(predicted, func(t string) bool {
			return slices.Contains(img.UserTags, t)
		})
		if err := s.catalog.AddAutoTags(ctx, img.ID, auto); err != nil {
			s.log.Error().Err(err).Str("image", img.ID).Msg("failed to store auto tags")
			continue
		}
		updated++
	}
	s.log.Debug().Int("requested", len(ids)).Int("updated", updated).Msg("auto tags updated")
	return nil
}

// UpdateAllAutoTags refreshes the vocabulary and enqueues a prediction task
// for every page of image ids.
func (s *Service) UpdateAllAutoTags(ctx context.Context) error {
	if _, err := s.vocab.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh tag vocabulary: %w", err)
	}

	after, pages := "", 0
	for {
		ids, err := s.catalog.ListImageIDs(ctx, after, constants.DefaultPageSize)
		if err != nil {
			return fmt.Errorf("list images after %q: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}
		if err := s.dispatcher.Enqueue(ctx, tasks.PredictAndUpdateTags, tasks.PredictPayload{IDs: ids}); err != nil {
			return fmt.Errorf("enqueue prediction page: %w", err)
		}
		pages++
		after = ids[len(ids)-1]
	}
	s.log.Info().Int("pages", pages).Msg("scheduled auto tag refresh")
	return nil
}

// TrainStep is the worker side of train_step.
func (s *Service) TrainStep(_ context.Context, p tasks.TrainStepPayload) error {
	return s.predictor.TrainStep(p.Features, p.Target)
}

// Handlers returns the task handlers owned by the tagger.
func (s *Service) Handlers() tasks.Handlers {
	return tasks.Handlers{
		tasks.TrainStep: tasks.Typed(s.TrainStep),
		tasks.PredictAndUpdateTags: tasks.Typed(func(ctx context.Context, p tasks.PredictPayload) error {
			return s.PredictAndUpdateTags(ctx, p.IDs)
		}),
		tasks.PredictAll: func(ctx context.Context, _ []byte) error {
			return s.UpdateAllAutoTags(ctx)
		},
	}
}
