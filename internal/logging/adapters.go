package logging

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillAdapter bridges watermill.LoggerAdapter to zerolog.
type watermillAdapter struct {
	l zerolog.Logger
}

// NewWatermillAdapter returns a watermill logger writing to l.
func NewWatermillAdapter(l zerolog.Logger) watermill.LoggerAdapter {
	return &watermillAdapter{l: l}
}

func withFields(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	withFields(a.l.Error().Err(err), fields).Msg(msg)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	withFields(a.l.Info(), fields).Msg(msg)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	withFields(a.l.Debug(), fields).Msg(msg)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	withFields(a.l.Trace(), fields).Msg(msg)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := a.l.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillAdapter{l: ctx.Logger()}
}

// AsynqAdapter implements asynq.Logger on top of zerolog.
type AsynqAdapter struct {
	L zerolog.Logger
}

func (a AsynqAdapter) Debug(args ...any) { a.L.Debug().Msg(fmt.Sprint(args...)) }
func (a AsynqAdapter) Info(args ...any)  { a.L.Info().Msg(fmt.Sprint(args...)) }
func (a AsynqAdapter) Warn(args ...any)  { a.L.Warn().Msg(fmt.Sprint(args...)) }
func (a AsynqAdapter) Error(args ...any) { a.L.Error().Msg(fmt.Sprint(args...)) }
func (a AsynqAdapter) Fatal(args ...any) { a.L.Fatal().Msg(fmt.Sprint(args...)) }
