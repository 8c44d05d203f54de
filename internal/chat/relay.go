package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"chat-relay/internal/llm"
)

// Emitter forwards one fragment to the caller. An error means the caller is
// gone; the relay stops emitting but keeps accumulating.
type Emitter func(fragment string) error

// StreamResult is what the relay hands to the finalizer. A nil Cause means
// the upstream finished normally; otherwise Text holds the fragments received
// before the failure.
type StreamResult struct {
	Text  string
	Cause error
}

func (r StreamResult) Partial() bool { return r.Cause != nil }

type Relay struct {
	client llm.Client
	model  string
	logger zerolog.Logger
}

func NewRelay(client llm.Client, model string, logger zerolog.Logger) *Relay {
	return &Relay{client: client, model: model, logger: logger}
}

// Stream runs one streaming completion. The upstream call is detached from
// ctx cancellation so a disconnecting caller never cuts the accumulation
// short; ctx only gates emission.
func (r *Relay) Stream(ctx context.Context, prompt []llm.Message, emit Emitter) (result StreamResult) {
	var (
		text      strings.Builder
		fragments int
		emitting  = emit != nil
		started   = time.Now()
	)

	defer func() {
		if p := recover(); p != nil {
			result = StreamResult{Text: text.String(), Cause: errors.Errorf("upstream panic: %v", p)}
		}
		ev := r.logger.Debug()
		if result.Cause != nil {
			ev = r.logger.Warn().Err(result.Cause)
		}
		ev.Int("fragments", fragments).
			Int("chars", len(result.Text)).
			Dur("elapsed", time.Since(started)).
			Msg("completion stream finished")
	}()

	upstream := context.WithoutCancel(ctx)
	_, err := r.client.ChatStream(upstream, llm.ChatRequest{Model: r.model, Messages: prompt}, func(delta string) error {
		if delta == "" {
			return nil
		}
		fragments++
		text.WriteString(delta)
		if !emitting {
			return nil
		}
		if ctx.Err() != nil {
			emitting = false
			r.logger.Debug().Msg("caller gone, draining upstream")
			return nil
		}
		if err := emit(delta); err != nil {
			emitting = false
			r.logger.Debug().Err(err).Msg("emit failed, draining upstream")
		}
		return nil
	})
	if err != nil {
		return StreamResult{Text: text.String(), Cause: err}
	}
	return StreamResult{Text: text.String()}
}
