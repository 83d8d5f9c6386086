// Package chat orchestrates the assistant conversation: a bounded rolling
// history, streaming suggestion turns, and the accept/reject lifecycle for
// provisional cohort changes the assistant proposes.
package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/domain"
)

// HistoryLimit bounds the rolling conversation history. Older turns are
// dropped from the front; the backend receives at most this many turns.
const HistoryLimit = 25

// Suggester streams assistant responses and manages the provisional cohort
// the assistant edits. The Phenex API client implements it.
type Suggester interface {
	SuggestChanges(ctx context.Context, cohortID string, history []domain.ChatTurn, onEvent func(domain.ChatEvent) error) error
	AcceptChanges(ctx context.Context, cohortID string) error
	RejectChanges(ctx context.Context, cohortID string) error
}

// Service owns the conversation state for one cohort session.
type Service struct {
	mu        sync.Mutex
	log       *logrus.Logger
	model     *cohort.Model
	suggester Suggester
	history   []domain.ChatTurn
	lastUser  string
}

// NewService wires the chat service.
func NewService(model *cohort.Model, suggester Suggester, log *logrus.Logger) *Service {
	return &Service{log: log, model: model, suggester: suggester}
}

// History returns a copy of the current conversation.
func (s *Service) History() []domain.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatTurn(nil), s.history...)
}

// SendMessage appends the user turn plus a loading placeholder, streams the
// assistant response into the placeholder, and forwards every event to
// onEvent so callers can relay the stream. Tool-call chatter (tool_call,
// tool_result, info) is forwarded but never written into the history; only
// content accumulates into the assistant turn. A complete event on a stream
// that touched the cohort reloads the now-provisional cohort into the model.
func (s *Service) SendMessage(ctx context.Context, message string, onEvent func(domain.ChatEvent) error) error {
	s.mu.Lock()
	cohortState := s.model.Cohort()
	if cohortState == nil {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	cohortID := cohortState.ID
	s.lastUser = message
	s.appendLocked(domain.ChatTurn{Role: domain.RoleUser, Content: message})
	s.appendLocked(domain.ChatTurn{Role: domain.RoleSystem, Loading: true})
	outbound := s.outboundHistoryLocked()
	s.mu.Unlock()

	if onEvent == nil {
		onEvent = func(domain.ChatEvent) error { return nil }
	}

	var content string
	mutated := false
	err := s.suggester.SuggestChanges(ctx, cohortID, outbound, func(ev domain.ChatEvent) error {
		switch ev.Type {
		case domain.ChatContent:
			content += ev.Message
			s.setPlaceholder(content, true, false)
		case domain.ChatToolCall, domain.ChatToolResult, domain.ChatInfo:
			// Progress chatter: relayed to the stream, kept out of history.
		case domain.ChatToolError:
			s.log.WithField("cohort_id", cohortID).Warn("Assistant tool call failed")
		case domain.ChatResult:
			mutated = true
		case domain.ChatError:
			s.setPlaceholder(firstNonEmpty(ev.Message, "The assistant failed to respond."), false, true)
		case domain.ChatComplete:
			s.setPlaceholder(content, false, false)
		}
		return onEvent(ev)
	})
	if err != nil {
		s.setPlaceholder(firstNonEmpty(content, "The assistant failed to respond."), false, true)
		return fmt.Errorf("chat turn for cohort %s: %w", cohortID, err)
	}

	if mutated {
		if _, loadErr := s.model.Load(ctx, cohortID); loadErr != nil {
			s.log.WithError(loadErr).Error("Failed to reload provisional cohort after chat turn")
		}
	}
	return nil
}

// Retry re-sends the most recent user message. The failed assistant turn is
// removed so the history the backend sees is the same as the first attempt.
func (s *Service) Retry(ctx context.Context, onEvent func(domain.ChatEvent) error) error {
	s.mu.Lock()
	if s.lastUser == "" {
		s.mu.Unlock()
		return fmt.Errorf("retrying chat turn: %w", domain.ErrNotFound)
	}
	// Drop the trailing user+assistant pair; SendMessage re-adds them.
	for len(s.history) > 0 {
		last := s.history[len(s.history)-1]
		s.history = s.history[:len(s.history)-1]
		if last.Role == domain.RoleUser {
			break
		}
	}
	message := s.lastUser
	s.mu.Unlock()

	return s.SendMessage(ctx, message, onEvent)
}

// Accept commits the provisional cohort on the backend and records the
// decision as a user_action turn so the assistant sees it in later context.
func (s *Service) Accept(ctx context.Context) error {
	return s.resolve(ctx, true)
}

// Reject discards the provisional cohort and restores the saved one.
func (s *Service) Reject(ctx context.Context) error {
	return s.resolve(ctx, false)
}

func (s *Service) resolve(ctx context.Context, accept bool) error {
	current := s.model.Cohort()
	if current == nil {
		return domain.ErrNotFound
	}
	if !current.IsProvisional {
		return fmt.Errorf("resolving suggestion for cohort %s: no provisional changes", current.ID)
	}

	var err error
	action := "Rejected the suggested changes."
	if accept {
		action = "Accepted the suggested changes."
		err = s.suggester.AcceptChanges(ctx, current.ID)
	} else {
		err = s.suggester.RejectChanges(ctx, current.ID)
	}
	if err != nil {
		return fmt.Errorf("resolving suggestion for cohort %s: %w", current.ID, err)
	}

	s.mu.Lock()
	s.appendLocked(domain.ChatTurn{Role: domain.RoleUserAction, Content: action})
	s.mu.Unlock()

	if _, loadErr := s.model.Load(ctx, current.ID); loadErr != nil {
		return fmt.Errorf("reloading cohort %s after resolution: %w", current.ID, loadErr)
	}
	return nil
}

// setPlaceholder rewrites the trailing assistant turn in place.
func (s *Service) setPlaceholder(content string, loading, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return
	}
	last := &s.history[len(s.history)-1]
	if last.Role != domain.RoleSystem {
		return
	}
	last.Content = content
	last.Loading = loading
	last.IsError = isError
}

// appendLocked appends a turn, trimming the front beyond the limit.
func (s *Service) appendLocked(turn domain.ChatTurn) {
	s.history = append(s.history, turn)
	if excess := len(s.history) - HistoryLimit; excess > 0 {
		s.history = append([]domain.ChatTurn(nil), s.history[excess:]...)
	}
}

// outboundHistoryLocked is what the backend receives: the bounded history
// minus the trailing loading placeholder.
func (s *Service) outboundHistoryLocked() []domain.ChatTurn {
	out := append([]domain.ChatTurn(nil), s.history...)
	if len(out) > 0 && out[len(out)-1].Loading {
		out = out[:len(out)-1]
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
