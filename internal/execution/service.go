package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/domain"
)

// Runner executes a prepared cohort against the Phenex backend, invoking
// onEvent for every decoded stream message until the terminal message.
type Runner interface {
	ExecuteStudy(ctx context.Context, record *domain.CohortRecord, onEvent func(domain.ExecutionEvent) error) error
}

// Service orchestrates a study execution: validate, convert, stream, apply
// results back to the model.
type Service struct {
	log    *logrus.Logger
	model  *cohort.Model
	runner Runner
}

// NewService wires the execution service.
func NewService(model *cohort.Model, runner Runner, log *logrus.Logger) *Service {
	return &Service{log: log, model: model, runner: runner}
}

// Execute runs the current cohort. Every stream event is forwarded to
// onEvent; a result event additionally replaces the model's cohort with the
// backend-computed one (waterfall counts included) after conversion back to
// the editor shape.
func (s *Service) Execute(ctx context.Context, onEvent func(domain.ExecutionEvent) error) error {
	current := s.model.Cohort()
	if current == nil {
		return domain.ErrNotFound
	}

	for _, issue := range s.model.Validate() {
		if issue.Severity == cohort.SeverityError {
			return fmt.Errorf("cohort is not executable: %s", issue.Message)
		}
	}

	prepared, err := PrepareForExecution(current)
	if err != nil {
		return err
	}
	record := cohort.SplitByType(prepared)

	start := time.Now()
	s.log.WithFields(logrus.Fields{
		"cohort_id": current.ID,
		"cohort":    current.Name,
	}).Info("Study execution started")

	sawTerminal := false
	err = s.runner.ExecuteStudy(ctx, record, func(ev domain.ExecutionEvent) error {
		switch ev.Type {
		case domain.ExecutionResult:
			if applyErr := s.applyResult(ev.Data); applyErr != nil {
				s.log.WithError(applyErr).Error("Failed to apply execution result")
				return applyErr
			}
		case domain.ExecutionComplete:
			sawTerminal = true
		case domain.ExecutionError:
			sawTerminal = true
		}
		return onEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("executing study %s: %w", current.ID, err)
	}
	if !sawTerminal {
		return domain.ErrStreamClosed
	}

	s.log.WithFields(logrus.Fields{
		"cohort_id": current.ID,
		"duration":  time.Since(start).String(),
	}).Info("Study execution finished")
	return nil
}

// applyResult decodes the backend-computed cohort record from a result event
// and swaps it into the model.
func (s *Service) applyResult(data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var record domain.CohortRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("decoding execution result: %w", err)
	}
	s.model.Replace(PrepareForUI(&record))
	return nil
}
