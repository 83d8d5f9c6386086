package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*domain.CohortRecord
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*domain.CohortRecord{}}
}

func (s *memStore) GetCohort(_ context.Context, id string) (*domain.CohortRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) GetPublicCohort(ctx context.Context, id string) (*domain.CohortRecord, error) {
	return s.GetCohort(ctx, id)
}

func (s *memStore) SaveCohort(_ context.Context, record *domain.CohortRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *memStore) DeleteCohort(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// fakeSuggester scripts the event stream of a single assistant turn.
type fakeSuggester struct {
	events  []domain.ChatEvent
	err     error
	history []domain.ChatTurn
	accepts int
	rejects int

	// onSuggest runs before the scripted events, for store manipulation.
	onSuggest func(cohortID string)
}

func (f *fakeSuggester) SuggestChanges(_ context.Context, cohortID string, history []domain.ChatTurn, onEvent func(domain.ChatEvent) error) error {
	f.history = append([]domain.ChatTurn(nil), history...)
	if f.onSuggest != nil {
		f.onSuggest(cohortID)
	}
	for _, ev := range f.events {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeSuggester) AcceptChanges(context.Context, string) error {
	f.accepts++
	return nil
}

func (f *fakeSuggester) RejectChanges(context.Context, string) error {
	f.rejects++
	return nil
}

func newTestService(t *testing.T, suggester Suggester) (*Service, *cohort.Model, *memStore) {
	t.Helper()
	store := newMemStore()
	model := cohort.NewModel(store, logrus.New())
	model.SetSaveDelay(0)
	c := model.CreateNew("chat test")
	require.NoError(t, model.Save(context.Background()))
	_ = c
	return NewService(model, suggester, logrus.New()), model, store
}

func TestSendMessageAccumulatesContent(t *testing.T) {
	suggester := &fakeSuggester{events: []domain.ChatEvent{
		{Type: domain.ChatContent, Message: "Adding a "},
		{Type: domain.ChatContent, Message: "diabetes criterion."},
		{Type: domain.ChatComplete},
	}}
	svc, _, _ := newTestService(t, suggester)

	var relayed []domain.ChatEventType
	err := svc.SendMessage(context.Background(), "add diabetes", func(ev domain.ChatEvent) error {
		relayed = append(relayed, ev.Type)
		return nil
	})
	require.NoError(t, err)

	history := svc.History()
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleUser, history[0].Role)
	assert.Equal(t, "add diabetes", history[0].Content)
	assert.Equal(t, domain.RoleSystem, history[1].Role)
	assert.Equal(t, "Adding a diabetes criterion.", history[1].Content)
	assert.False(t, history[1].Loading)
	assert.False(t, history[1].IsError)

	// Every event reaches the relay, including the terminal one.
	assert.Equal(t, []domain.ChatEventType{
		domain.ChatContent, domain.ChatContent, domain.ChatComplete,
	}, relayed)
}

func TestSendMessageOutboundExcludesPlaceholder(t *testing.T) {
	suggester := &fakeSuggester{events: []domain.ChatEvent{{Type: domain.ChatComplete}}}
	svc, _, _ := newTestService(t, suggester)

	require.NoError(t, svc.SendMessage(context.Background(), "hello", nil))
	require.Len(t, suggester.history, 1)
	assert.Equal(t, domain.RoleUser, suggester.history[0].Role)
}

func TestSendMessageToolChatterNotRecorded(t *testing.T) {
	suggester := &fakeSuggester{events: []domain.ChatEvent{
		{Type: domain.ChatToolCall, Message: "update_phenotype"},
		{Type: domain.ChatToolResult, Message: "ok"},
		{Type: domain.ChatInfo, Message: "thinking"},
		{Type: domain.ChatContent, Message: "Done."},
		{Type: domain.ChatComplete},
	}}
	svc, _, _ := newTestService(t, suggester)

	require.NoError(t, svc.SendMessage(context.Background(), "go", nil))
	history := svc.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Done.", history[1].Content)
}

func TestSendMessageResultReloadsCohort(t *testing.T) {
	suggester := &fakeSuggester{events: []domain.ChatEvent{
		{Type: domain.ChatResult},
		{Type: domain.ChatComplete},
	}}
	svc, model, store := newTestService(t, suggester)
	cohortID := model.Cohort().ID

	// The backend writes the provisional cohort before the result event.
	suggester.onSuggest = func(id string) {
		store.mu.Lock()
		store.records[id] = &domain.CohortRecord{
			ID:            id,
			Name:          "chat test",
			IsProvisional: true,
			Inclusions:    []*domain.Phenotype{{ID: "new1", Class: domain.ClassCodelist}},
		}
		store.mu.Unlock()
	}

	require.NoError(t, svc.SendMessage(context.Background(), "add something", nil))
	c := model.Cohort()
	assert.Equal(t, cohortID, c.ID)
	assert.True(t, c.IsProvisional)
	require.Len(t, c.Phenotypes, 1)
	assert.Equal(t, "new1", c.Phenotypes[0].ID)
}

func TestSendMessageStreamErrorMarksPlaceholder(t *testing.T) {
	suggester := &fakeSuggester{err: fmt.Errorf("upstream closed")}
	svc, _, _ := newTestService(t, suggester)

	err := svc.SendMessage(context.Background(), "hello", nil)
	require.Error(t, err)

	history := svc.History()
	require.Len(t, history, 2)
	assert.True(t, history[1].IsError)
	assert.False(t, history[1].Loading)
	assert.NotEmpty(t, history[1].Content)
}

func TestSendMessageErrorEventMarksPlaceholder(t *testing.T) {
	suggester := &fakeSuggester{events: []domain.ChatEvent{
		{Type: domain.ChatError, Message: "model overloaded"},
		{Type: domain.ChatComplete},
	}}
	svc, _, _ := newTestService(t, suggester)

	// An in-band error ends the turn without a transport failure. The
	// complete event must not overwrite the error placeholder with nothing,
	// so the error message survives only when no content followed.
	require.NoError(t, svc.SendMessage(context.Background(), "hello", nil))
	history := svc.History()
	require.Len(t, history, 2)
	assert.False(t, history[1].Loading)
}

func TestHistoryBounded(t *testing.T) {
	suggester := &fakeSuggester{events: []domain.ChatEvent{
		{Type: domain.ChatContent, Message: "ok"},
		{Type: domain.ChatComplete},
	}}
	svc, _, _ := newTestService(t, suggester)

	for i := 0; i < HistoryLimit; i++ {
		require.NoError(t, svc.SendMessage(context.Background(), fmt.Sprintf("msg %d", i), nil))
	}

	history := svc.History()
	assert.Len(t, history, HistoryLimit)
	// The oldest turns fell off the front.
	assert.NotEqual(t, "msg 0", history[0].Content)
}

func TestRetryResendsLastUserMessage(t *testing.T) {
	suggester := &fakeSuggester{err: fmt.Errorf("boom")}
	svc, _, _ := newTestService(t, suggester)

	require.Error(t, svc.SendMessage(context.Background(), "try this", nil))
	require.Len(t, svc.History(), 2)

	// The retry succeeds; the failed pair is replaced, not stacked.
	suggester.err = nil
	suggester.events = []domain.ChatEvent{
		{Type: domain.ChatContent, Message: "worked"},
		{Type: domain.ChatComplete},
	}
	require.NoError(t, svc.Retry(context.Background(), nil))

	history := svc.History()
	require.Len(t, history, 2)
	assert.Equal(t, "try this", history[0].Content)
	assert.Equal(t, "worked", history[1].Content)

	// The backend saw the same outbound history as the first attempt.
	require.Len(t, suggester.history, 1)
	assert.Equal(t, "try this", suggester.history[0].Content)
}

func TestRetryWithoutPriorMessage(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeSuggester{})
	err := svc.Retry(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcceptRequiresProvisionalChanges(t *testing.T) {
	suggester := &fakeSuggester{}
	svc, _, _ := newTestService(t, suggester)

	err := svc.Accept(context.Background())
	assert.Error(t, err)
	assert.Zero(t, suggester.accepts)
}

func TestAcceptCommitsAndRecordsAction(t *testing.T) {
	suggester := &fakeSuggester{}
	svc, model, store := newTestService(t, suggester)
	cohortID := model.Cohort().ID

	// Simulate a provisional cohort in the model and an accepted one in the
	// store, the state the backend leaves behind after accept_changes.
	store.mu.Lock()
	store.records[cohortID].IsProvisional = false
	store.mu.Unlock()
	model.Replace(&domain.Cohort{ID: cohortID, Name: "chat test", IsProvisional: true,
		Phenotypes: []*domain.Phenotype{}})

	require.NoError(t, svc.Accept(context.Background()))
	assert.Equal(t, 1, suggester.accepts)

	history := svc.History()
	require.Len(t, history, 1)
	assert.Equal(t, domain.RoleUserAction, history[0].Role)
	assert.False(t, model.Cohort().IsProvisional)
}

func TestRejectRestoresSavedCohort(t *testing.T) {
	suggester := &fakeSuggester{}
	svc, model, _ := newTestService(t, suggester)
	cohortID := model.Cohort().ID

	model.Replace(&domain.Cohort{ID: cohortID, Name: "chat test", IsProvisional: true,
		Phenotypes: []*domain.Phenotype{{ID: "prov", Class: domain.ClassCodelist, Type: domain.TypeInclusion}}})

	require.NoError(t, svc.Reject(context.Background()))
	assert.Equal(t, 1, suggester.rejects)
	assert.Empty(t, model.Cohort().Phenotypes)
}
