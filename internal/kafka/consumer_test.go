package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotclaim/internal/config"
	"github.com/spotclaim/internal/domain"
)

type recordingHandler struct {
	applied  []domain.Event
	failures map[string][]error
}

func (h *recordingHandler) ApplyEvent(_ context.Context, event domain.Event) error {
	key := string(event.Type) + ":" + event.ClipID + event.TerritoryID + event.UserID
	if errs := h.failures[key]; len(errs) > 0 {
		h.failures[key] = errs[1:]
		return errs[0]
	}
	h.applied = append(h.applied, event)
	return nil
}

func testKafkaConfig() *config.KafkaConfig {
	return &config.KafkaConfig{
		BatchSize:     10,
		BatchTimeout:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    domain.EventType
		wantErr bool
	}{
		{name: "clip created", value: `{"type":"clip.created","clip_id":"c1","territory_id":"t1","user_id":"u1"}`, want: domain.EventClipCreated},
		{name: "territory deleted", value: `{"type":"territory.deleted","territory_id":"t1"}`, want: domain.EventTerritoryDeleted},
		{name: "profile", value: `{"type":"profile.upserted","user_id":"u1","handle":"alice"}`, want: domain.EventProfileUpserted},
		{name: "clip without owner", value: `{"type":"clip.created","clip_id":"c1","territory_id":"t1"}`, wantErr: true},
		{name: "clip delete without id", value: `{"type":"clip.deleted"}`, wantErr: true},
		{name: "unknown type", value: `{"type":"vote.cast"}`, wantErr: true},
		{name: "not json", value: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decodeEvent([]byte(tt.value))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Type)
		})
	}
}

func TestApplyEventsRetriesConflicts(t *testing.T) {
	handler := &recordingHandler{failures: map[string][]error{
		"clip.created:c1t1u1": {domain.ErrConcurrentConflict, domain.ErrConcurrentConflict},
	}}
	events := []domain.Event{
		{Type: domain.EventTerritoryCreated, TerritoryID: "t1"},
		{Type: domain.EventClipCreated, ClipID: "c1", TerritoryID: "t1", UserID: "u1"},
	}

	applied, failed, err := applyEvents(context.Background(), handler, events, testKafkaConfig(), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, failed)
	require.Len(t, handler.applied, 2)
	assert.Equal(t, domain.EventTerritoryCreated, handler.applied[0].Type)
	assert.Equal(t, domain.EventClipCreated, handler.applied[1].Type)
}

func TestApplyEventsSkipsPermanentFailures(t *testing.T) {
	handler := &recordingHandler{failures: map[string][]error{
		"clip.created:c1t1u1": {domain.ErrTerritoryNotFound, domain.ErrTerritoryNotFound},
	}}
	events := []domain.Event{
		{Type: domain.EventClipCreated, ClipID: "c1", TerritoryID: "t1", UserID: "u1"},
		{Type: domain.EventProfileUpserted, UserID: "u2"},
	}

	applied, failed, err := applyEvents(context.Background(), handler, events, testKafkaConfig(), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, failed)
	// the permanent failure is not retried
	assert.Len(t, handler.failures["clip.created:c1t1u1"], 1)
}

func TestApplyEventsGivesUpAfterRetries(t *testing.T) {
	conflicts := make([]error, 10)
	for i := range conflicts {
		conflicts[i] = domain.ErrConcurrentConflict
	}
	handler := &recordingHandler{failures: map[string][]error{"territory.deleted:t1": conflicts}}

	applied, failed, err := applyEvents(context.Background(), handler,
		[]domain.Event{
			{Type: domain.EventTerritoryDeleted, TerritoryID: "t1"},
			{Type: domain.EventProfileUpserted, UserID: "u1"},
		},
		testKafkaConfig(), discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConcurrentConflict)
	assert.Equal(t, 0, applied)
	assert.Equal(t, 0, failed)
	// one attempt plus three retries, and the rest of the batch is not touched
	assert.Len(t, handler.failures["territory.deleted:t1"], 6)
	assert.Empty(t, handler.applied)
}

func TestApplyEventsStopsOnStorageOutage(t *testing.T) {
	outage := make([]error, 10)
	for i := range outage {
		outage[i] = domain.ErrStorageUnavailable
	}
	handler := &recordingHandler{failures: map[string][]error{"clip.created:c1t1u1": outage}}
	cfg := testKafkaConfig()
	cfg.RetryAttempts = 2

	applied, failed, err := applyEvents(context.Background(), handler,
		[]domain.Event{
			{Type: domain.EventTerritoryCreated, TerritoryID: "t1"},
			{Type: domain.EventClipCreated, ClipID: "c1", TerritoryID: "t1", UserID: "u1"},
		},
		cfg, discardLogger())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 0, failed)
	assert.Len(t, handler.failures["clip.created:c1t1u1"], 7)
}

func TestApplyEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := &recordingHandler{}
	_, _, err := applyEvents(ctx, handler,
		[]domain.Event{{Type: domain.EventTerritoryCreated, TerritoryID: "t1"}},
		testKafkaConfig(), discardLogger())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, handler.applied)
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Partition() int32 { return 0 }

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(values ...string) *fakeClaim {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(values))}
	for i, value := range values {
		claim.messages <- &sarama.ConsumerMessage{Topic: "spotclaim-events", Offset: int64(i), Value: []byte(value)}
	}
	close(claim.messages)
	return claim
}

func newTestGroupHandler(handler EventHandler) *consumerGroupHandler {
	return &consumerGroupHandler{consumer: &Consumer{
		config:  testKafkaConfig(),
		handler: handler,
		logger:  discardLogger(),
	}}
}

func TestConsumeClaimMarksAppliedBatch(t *testing.T) {
	handler := &recordingHandler{failures: map[string][]error{
		"clip.created:c1t1u1": {domain.ErrTerritoryNotFound},
	}}
	session := &fakeSession{ctx: context.Background()}
	claim := claimOf(
		`{"type":"territory.created","territory_id":"t2"}`,
		`{"type":"clip.created","clip_id":"c1","territory_id":"t1","user_id":"u1"}`,
		`not json`,
	)

	err := newTestGroupHandler(handler).ConsumeClaim(session, claim)
	require.NoError(t, err)
	require.Len(t, session.marked, 1)
	assert.Equal(t, int64(2), session.marked[0].Offset)
	assert.Len(t, handler.applied, 1)
}

func TestConsumeClaimLeavesOffsetOnStorageOutage(t *testing.T) {
	outage := make([]error, 10)
	for i := range outage {
		outage[i] = domain.ErrStorageUnavailable
	}
	handler := &recordingHandler{failures: map[string][]error{"clip.created:c1t1u1": outage}}
	session := &fakeSession{ctx: context.Background()}
	claim := claimOf(
		`{"type":"territory.created","territory_id":"t1"}`,
		`{"type":"clip.created","clip_id":"c1","territory_id":"t1","user_id":"u1"}`,
	)

	err := newTestGroupHandler(handler).ConsumeClaim(session, claim)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Empty(t, session.marked)
}

func TestConsumeClaimLeavesOffsetWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handler := &recordingHandler{}
	session := &fakeSession{ctx: ctx}
	claim := claimOf(`{"type":"territory.created","territory_id":"t1"}`)

	err := newTestGroupHandler(handler).ConsumeClaim(session, claim)
	require.NoError(t, err)
	assert.Empty(t, session.marked)
}
