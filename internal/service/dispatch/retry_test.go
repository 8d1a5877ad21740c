package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportadm/events-api/internal/model"
)

func TestRunRetryBatchRecordsNextAttempt(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudienceSubscribers)
	post.Status = model.PostStatusPublished
	f.posts.posts[post.ID] = post

	f.deliveries.retries = []*model.DeliveryAttempt{{
		ID:        uuid.New(),
		PostID:    post.ID,
		Target:    "chat-2",
		AttemptNo: 2,
		Status:    model.DeliveryStatusFailed,
	}}

	claimed, err := f.svc.RunRetryBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	require.Len(t, f.deliveries.upserts, 1)
	assert.Equal(t, "chat-2", f.deliveries.upserts[0].target)
	assert.Equal(t, 3, f.deliveries.upserts[0].attemptNo)
	assert.Equal(t, model.DeliveryStatusSent, f.deliveries.upserts[0].status)

	// The retry loop operates on the ledger only.
	assert.Equal(t, model.PostStatusPublished, post.Status)
	assert.Empty(t, f.posts.writes)
}

func TestRunRetryBatchFailureStaysInLedger(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudienceSubscribers)
	post.Status = model.PostStatusPublished
	f.posts.posts[post.ID] = post
	f.sender.fail["chat-2"] = errors.New("still blocked")

	f.deliveries.retries = []*model.DeliveryAttempt{{
		PostID:    post.ID,
		Target:    "chat-2",
		AttemptNo: 1,
		Status:    model.DeliveryStatusFailed,
	}}

	claimed, err := f.svc.RunRetryBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	require.Len(t, f.deliveries.upserts, 1)
	assert.Equal(t, 2, f.deliveries.upserts[0].attemptNo)
	assert.Equal(t, model.DeliveryStatusFailed, f.deliveries.upserts[0].status)
	require.NotNil(t, f.deliveries.upserts[0].errText)
	assert.Contains(t, *f.deliveries.upserts[0].errText, "still blocked")
}

func TestRunRetryBatchSkipsUnknownChannel(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudienceSubscribers)
	post.Channel = model.ChannelEmail // no email sender registered
	f.posts.posts[post.ID] = post

	f.deliveries.retries = []*model.DeliveryAttempt{{
		PostID:    post.ID,
		Target:    "fan@example.org",
		AttemptNo: 1,
		Status:    model.DeliveryStatusFailed,
	}}

	claimed, err := f.svc.RunRetryBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Empty(t, f.deliveries.upserts)
}

func TestRunRetryBatchSkipsExhaustedAttempt(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudienceSubscribers)
	post.Status = model.PostStatusPublished
	f.posts.posts[post.ID] = post

	// MaxAttempts is 5; an attempt at the cap must never be re-sent even if
	// the claim hands it over.
	f.deliveries.retries = []*model.DeliveryAttempt{{
		PostID:    post.ID,
		Target:    "chat-2",
		AttemptNo: 5,
		Status:    model.DeliveryStatusFailed,
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}}

	claimed, err := f.svc.RunRetryBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Empty(t, f.deliveries.upserts)
	assert.Empty(t, f.sender.calls)
}

func TestRunRetryBatchHonorsBackoffWindow(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudienceSubscribers)
	post.Status = model.PostStatusPublished
	f.posts.posts[post.ID] = post

	now := time.Now()
	f.deliveries.retries = []*model.DeliveryAttempt{
		{
			// Attempt 1 backs off one minute; recorded just now, not yet due.
			PostID:    post.ID,
			Target:    "chat-early",
			AttemptNo: 1,
			Status:    model.DeliveryStatusFailed,
			CreatedAt: now,
		},
		{
			PostID:    post.ID,
			Target:    "chat-due",
			AttemptNo: 1,
			Status:    model.DeliveryStatusFailed,
			CreatedAt: now.Add(-2 * time.Minute),
		},
	}

	claimed, err := f.svc.RunRetryBatch(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	require.Len(t, f.deliveries.upserts, 1)
	assert.Equal(t, "chat-due", f.deliveries.upserts[0].target)
	assert.Equal(t, 2, f.deliveries.upserts[0].attemptNo)
}

func TestRunRetryBatchSkipsSupersededAttempt(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudienceSubscribers)
	post.Status = model.PostStatusPublished
	f.posts.posts[post.ID] = post

	old := time.Now().Add(-time.Hour)
	f.deliveries.retries = []*model.DeliveryAttempt{
		{
			PostID:    post.ID,
			Target:    "chat-2",
			AttemptNo: 1,
			Status:    model.DeliveryStatusFailed,
			CreatedAt: old,
		},
		{
			PostID:    post.ID,
			Target:    "chat-2",
			AttemptNo: 2,
			Status:    model.DeliveryStatusFailed,
			CreatedAt: old,
		},
	}

	claimed, err := f.svc.RunRetryBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	// Only the latest attempt for the target goes out; the stale row must not
	// re-send over its successor.
	require.Len(t, f.deliveries.upserts, 1)
	assert.Equal(t, 3, f.deliveries.upserts[0].attemptNo)
}

func TestRunRetryBatchSkipsMissingPost(t *testing.T) {
	f := newFixture(nil)
	f.deliveries.retries = []*model.DeliveryAttempt{{
		PostID:    uuid.New(),
		Target:    "chat-1",
		AttemptNo: 1,
		Status:    model.DeliveryStatusFailed,
	}}

	claimed, err := f.svc.RunRetryBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Empty(t, f.deliveries.upserts)
}
