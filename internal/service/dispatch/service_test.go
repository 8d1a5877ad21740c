package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportadm/events-api/internal/model"
	"github.com/sportadm/events-api/pkg/logger"
)

type statusWrite struct {
	id      uuid.UUID
	status  model.PostStatus
	errText *string
}

type fakePostRepo struct {
	claim     []*model.Post
	posts     map[uuid.UUID]*model.Post
	published map[uuid.UUID]int64
	writes    []statusWrite
}

func (r *fakePostRepo) Create(ctx context.Context, post *model.Post) error { return nil }
func (r *fakePostRepo) Get(ctx context.Context, id uuid.UUID) (*model.Post, error) {
	return r.GetTx(ctx, nil, id)
}
func (r *fakePostRepo) Update(ctx context.Context, post *model.Post) error { return nil }
func (r *fakePostRepo) List(ctx context.Context, filters *model.PostFilters) ([]*model.Post, error) {
	return nil, nil
}
func (r *fakePostRepo) ClaimDueTx(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]*model.Post, error) {
	if len(r.claim) > limit {
		return r.claim[:limit], nil
	}
	batch := r.claim
	r.claim = nil
	return batch, nil
}
func (r *fakePostRepo) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status model.PostStatus, errText *string) error {
	r.writes = append(r.writes, statusWrite{id: id, status: status, errText: errText})
	if post, ok := r.posts[id]; ok {
		post.Status = status
		post.Error = errText
	}
	return nil
}
func (r *fakePostRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.PostStatus, errText *string) error {
	return r.UpdateStatusTx(ctx, nil, id, status, errText)
}
func (r *fakePostRepo) CountPublishedByEventTx(ctx context.Context, tx *sqlx.Tx, eventID uuid.UUID) (int64, error) {
	return r.published[eventID], nil
}
func (r *fakePostRepo) GetTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*model.Post, error) {
	if post, ok := r.posts[id]; ok {
		return post, nil
	}
	return nil, sql.ErrNoRows
}
func (r *fakePostRepo) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return fn(nil)
}

type upsert struct {
	postID    uuid.UUID
	target    string
	attemptNo int
	status    model.DeliveryStatus
	errText   *string
}

type fakeDeliveryRepo struct {
	upserts []upsert
	retries []*model.DeliveryAttempt
}

func (r *fakeDeliveryRepo) UpsertAttemptTx(ctx context.Context, tx *sqlx.Tx, postID uuid.UUID, target string, attemptNo int, status model.DeliveryStatus, errText *string) error {
	r.upserts = append(r.upserts, upsert{postID: postID, target: target, attemptNo: attemptNo, status: status, errText: errText})
	return nil
}
func (r *fakeDeliveryRepo) ClaimDueRetriesTx(ctx context.Context, tx *sqlx.Tx, now time.Time, limit, maxAttempts int) ([]*model.DeliveryAttempt, error) {
	attempts := r.retries
	r.retries = nil
	return attempts, nil
}
func (r *fakeDeliveryRepo) ListByPost(ctx context.Context, postID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	return nil, nil
}

type fakeEventRepo struct {
	events map[uuid.UUID]*model.Event
}

func (r *fakeEventRepo) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	if event, ok := r.events[id]; ok {
		return event, nil
	}
	return nil, sql.ErrNoRows
}

type fakeSubRepo struct {
	targets []string
	err     error
}

func (r *fakeSubRepo) ActiveTargets(ctx context.Context, eventID uuid.UUID, channel model.Channel) ([]string, error) {
	return r.targets, r.err
}

type sendCall struct {
	target string
	text   string
	pres   *Presentation
}

type fakeSender struct {
	fail   map[string]error
	panics bool
	calls  []sendCall
}

func (s *fakeSender) Send(ctx context.Context, target, text string, pres *Presentation) error {
	if s.panics {
		panic("sender exploded")
	}
	s.calls = append(s.calls, sendCall{target: target, text: text, pres: pres})
	return s.fail[target]
}

type brokerMessage struct {
	channel string
	payload interface{}
}

type fakeBroker struct {
	messages []brokerMessage
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.messages = append(b.messages, brokerMessage{channel: channel, payload: message})
	return nil
}
func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}
func (b *fakeBroker) Close() error { return nil }

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

type fixture struct {
	posts      *fakePostRepo
	deliveries *fakeDeliveryRepo
	events     *fakeEventRepo
	subs       *fakeSubRepo
	sender     *fakeSender
	broker     *fakeBroker
	svc        *Service
}

func newFixture(defaults map[model.Channel]string) *fixture {
	f := &fixture{
		posts:      &fakePostRepo{posts: map[uuid.UUID]*model.Post{}, published: map[uuid.UUID]int64{}},
		deliveries: &fakeDeliveryRepo{},
		events:     &fakeEventRepo{events: map[uuid.UUID]*model.Event{}},
		subs:       &fakeSubRepo{},
		sender:     &fakeSender{fail: map[string]error{}},
		broker:     &fakeBroker{},
	}
	f.svc = NewService(
		f.posts, f.deliveries, f.events, f.subs,
		map[model.Channel]Sender{model.ChannelTelegram: f.sender},
		f.broker,
		Config{DefaultTargets: defaults, MaxAttempts: 5},
		testLogger(),
	)
	return f
}

func newScheduledPost(audience model.Audience) *model.Post {
	return &model.Post{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		Title:     "Season opener",
		Body:      "Doors at 18:00",
		PublishAt: time.Now().Add(-time.Minute),
		Status:    model.PostStatusScheduled,
		Audience:  audience,
		Channel:   model.ChannelTelegram,
	}
}

func (f *fixture) addPost(post *model.Post) {
	f.posts.posts[post.ID] = post
	f.posts.claim = append(f.posts.claim, post)
	if _, ok := f.events.events[post.EventID]; !ok {
		f.events.events[post.EventID] = &model.Event{ID: post.EventID, Name: "Derby"}
	}
}

func TestRunBatchSubscribersPartialFailure(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudienceSubscribers)
	f.addPost(post)
	f.subs.targets = []string{"chat-1", "chat-2", "chat-3"}
	f.sender.fail["chat-2"] = errors.New("blocked by user")

	result, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	assert.Equal(t, BatchResult{Claimed: 1, Published: 1, Failed: 0}, result)
	assert.Equal(t, model.PostStatusPublished, post.Status)
	require.NotNil(t, post.Error)
	assert.Contains(t, *post.Error, "partial failures:")
	assert.Contains(t, *post.Error, "chat-2")

	require.Len(t, f.deliveries.upserts, 3)
	for _, u := range f.deliveries.upserts {
		assert.Equal(t, 1, u.attemptNo)
	}
	assert.Equal(t, model.DeliveryStatusSent, f.deliveries.upserts[0].status)
	assert.Equal(t, model.DeliveryStatusFailed, f.deliveries.upserts[1].status)
	assert.Equal(t, model.DeliveryStatusSent, f.deliveries.upserts[2].status)

	require.Len(t, f.broker.messages, 1)
	assert.Equal(t, "posts.published", f.broker.messages[0].channel)
}

func TestRunBatchPublicMissingTarget(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudiencePublic)
	f.addPost(post)

	result, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	assert.Equal(t, BatchResult{Claimed: 1, Published: 0, Failed: 1}, result)
	assert.Equal(t, model.PostStatusFailed, post.Status)
	require.NotNil(t, post.Error)
	assert.Contains(t, *post.Error, "no recipient target")

	// Fails before any send; the ledger stays empty.
	assert.Empty(t, f.deliveries.upserts)
	assert.Empty(t, f.sender.calls)
	assert.Empty(t, f.broker.messages)
}

func TestRunBatchPublicSendFailureIsFatal(t *testing.T) {
	f := newFixture(map[model.Channel]string{model.ChannelTelegram: "main-channel"})
	post := newScheduledPost(model.AudiencePublic)
	f.addPost(post)
	f.sender.fail["main-channel"] = errors.New("gateway timeout")

	result, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.PostStatusFailed, post.Status)

	// The attempt is recorded so the retry pass can pick it up.
	require.Len(t, f.deliveries.upserts, 1)
	assert.Equal(t, model.DeliveryStatusFailed, f.deliveries.upserts[0].status)
	assert.Equal(t, "main-channel", f.deliveries.upserts[0].target)
	assert.Empty(t, f.broker.messages)
}

func TestRunBatchPublicTargetOverrideWins(t *testing.T) {
	f := newFixture(map[model.Channel]string{model.ChannelTelegram: "main-channel"})
	post := newScheduledPost(model.AudiencePublic)
	override := "vip-channel"
	post.TargetOverride = &override
	f.addPost(post)

	_, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, "vip-channel", f.sender.calls[0].target)
	assert.Equal(t, model.PostStatusPublished, post.Status)
}

func TestRunBatchUnsupportedChannel(t *testing.T) {
	f := newFixture(nil)
	post := newScheduledPost(model.AudiencePublic)
	post.Channel = model.ChannelEmail // no email sender registered
	f.addPost(post)

	result, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.PostStatusFailed, post.Status)
	require.NotNil(t, post.Error)
	assert.Contains(t, *post.Error, "unsupported channel/audience combination")
}

func TestRunBatchFirstAnnouncementPresentation(t *testing.T) {
	f := newFixture(map[model.Channel]string{model.ChannelTelegram: "main-channel"})

	first := newScheduledPost(model.AudiencePublic)
	f.addPost(first)

	followUp := newScheduledPost(model.AudiencePublic)
	f.addPost(followUp)
	f.posts.published[followUp.EventID] = 1

	link := "https://club.example.org/derby"
	f.events.events[first.EventID].LinkURL = &link

	_, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	require.Len(t, f.sender.calls, 2)
	firstPres := f.sender.calls[0].pres
	require.NotNil(t, firstPres)
	assert.True(t, firstPres.FirstAnnouncement)
	assert.Equal(t, "https://club.example.org/derby", firstPres.LinkURL)

	followPres := f.sender.calls[1].pres
	require.NotNil(t, followPres)
	assert.False(t, followPres.FirstAnnouncement)
}

func TestRunBatchPostLinkOverridesEventLink(t *testing.T) {
	f := newFixture(map[model.Channel]string{model.ChannelTelegram: "main-channel"})
	post := newScheduledPost(model.AudiencePublic)
	postLink := "https://tickets.example.org/derby"
	post.LinkURL = &postLink
	f.addPost(post)

	eventLink := "https://club.example.org/derby"
	f.events.events[post.EventID].LinkURL = &eventLink

	_, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, "https://tickets.example.org/derby", f.sender.calls[0].pres.LinkURL)
}

func TestRunBatchPanicBecomesFailedStatus(t *testing.T) {
	f := newFixture(map[model.Channel]string{model.ChannelTelegram: "main-channel"})
	bad := newScheduledPost(model.AudiencePublic)
	f.addPost(bad)
	f.sender.panics = true

	result, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.PostStatusFailed, bad.Status)
	require.NotNil(t, bad.Error)
	assert.Contains(t, *bad.Error, "panic during dispatch")
}

func TestRunBatchAlreadyPublishedIsSkipped(t *testing.T) {
	f := newFixture(map[model.Channel]string{model.ChannelTelegram: "main-channel"})
	post := newScheduledPost(model.AudiencePublic)
	post.Status = model.PostStatusPublished
	f.addPost(post)

	result, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)

	// An idempotent no-op is neither a success nor a failure.
	assert.Equal(t, BatchResult{Claimed: 1, Skipped: 1}, result)
	assert.Empty(t, f.posts.writes)
	assert.Empty(t, f.sender.calls)
	assert.Empty(t, f.broker.messages)
}

func TestRunBatchEmptyBacklog(t *testing.T) {
	f := newFixture(nil)

	result, err := f.svc.RunBatch(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, result)
	assert.Empty(t, f.posts.writes)
}

func TestRenderText(t *testing.T) {
	post := &model.Post{Title: "Kickoff moved", Body: "Now 19:30"}
	assert.Equal(t, "Kickoff moved\n\nNow 19:30", renderText(post))

	post.Body = "   "
	assert.Equal(t, "Kickoff moved", renderText(post))
}
