package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	gocache "github.com/patrickmn/go-cache"

	"github.com/sportadm/events-api/internal/model"
	"github.com/sportadm/events-api/internal/repository"
	postsvc "github.com/sportadm/events-api/internal/service/post"
	apperrors "github.com/sportadm/events-api/pkg/errors"
	"github.com/sportadm/events-api/pkg/logger"
	"github.com/sportadm/events-api/pkg/messaging"
)

const (
	maxErrorLen = 500

	// internalTarget is the ledger target for INTERNAL channel deliveries.
	internalTarget = "internal"

	publishedTopic = "posts.published"

	eventCacheTTL     = 5 * time.Minute
	eventCacheCleanup = 10 * time.Minute
)

// Config is the dispatch-engine surface of the application config.
type Config struct {
	// DefaultTargets maps a channel to the recipient used for PUBLIC posts
	// without a per-post override. A channel with no entry fails PUBLIC posts
	// with a missing-target error.
	DefaultTargets map[model.Channel]string
	MaxAttempts    int
}

// PublishedEvent is emitted on the broker after a post reaches PUBLISHED.
type PublishedEvent struct {
	PostID  uuid.UUID     `json:"post_id"`
	EventID uuid.UUID     `json:"event_id"`
	Channel model.Channel `json:"channel"`
}

// Service claims due posts and drives them to a terminal dispatch status.
type Service struct {
	posts      repository.PostRepository
	deliveries repository.DeliveryRepository
	events     repository.EventRepository
	subs       repository.SubscriptionRepository
	senders    map[model.Channel]Sender
	broker     messaging.Broker
	config     Config
	logger     *logger.Logger
	eventCache *gocache.Cache
}

func NewService(
	posts repository.PostRepository,
	deliveries repository.DeliveryRepository,
	events repository.EventRepository,
	subs repository.SubscriptionRepository,
	senders map[model.Channel]Sender,
	broker messaging.Broker,
	config Config,
	logger *logger.Logger,
) *Service {
	if config.MaxAttempts <= 0 {
		panic("MaxAttempts must be greater than 0")
	}
	return &Service{
		posts:      posts,
		deliveries: deliveries,
		events:     events,
		subs:       subs,
		senders:    senders,
		broker:     broker,
		config:     config,
		logger:     logger,
		eventCache: gocache.New(eventCacheTTL, eventCacheCleanup),
	}
}

// BatchResult summarizes one dispatch pass. Skipped counts idempotent no-ops
// on posts that were already PUBLISHED when selected; they are neither
// successes nor failures.
type BatchResult struct {
	Claimed   int
	Published int
	Failed    int
	Skipped   int
}

type dispatchOutcome int

const (
	outcomePublished dispatchOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// RunBatch claims one batch of due posts and dispatches each in (publish_at,
// id) order. The claim and every status write share one transaction, so the
// claimed rows stay locked against sibling workers until the pass commits. A
// claimed count below limit means the due backlog is drained for this pass.
func (s *Service) RunBatch(ctx context.Context, now time.Time, limit int) (BatchResult, error) {
	var published []PublishedEvent
	var result BatchResult

	err := s.posts.WithTx(ctx, func(tx *sqlx.Tx) error {
		batch, err := s.posts.ClaimDueTx(ctx, tx, now, limit)
		if err != nil {
			return fmt.Errorf("failed to claim due posts: %w", err)
		}
		result.Claimed = len(batch)

		for _, post := range batch {
			switch s.dispatchOne(ctx, tx, post) {
			case outcomePublished:
				result.Published++
				published = append(published, PublishedEvent{
					PostID:  post.ID,
					EventID: post.EventID,
					Channel: post.Channel,
				})
			case outcomeFailed:
				result.Failed++
			case outcomeSkipped:
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	// Broker notifications ride behind the commit; a broker outage must not
	// influence dispatch correctness.
	for _, evt := range published {
		if s.broker == nil {
			break
		}
		if err := s.broker.Publish(ctx, publishedTopic, evt); err != nil {
			s.logger.Error(err, "failed to publish post event", "post_id", evt.PostID.String())
		}
	}
	return result, nil
}

// dispatchOne runs a single post to its terminal status inside the batch
// transaction. It is a failure boundary: panics and errors become a FAILED
// status write, never a rollback, so one bad post cannot unwind the claim or
// starve its siblings.
func (s *Service) dispatchOne(ctx context.Context, tx *sqlx.Tx, post *model.Post) (outcome dispatchOutcome) {
	if post.Status == model.PostStatusPublished {
		// Idempotent re-affirmation; nothing to send, nothing to count.
		return outcomeSkipped
	}

	var finalStatus model.PostStatus
	var finalErr *string

	defer func() {
		if p := recover(); p != nil {
			finalStatus = model.PostStatusFailed
			msg := fmt.Sprintf("panic during dispatch: %v", p)
			finalErr = postsvc.Truncate(&msg, maxErrorLen)
			s.logger.Error(nil, "panic while dispatching post", "post_id", post.ID.String(), "panic", fmt.Sprint(p))
		}
		// The finalization write is unconditional: a claimed post never stays
		// SCHEDULED.
		if err := s.posts.UpdateStatusTx(ctx, tx, post.ID, finalStatus, finalErr); err != nil {
			s.logger.Error(err, "failed to finalize post status", "post_id", post.ID.String())
		}
		if finalStatus == model.PostStatusPublished {
			outcome = outcomePublished
		} else {
			outcome = outcomeFailed
		}
	}()

	finalStatus, finalErr = s.send(ctx, tx, post)
	return
}

// send performs steps 1-4 of the dispatch algorithm and reduces them to the
// post's final status plus error text.
func (s *Service) send(ctx context.Context, tx *sqlx.Tx, post *model.Post) (model.PostStatus, *string) {
	sender, supported := s.senders[post.Channel]
	if !supported {
		return s.failed(post, apperrors.NewUnsupportedCombination(string(post.Channel), string(post.Audience)))
	}

	text := renderText(post)

	switch post.Audience {
	case model.AudiencePublic:
		return s.dispatchPublic(ctx, tx, post, sender, text)
	case model.AudienceSubscribers:
		return s.dispatchSubscribers(ctx, tx, post, sender, text)
	default:
		return s.failed(post, apperrors.NewUnsupportedCombination(string(post.Channel), string(post.Audience)))
	}
}

// dispatchPublic sends to exactly one target. Any failure here is fatal to the
// post: a public announcement that did not reach its channel is worthless.
func (s *Service) dispatchPublic(ctx context.Context, tx *sqlx.Tx, post *model.Post, sender Sender, text string) (model.PostStatus, *string) {
	target, err := s.resolvePublicTarget(post)
	if err != nil {
		// Missing target fails before any send; no ledger row is written.
		return s.failed(post, err)
	}

	pres, err := s.resolvePresentation(ctx, tx, post)
	if err != nil {
		return s.failed(post, err)
	}

	outcome := s.sendOne(ctx, sender, post, target, text, pres, 1, tx)
	if !outcome.Sent() {
		return s.failed(post, apperrors.NewChannelError(string(post.Channel), outcome.Err))
	}
	return model.PostStatusPublished, nil
}

// dispatchSubscribers fans out to every active subscriber target. One bad chat
// must not block delivery to the rest: per-target failures land in the ledger
// for the retry pass, and the post still counts as PUBLISHED as long as the
// fan-out itself completed.
func (s *Service) dispatchSubscribers(ctx context.Context, tx *sqlx.Tx, post *model.Post, sender Sender, text string) (model.PostStatus, *string) {
	targets, err := s.subs.ActiveTargets(ctx, post.EventID, post.Channel)
	if err != nil {
		return s.failed(post, fmt.Errorf("failed to resolve subscribers: %w", err))
	}

	pres, err := s.resolvePresentation(ctx, tx, post)
	if err != nil {
		return s.failed(post, err)
	}

	var failures []string
	for _, target := range targets {
		outcome := s.sendOne(ctx, sender, post, target, text, pres, 1, tx)
		if !outcome.Sent() {
			failures = append(failures, fmt.Sprintf("%s: %v", target, outcome.Err))
		}
	}

	if len(failures) > 0 {
		msg := "partial failures: " + strings.Join(failures, " | ")
		s.logger.Warn("subscriber fan-out had failures",
			"post_id", post.ID.String(), "targets", len(targets), "failed", len(failures))
		return model.PostStatusPublished, postsvc.Truncate(&msg, maxErrorLen)
	}
	return model.PostStatusPublished, nil
}

// sendOne performs a single-target send and records the attempt in the
// ledger. Ledger write failures are logged, never propagated; the ledger must
// not abort the fan-out.
func (s *Service) sendOne(ctx context.Context, sender Sender, post *model.Post, target, text string, pres *Presentation, attemptNo int, tx *sqlx.Tx) SendOutcome {
	outcome := SendOutcome{Target: target, Err: sender.Send(ctx, target, text, pres)}

	status := model.DeliveryStatusSent
	var errText *string
	if !outcome.Sent() {
		status = model.DeliveryStatusFailed
		msg := outcome.Err.Error()
		errText = postsvc.Truncate(&msg, maxErrorLen)
		s.logger.Warn("delivery attempt failed",
			"post_id", post.ID.String(), "target", target,
			"attempt_no", attemptNo, "retry_after", Backoff(attemptNo).String())
	}
	if err := s.deliveries.UpsertAttemptTx(ctx, tx, post.ID, target, attemptNo, status, errText); err != nil {
		s.logger.Error(err, "failed to record delivery attempt",
			"post_id", post.ID.String(), "target", target, "attempt_no", attemptNo)
	}
	return outcome
}

func (s *Service) resolvePublicTarget(post *model.Post) (string, error) {
	if post.TargetOverride != nil && strings.TrimSpace(*post.TargetOverride) != "" {
		return strings.TrimSpace(*post.TargetOverride), nil
	}
	if def, ok := s.config.DefaultTargets[post.Channel]; ok && strings.TrimSpace(def) != "" {
		return strings.TrimSpace(def), nil
	}
	return "", apperrors.NewMissingTarget(string(post.Channel))
}

// resolvePresentation assembles the recipient-facing controls: outbound link
// (post override first, event link second) and, for PUBLIC posts, whether any
// prior post for the event already reached PUBLISHED. The published count is
// read non-atomically against sibling dispatchers; first-vs-follow-up is
// best-effort cosmetics, not a correctness invariant.
func (s *Service) resolvePresentation(ctx context.Context, tx *sqlx.Tx, post *model.Post) (*Presentation, error) {
	event, err := s.eventInfo(ctx, post.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}

	pres := &Presentation{EventID: event.ID}
	if post.LinkURL != nil && strings.TrimSpace(*post.LinkURL) != "" {
		pres.LinkURL = strings.TrimSpace(*post.LinkURL)
	} else if event.LinkURL != nil {
		pres.LinkURL = strings.TrimSpace(*event.LinkURL)
	}

	if post.Audience == model.AudiencePublic {
		count, err := s.posts.CountPublishedByEventTx(ctx, tx, post.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to count published posts: %w", err)
		}
		pres.FirstAnnouncement = count == 0
	}
	return pres, nil
}

func (s *Service) eventInfo(ctx context.Context, eventID uuid.UUID) (*model.Event, error) {
	key := eventID.String()
	if cached, found := s.eventCache.Get(key); found {
		return cached.(*model.Event), nil
	}
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.eventCache.Set(key, event, gocache.DefaultExpiration)
	return event, nil
}

func (s *Service) failed(post *model.Post, err error) (model.PostStatus, *string) {
	msg := err.Error()
	s.logger.Warn("dispatch failed", "post_id", post.ID.String(), "error", msg)
	return model.PostStatusFailed, postsvc.Truncate(&msg, maxErrorLen)
}

// renderText joins title and body, omitting a blank body.
func renderText(post *model.Post) string {
	title := strings.TrimSpace(post.Title)
	body := strings.TrimSpace(post.Body)
	if body == "" {
		return title
	}
	return title + "\n\n" + body
}
