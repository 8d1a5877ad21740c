package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sportadm/events-api/internal/model"
	"github.com/sportadm/events-api/internal/repository"
	apperrors "github.com/sportadm/events-api/pkg/errors"
)

// maxErrorLen caps the operator-visible error text stored on a post.
const maxErrorLen = 500

type Service interface {
	Create(ctx context.Context, post *model.Post) error
	Update(ctx context.Context, post *model.Post) error
	Get(ctx context.Context, id uuid.UUID) (*model.Post, error)
	List(ctx context.Context, filters *model.PostFilters) ([]*model.Post, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, next model.PostStatus, errText *string) (*model.Post, error)
	ListDeliveries(ctx context.Context, postID uuid.UUID) ([]*model.DeliveryAttempt, error)
}

type service struct {
	posts      repository.PostRepository
	deliveries repository.DeliveryRepository
}

func NewService(posts repository.PostRepository, deliveries repository.DeliveryRepository) Service {
	return &service{
		posts:      posts,
		deliveries: deliveries,
	}
}

func (s *service) Create(ctx context.Context, post *model.Post) error {
	if post.Status == "" {
		post.Status = model.PostStatusDraft
	}
	if post.Status != model.PostStatusDraft && post.Status != model.PostStatusScheduled {
		return apperrors.NewBadRequest(
			fmt.Sprintf("posts start as %s or %s", model.PostStatusDraft, model.PostStatusScheduled), nil)
	}
	if err := validatePost(post); err != nil {
		return err
	}
	return s.posts.Create(ctx, post)
}

func (s *service) Update(ctx context.Context, post *model.Post) error {
	if err := validatePost(post); err != nil {
		return err
	}

	current, err := s.posts.Get(ctx, post.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFound("post", err)
		}
		return err
	}

	if post.Status != current.Status && !model.CanTransition(current.Status, post.Status) {
		return apperrors.NewInvalidTransition(string(current.Status), string(post.Status))
	}
	return s.posts.Update(ctx, post)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Post, error) {
	post, err := s.posts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("post", err)
		}
		return nil, err
	}
	return post, nil
}

func (s *service) List(ctx context.Context, filters *model.PostFilters) ([]*model.Post, error) {
	return s.posts.List(ctx, filters)
}

// ChangeStatus applies one edge of the post state machine. Illegal edges are
// rejected and the record stays untouched. Operators use SCHEDULED on a FAILED
// or CANCELED post to force a full re-dispatch; that is a coarser tool than
// the per-recipient retry ledger.
func (s *service) ChangeStatus(ctx context.Context, id uuid.UUID, next model.PostStatus, errText *string) (*model.Post, error) {
	post, err := s.posts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("post", err)
		}
		return nil, err
	}

	if !model.CanTransition(post.Status, next) {
		return nil, apperrors.NewInvalidTransition(string(post.Status), string(next))
	}

	errText = Truncate(errText, maxErrorLen)
	if err := s.posts.UpdateStatus(ctx, id, next, errText); err != nil {
		return nil, err
	}
	post.Status = next
	post.Error = errText
	return post, nil
}

func (s *service) ListDeliveries(ctx context.Context, postID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	if _, err := s.Get(ctx, postID); err != nil {
		return nil, err
	}
	return s.deliveries.ListByPost(ctx, postID)
}

// Truncate caps error text at max runes, nil-safe.
func Truncate(s *string, max int) *string {
	if s == nil {
		return nil
	}
	runes := []rune(*s)
	if len(runes) <= max {
		return s
	}
	short := string(runes[:max])
	return &short
}

func validatePost(post *model.Post) error {
	if post == nil {
		return apperrors.NewBadRequest("post is required", nil)
	}
	if post.EventID == uuid.Nil {
		return apperrors.NewBadRequest("event id is required", nil)
	}
	if post.Title == "" {
		return apperrors.NewBadRequest("title is required", nil)
	}
	if post.PublishAt.IsZero() {
		return apperrors.NewBadRequest("publish_at is required", nil)
	}
	if _, ok := model.ParseAudience(string(post.Audience)); !ok {
		return apperrors.NewBadRequest("unknown audience", nil)
	}
	if _, ok := model.ParseChannel(string(post.Channel)); !ok {
		return apperrors.NewBadRequest("unknown channel", nil)
	}
	return nil
}
