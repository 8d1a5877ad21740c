package post

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportadm/events-api/internal/handler"
	"github.com/sportadm/events-api/internal/model"
	apperrors "github.com/sportadm/events-api/pkg/errors"
)

type fakeService struct {
	posts map[uuid.UUID]*model.Post
}

func newFakeService() *fakeService {
	return &fakeService{posts: map[uuid.UUID]*model.Post{}}
}

func (s *fakeService) Create(ctx context.Context, post *model.Post) error {
	if post.Status == "" {
		post.Status = model.PostStatusDraft
	}
	post.ID = uuid.New()
	s.posts[post.ID] = post
	return nil
}

func (s *fakeService) Update(ctx context.Context, post *model.Post) error {
	if _, ok := s.posts[post.ID]; !ok {
		return apperrors.NewNotFound("post", nil)
	}
	s.posts[post.ID] = post
	return nil
}

func (s *fakeService) Get(ctx context.Context, id uuid.UUID) (*model.Post, error) {
	if post, ok := s.posts[id]; ok {
		return post, nil
	}
	return nil, apperrors.NewNotFound("post", nil)
}

func (s *fakeService) List(ctx context.Context, filters *model.PostFilters) ([]*model.Post, error) {
	var out []*model.Post
	for _, post := range s.posts {
		if filters.Status != nil && post.Status != *filters.Status {
			continue
		}
		out = append(out, post)
	}
	return out, nil
}

func (s *fakeService) ChangeStatus(ctx context.Context, id uuid.UUID, next model.PostStatus, errText *string) (*model.Post, error) {
	post, ok := s.posts[id]
	if !ok {
		return nil, apperrors.NewNotFound("post", nil)
	}
	if !model.CanTransition(post.Status, next) {
		return nil, apperrors.NewInvalidTransition(string(post.Status), string(next))
	}
	post.Status = next
	post.Error = errText
	return post, nil
}

func (s *fakeService) ListDeliveries(ctx context.Context, postID uuid.UUID) ([]*model.DeliveryAttempt, error) {
	if _, ok := s.posts[postID]; !ok {
		return nil, apperrors.NewNotFound("post", nil)
	}
	return []*model.DeliveryAttempt{{PostID: postID, Target: "chat-1", AttemptNo: 1, Status: model.DeliveryStatusSent}}, nil
}

func setupRouter(svc *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewHandler(svc).RegisterRoutes(engine.Group(""))
	return engine
}

func performRequest(engine *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestCreatePost(t *testing.T) {
	svc := newFakeService()
	engine := setupRouter(svc)

	w := performRequest(engine, http.MethodPost, "/posts", gin.H{
		"event_id":   uuid.New().String(),
		"title":      "Season opener",
		"body":       "Doors at 18:00",
		"publish_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		"audience":   "PUBLIC",
		"channel":    "TELEGRAM",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp handler.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.Len(t, svc.posts, 1)
}

func TestCreatePostRejectsBadChannel(t *testing.T) {
	engine := setupRouter(newFakeService())

	w := performRequest(engine, http.MethodPost, "/posts", gin.H{
		"event_id":   uuid.New().String(),
		"title":      "Season opener",
		"publish_at": time.Now().Format(time.RFC3339),
		"audience":   "PUBLIC",
		"channel":    "SMS",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPostNotFound(t *testing.T) {
	engine := setupRouter(newFakeService())

	w := performRequest(engine, http.MethodGet, "/posts/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(engine, http.MethodGet, "/posts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangeStatus(t *testing.T) {
	svc := newFakeService()
	engine := setupRouter(svc)

	post := &model.Post{EventID: uuid.New(), Title: "t", PublishAt: time.Now(),
		Audience: model.AudiencePublic, Channel: model.ChannelTelegram}
	require.NoError(t, svc.Create(context.Background(), post))

	path := fmt.Sprintf("/posts/%s/status", post.ID)
	w := performRequest(engine, http.MethodPatch, path, gin.H{"status": "SCHEDULED"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.PostStatusScheduled, svc.posts[post.ID].Status)

	// Illegal edge surfaces as a conflict.
	w = performRequest(engine, http.MethodPatch, path, gin.H{"status": "PUBLISHED"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, model.PostStatusScheduled, svc.posts[post.ID].Status)
}

func TestListPostsWithStatusFilter(t *testing.T) {
	svc := newFakeService()
	engine := setupRouter(svc)

	draft := &model.Post{EventID: uuid.New(), Title: "a", PublishAt: time.Now(),
		Audience: model.AudiencePublic, Channel: model.ChannelTelegram}
	require.NoError(t, svc.Create(context.Background(), draft))
	scheduled := &model.Post{EventID: uuid.New(), Title: "b", PublishAt: time.Now(),
		Status: model.PostStatusScheduled, Audience: model.AudiencePublic, Channel: model.ChannelTelegram}
	require.NoError(t, svc.Create(context.Background(), scheduled))

	w := performRequest(engine, http.MethodGet, "/posts?status=SCHEDULED", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string        `json:"status"`
		Data   []*model.Post `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "b", resp.Data[0].Title)

	w = performRequest(engine, http.MethodGet, "/posts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDeliveries(t *testing.T) {
	svc := newFakeService()
	engine := setupRouter(svc)

	post := &model.Post{EventID: uuid.New(), Title: "t", PublishAt: time.Now(),
		Audience: model.AudienceSubscribers, Channel: model.ChannelTelegram}
	require.NoError(t, svc.Create(context.Background(), post))

	w := performRequest(engine, http.MethodGet, fmt.Sprintf("/posts/%s/deliveries", post.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []*model.DeliveryAttempt `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "chat-1", resp.Data[0].Target)
}
