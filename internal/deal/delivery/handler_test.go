package delivery

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"dealdesk-backend/internal/deal/domain"
	"dealdesk-backend/internal/deal/repository"
	"dealdesk-backend/internal/deal/usecase"
	"dealdesk-backend/pkg/gmail"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubDeals struct {
	rescoreErr error
}

func (s stubDeals) List(ctx context.Context, userID string, limit, offset int) ([]*domain.DealWithMessage, int64, error) {
	return []*domain.DealWithMessage{{Deal: domain.Deal{ID: "d1", Company: "Acme"}}}, 1, nil
}

func (s stubDeals) Get(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error) {
	if dealID != "d1" {
		return nil, repository.ErrDealNotFound
	}
	return &domain.DealWithMessage{Deal: domain.Deal{ID: "d1", Company: "Acme"}}, nil
}

func (s stubDeals) Rescore(ctx context.Context, userID, dealID string) (*domain.DealWithMessage, error) {
	if s.rescoreErr != nil {
		return nil, s.rescoreErr
	}
	return s.Get(ctx, userID, dealID)
}

func (s stubDeals) UpdateStage(ctx context.Context, userID, dealID, stage string) (*domain.DealWithMessage, error) {
	if stage != "seed" {
		return nil, usecase.ErrInvalidStage
	}
	return s.Get(ctx, userID, dealID)
}

func newRouter(deals usecase.DealUsecase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDealHandler(deals)
	r := gin.New()
	r.GET("/deals", h.List)
	r.GET("/deals/:id", h.Get)
	r.POST("/deals/:id/rescore", h.Rescore)
	r.PATCH("/deals/:id/stage", h.UpdateStage)
	return r
}

func request(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDealHandler(t *testing.T) {
	r := newRouter(stubDeals{})

	w := request(r, http.MethodGet, "/deals?limit=500", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"limit":50`)

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/deals/d1", "").Code)
	assert.Equal(t, http.StatusNotFound, request(r, http.MethodGet, "/deals/nope", "").Code)

	assert.Equal(t, http.StatusOK, request(r, http.MethodPatch, "/deals/d1/stage", `{"stage":"seed"}`).Code)
	assert.Equal(t, http.StatusBadRequest, request(r, http.MethodPatch, "/deals/d1/stage", `{"stage":"unicorn"}`).Code)
	assert.Equal(t, http.StatusBadRequest, request(r, http.MethodPatch, "/deals/d1/stage", `{}`).Code)
}

func TestDealHandler_RescoreGatewayErrors(t *testing.T) {
	cases := map[error]int{
		gmail.ErrReauthRequired: http.StatusConflict,
		gmail.ErrRateLimited:    http.StatusTooManyRequests,
		gmail.ErrNotFound:       http.StatusNotFound,
	}
	for err, code := range cases {
		r := newRouter(stubDeals{rescoreErr: err})
		assert.Equal(t, code, request(r, http.MethodPost, "/deals/d1/rescore", "").Code, err.Error())
	}
}
