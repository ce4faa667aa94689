package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	skus map[int64]*models.SKU
}

func (s *stubCatalog) GetSKUByID(_ context.Context, id int64) (*models.SKU, error) {
	sku, ok := s.skus[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return sku, nil
}

func (s *stubCatalog) GetSKUsByIDs(_ context.Context, ids []int64) ([]models.SKU, error) {
	out := make([]models.SKU, 0, len(ids))
	for _, id := range ids {
		if sku, ok := s.skus[id]; ok {
			out = append(out, *sku)
		}
	}
	return out, nil
}

func (s *stubCatalog) GetHotSKUs(_ context.Context, categoryID int64, limit int) ([]models.SKU, error) {
	var out []models.SKU
	for _, sku := range s.skus {
		if sku.CategoryID == categoryID {
			out = append(out, *sku)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type stubCodePublisher struct{}

func (stubCodePublisher) PublishSMSCode(context.Context, *models.SMSCodeEvent) error { return nil }

type testEnv struct {
	router  *gin.Engine
	verify  *service.VerifyService
	catalog *stubCatalog
}

func setupTestRouter(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	catalog := &stubCatalog{skus: map[int64]*models.SKU{
		1001: {ID: 1001, Name: "Widget", CategoryID: 3, Price: 2500, Stock: 5, IsLaunched: true},
		1002: {ID: 1002, Name: "Gadget", CategoryID: 3, Price: 900, Stock: 9, IsLaunched: true},
	}}

	verify := service.NewVerifyService(
		"test-secret", time.Hour, 5*time.Minute, time.Minute,
		redisclient.NewWithClient(rdb), stubCodePublisher{},
	)
	carts := service.NewCartService(catalog, cart.NewRedisCarts(rdb))
	catalogSvc := service.NewCatalogService(catalog, redisclient.NewWithClient(rdb), 5)

	handler := NewHandler(carts, nil, catalogSvc, nil, verify, nil)
	router := gin.New()
	handler.SetupRoutes(router)

	return &testEnv{router: router, verify: verify, catalog: catalog}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	env := setupTestRouter(t)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/ready", nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", nil, nil).Code)
}

func TestGuestCartCookieRoundTrip(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart",
		map[string]any{"sku_id": 1001, "count": 2}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	cookies := w.Result().Cookies()
	var cartCookie *http.Cookie
	for _, c := range cookies {
		if c.Name == cart.CookieName {
			cartCookie = c
		}
	}
	require.NotNil(t, cartCookie, "guest add must set the cart cookie")
	assert.Equal(t, cart.CookieMaxAge, cartCookie.MaxAge)

	w = env.do(t, http.MethodGet, "/api/v1/cart", nil, func(req *http.Request) {
		req.AddCookie(cartCookie)
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Cart []struct {
			SKU      models.SKU `json:"sku"`
			Quantity int        `json:"quantity"`
			Selected bool       `json:"selected"`
		} `json:"cart"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Cart, 1)
	assert.Equal(t, int64(1001), resp.Cart[0].SKU.ID)
	assert.Equal(t, 2, resp.Cart[0].Quantity)
	assert.True(t, resp.Cart[0].Selected)
}

func TestGuestCartMalformedCookieIgnored(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/cart", nil, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: cart.CookieName, Value: "%%%garbage%%%"})
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUserCartUsesRedisBacking(t *testing.T) {
	env := setupTestRouter(t)

	token, err := env.verify.IssueSession(1)
	require.NoError(t, err)
	authed := func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := env.do(t, http.MethodPost, "/api/v1/cart",
		map[string]any{"sku_id": 1001, "count": 2}, authed)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Result().Cookies(), "authenticated add must not touch the cookie")

	w = env.do(t, http.MethodGet, "/api/v1/cart", nil, authed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quantity":2`)

	// A different user sees an empty cart
	otherToken, err := env.verify.IssueSession(2)
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/api/v1/cart", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+otherToken)
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cart":[]`)
}

func TestCartRejectsUnknownSKU(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart",
		map[string]any{"sku_id": 4242, "count": 1}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCartRejectsExcessiveQuantity(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart",
		map[string]any{"sku_id": 1001, "count": 50}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient stock")
	assert.Contains(t, w.Body.String(), "1001")
}

func TestCartRejectsMalformedBody(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart",
		map[string]any{"sku_id": 1001}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrdersRequireAuthentication(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/orders", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer not-a-token")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSKUDetail(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/skus/1001", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Widget")

	w = env.do(t, http.MethodGet, "/api/v1/skus/4242", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/skus/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBrowseHistoryFlow(t *testing.T) {
	env := setupTestRouter(t)

	token, err := env.verify.IssueSession(9)
	require.NoError(t, err)
	authed := func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := env.do(t, http.MethodPost, "/api/v1/browse_histories",
		map[string]any{"sku_id": 1001}, authed)
	require.Equal(t, http.StatusCreated, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/browse_histories",
		map[string]any{"sku_id": 1002}, authed)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/browse_histories", nil, authed)
	require.Equal(t, http.StatusOK, w.Code)

	var skus []models.SKU
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &skus))
	require.Len(t, skus, 2)
	assert.Equal(t, int64(1002), skus[0].ID)
	assert.Equal(t, int64(1001), skus[1].ID)
}

func TestRemoveFromGuestCart(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/cart",
		map[string]any{"sku_id": 1001, "count": 2}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	added := w.Result().Cookies()[0]

	w = env.do(t, http.MethodDelete, "/api/v1/cart",
		map[string]any{"sku_id": 1001}, func(req *http.Request) {
			req.AddCookie(added)
		})
	require.Equal(t, http.StatusNoContent, w.Code)

	emptied := w.Result().Cookies()[0]
	w = env.do(t, http.MethodGet, "/api/v1/cart", nil, func(req *http.Request) {
		req.AddCookie(emptied)
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cart":[]`)
}
