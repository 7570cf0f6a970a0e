package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karmaly/authloader/internal/accounts"
	"github.com/karmaly/authloader/internal/config"
	"github.com/karmaly/authloader/internal/idp"
	"github.com/karmaly/authloader/internal/loader"
	"github.com/karmaly/authloader/internal/localdata"
	"github.com/karmaly/authloader/internal/localstore"
	"github.com/karmaly/authloader/internal/logging"
	"github.com/karmaly/authloader/internal/routes"
	"github.com/karmaly/authloader/internal/userstate"
)

type harness struct {
	app   *fiber.App
	cache *redis.Client
}

func newHarness(t *testing.T, withCache bool, checks map[string]func(context.Context) error) harness {
	t.Helper()
	logger := logging.Discard()
	stores := localstore.NewFactory(localstore.NewMemoryDriver(), logger)
	t.Cleanup(stores.Close)

	tokens, err := accounts.NewTokens("secret", time.Hour, "karmaly")
	require.NoError(t, err)

	var cache *redis.Client
	if withCache {
		mr := miniredis.RunT(t)
		cache = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = cache.Close() })
	}

	sdk, err := idp.New(idp.Options{
		Accounts: accounts.NewService(accounts.NewStoreRepository(stores)),
		Tokens:   tokens,
		Stores:   stores,
		Logger:   logger,
	})
	require.NoError(t, err)

	ld, err := loader.New(loader.Options{
		SDK:    sdk,
		Config: config.Config{APIKey: "key"}.Identity(),
		Users:  userstate.New(),
		Logger: logger,
	})
	require.NoError(t, err)
	ld.ActivateApp()

	app := fiber.New(fiber.Config{ErrorHandler: routes.ErrorHandler})
	require.NoError(t, routes.Setup(app, routes.Deps{
		Cfg:    config.Config{IdempotencyTTL: time.Hour},
		Loader: ld,
		Local:  localdata.New(stores, logger),
		Tokens: tokens,
		Cache:  cache,
		Checks: checks,
		Logger: logger,
	}))
	return harness{app: app, cache: cache}
}

func (h harness) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func bearer(token string) map[string]string {
	return map[string]string{fiber.HeaderAuthorization: "Bearer " + token}
}

func TestSignUpThenReadLocalData(t *testing.T) {
	h := newHarness(t, false, nil)

	resp, body := h.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{"email": "ada@example.com", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	user := body["user"].(map[string]any)
	uid := user["uid"].(string)
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, true, body["is_new_user"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, uid, body["uid"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/creds", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing bearer token", body["error"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/creds", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, uid, body["uid"])
	assert.NotEmpty(t, body["token"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/karma", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 0, body["karma"])

	resp, body = h.do(t, http.MethodPut, "/api/v1/karma", map[string]int{"karma": 42}, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	resp, body = h.do(t, http.MethodGet, "/api/v1/karma", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 42, body["karma"])

	resp, body = h.do(t, http.MethodPut, "/api/v1/karma", map[string]string{}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "karma is required", body["error"])
}

func TestIdentityErrorsMapToStatuses(t *testing.T) {
	h := newHarness(t, false, nil)
	creds := map[string]string{"email": "ada@example.com", "password": "hunter22"}

	resp, _ := h.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/signup", creds, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/api/v1/auth/signup", creds, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "email already in use", body["error"])

	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/signin", map[string]string{"email": "ada@example.com", "password": "nope00"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{"email": "bob@example.com", "password": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/v1/auth/providers/myspace", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/api/v1/auth/providers/github", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "github", body["kind"])

	// no OAuth redirect URL is configured
	resp, _ = h.do(t, http.MethodGet, "/api/v1/auth/providers/github/redirect", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/v1/auth/callback?state=bogus&code=x", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignOutRevokesTheSession(t *testing.T) {
	h := newHarness(t, false, nil)
	creds := map[string]string{"email": "ada@example.com", "password": "hunter22"}

	resp, body := h.do(t, http.MethodPost, "/api/v1/auth/signup", creds, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token := body["token"].(string)

	resp, body = h.do(t, http.MethodGet, "/api/v1/auth/session", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["authenticated"])

	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/signout", nil, bearer(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the token still parses but no longer matches a session
	resp, _ = h.do(t, http.MethodGet, "/api/v1/auth/session", nil, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/signout", nil, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/api/v1/creds", nil, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/api/v1/karma", nil, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/v1/auth/signin", creds, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, false, body["is_new_user"])
	fresh := body["token"].(string)

	resp, body = h.do(t, http.MethodGet, "/api/v1/auth/session", nil, bearer(fresh))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["authenticated"])
}

func TestSessionRoutesRequireToken(t *testing.T) {
	h := newHarness(t, false, nil)
	resp, _ := h.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{"email": "ada@example.com", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	guarded := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/v1/auth/signout"},
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/auth/token"},
		{http.MethodGet, "/api/v1/auth/session"},
		{http.MethodPut, "/api/v1/auth/profile"},
		{http.MethodPut, "/api/v1/auth/email"},
		{http.MethodPost, "/api/v1/auth/verify-email"},
		{http.MethodGet, "/api/v1/auth/providers/github/link"},
		{http.MethodPost, "/api/v1/auth/link"},
		{http.MethodDelete, "/api/v1/auth/link/github.com"},
		{http.MethodGet, "/api/v1/creds"},
		{http.MethodGet, "/api/v1/karma"},
		{http.MethodPut, "/api/v1/karma"},
	}
	for _, tc := range guarded {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, body := h.do(t, tc.method, tc.path, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "missing bearer token", body["error"])

			resp, body = h.do(t, tc.method, tc.path, nil, bearer("not-a-token"))
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "invalid token", body["error"])
		})
	}

	// the session is still intact
	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/signin", map[string]string{"email": "ada@example.com", "password": "hunter22"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenOfAnotherUserIsRejected(t *testing.T) {
	h := newHarness(t, false, nil)

	resp, body := h.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{"email": "ada@example.com", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	adaToken := body["token"].(string)

	// bob signing up replaces ada as the current user
	resp, body = h.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{"email": "bob@example.com", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bobToken := body["token"].(string)

	resp, _ = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(adaToken))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/signout", nil, bearer(adaToken))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, body = h.do(t, http.MethodGet, "/api/v1/creds", nil, bearer(adaToken))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token does not belong to the signed-in user", body["error"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(bobToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "bob@example.com", body["email"])
}

func TestProfileUpdatesFlowThrough(t *testing.T) {
	h := newHarness(t, false, nil)
	resp, body := h.do(t, http.MethodPost, "/api/v1/auth/signup", map[string]string{"email": "ada@example.com", "password": "hunter22"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	auth := bearer(body["token"].(string))

	resp, body = h.do(t, http.MethodPut, "/api/v1/auth/profile", map[string]string{"display_name": "Ada"}, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Ada", body["display_name"])

	resp, body = h.do(t, http.MethodPut, "/api/v1/auth/email", map[string]string{"email": "lovelace@example.com"}, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "lovelace@example.com", body["email"])

	resp, _ = h.do(t, http.MethodPost, "/api/v1/auth/verify-email", nil, auth)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = h.do(t, http.MethodDelete, "/api/v1/auth/link/github.com", nil, auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignUpIsIdempotentWithCache(t *testing.T) {
	h := newHarness(t, true, nil)
	creds := map[string]string{"email": "ada@example.com", "password": "hunter22"}

	resp, _ := h.do(t, http.MethodPost, "/api/v1/auth/signup", creds, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	key := map[string]string{"Idempotency-Key": "signup-1"}
	first, firstBody := h.do(t, http.MethodPost, "/api/v1/auth/signup", creds, key)
	require.Equal(t, http.StatusCreated, first.StatusCode, firstBody)

	second, secondBody := h.do(t, http.MethodPost, "/api/v1/auth/signup", creds, key)
	require.Equal(t, http.StatusCreated, second.StatusCode, secondBody)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, firstBody["user"], secondBody["user"])
}

func TestSignInIsRateLimitedWithCache(t *testing.T) {
	h := newHarness(t, true, nil)
	creds := map[string]string{"email": "nobody@example.com", "password": "whatever"}

	for i := 0; i < 5; i++ {
		resp, _ := h.do(t, http.MethodPost, "/api/v1/auth/signin", creds, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, _ := h.do(t, http.MethodPost, "/api/v1/auth/signin", creds, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthReportsBackends(t *testing.T) {
	h := newHarness(t, false, map[string]func(context.Context) error{
		"sqlite": func(context.Context) error { return nil },
	})
	resp, body := h.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"sqlite": "ok"}, body["status"])

	h = newHarness(t, false, map[string]func(context.Context) error{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	resp, body = h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, map[string]any{"redis": "connection refused"}, body["status"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/ping", nil, map[string]string{"X-Request-ID": "req-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "req-1", resp.Header.Get("X-Request-ID"))
}
