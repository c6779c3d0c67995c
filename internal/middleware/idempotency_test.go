package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/logging"
)

func setupIdempotencyApp(t *testing.T) (*fiber.App, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	var calls int32
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	// Stands in for SessionAuth.
	app.Use(func(c *fiber.Ctx) error {
		if uid := c.Get("X-Test-User"); uid != "" {
			c.Locals(userIDLocal, uid)
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/failing", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return apperr.Validation("bad input")
	})
	return app, &calls
}

func postWithKey(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	return postAs(t, app, "user-1", path, key)
}

func postAs(t *testing.T, app *fiber.App, user, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestIdempotencyIsOptIn(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, _ := postWithKey(t, app, "/resource", "")
	assert.Equal(t, fiber.StatusCreated, status)
	status, _ = postWithKey(t, app, "/resource", "")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, first := postWithKey(t, app, "/resource", "abc123")
	require.Equal(t, fiber.StatusCreated, status)

	status, second := postWithKey(t, app, "/resource", "abc123")
	assert.Equal(t, fiber.StatusCreated, status)
	assert.JSONEq(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, _ := postWithKey(t, app, "/failing", "k1")
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = postWithKey(t, app, "/failing", "k1")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestIdempotencyKeysAreScopedToCaller(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, first := postAs(t, app, "user-1", "/resource", "shared")
	require.Equal(t, fiber.StatusCreated, status)

	status, other := postAs(t, app, "user-2", "/resource", "shared")
	require.Equal(t, fiber.StatusCreated, status)
	assert.NotEqual(t, first, other)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestIdempotencyNeverReplaysWithoutIdentity(t *testing.T) {
	app, calls := setupIdempotencyApp(t)

	status, _ := postAs(t, app, "", "/resource", "anon")
	require.Equal(t, fiber.StatusCreated, status)
	status, _ = postAs(t, app, "", "/resource", "anon")
	require.Equal(t, fiber.StatusCreated, status)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}
