package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/karmaly/authloader/internal/accounts"
	"github.com/karmaly/authloader/internal/auth"
	"github.com/karmaly/authloader/internal/config"
	"github.com/karmaly/authloader/internal/loader"
	"github.com/karmaly/authloader/internal/localdata"
	"github.com/karmaly/authloader/internal/middleware"
)

const signInAttemptsPerMinute = 5

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	Loader *loader.Loader
	Local  *localdata.Accessor
	// Tokens verifies the bearer ID token on every route acting on the
	// signed-in user. Required.
	Tokens *accounts.Tokens
	// Cache enables idempotent sign-up and sign-in rate limiting.
	Cache *redis.Client
	// Checks are pinged by /healthz, keyed by backend name.
	Checks map[string]func(context.Context) error
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Loader == nil || d.Local == nil || d.Tokens == nil {
		return errors.New("routes: loader, local data and tokens are required")
	}
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	var signUpGuard, signInGuard fiber.Handler
	if d.Cache != nil {
		signUpGuard = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
		signInGuard = middleware.SignInRateLimit(d.Cache, signInAttemptsPerMinute)
	}
	idToken := middleware.IDToken(d.Tokens)
	RegisterAuthRoutes(api, auth.NewHandler(d.Loader), signUpGuard, signInGuard, idToken)

	owner := middleware.SessionOwner(func(ctx context.Context) (string, error) {
		user, err := d.Loader.CurrentUser(ctx)
		if err != nil || user == nil {
			return "", err
		}
		return user.UID, nil
	})
	RegisterLocalDataRoutes(api, d.Local, idToken, owner)

	return nil
}
