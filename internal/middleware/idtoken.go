package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/karmaly/authloader/internal/accounts"
)

const uidLocal = "uid"

// IDToken rejects requests without a valid bearer ID token and stores the
// token subject for handlers.
func IDToken(tokens *accounts.Tokens) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.Parse(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(uidLocal, claims.Subject)
		return c.Next()
	}
}

// UIDFrom returns the subject IDToken stored on c.
func UIDFrom(c *fiber.Ctx) string {
	uid, _ := c.Locals(uidLocal).(string)
	return uid
}

// SessionOwner rejects requests whose ID token subject is not the signed-in
// user reported by current. It runs after IDToken.
func SessionOwner(current func(context.Context) (string, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, err := current(c.UserContext())
		if err != nil {
			return err
		}
		if uid == "" || uid != UIDFrom(c) {
			return fiber.NewError(http.StatusUnauthorized, "token does not belong to the signed-in user")
		}
		return c.Next()
	}
}
