package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/karmaly/authloader/internal/identity"
	"github.com/karmaly/authloader/internal/localdata"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{identity.ErrUnknownProvider, http.StatusBadRequest},
	{identity.ErrWeakPassword, http.StatusBadRequest},
	{identity.ErrUserNotFound, http.StatusUnauthorized},
	{identity.ErrWrongPassword, http.StatusUnauthorized},
	{identity.ErrNoCurrentUser, http.StatusUnauthorized},
	{identity.ErrInvalidCredential, http.StatusUnauthorized},
	{identity.ErrInvalidRedirect, http.StatusUnauthorized},
	{identity.ErrEmailInUse, http.StatusConflict},
	{identity.ErrProviderAlreadyLinked, http.StatusConflict},
	{identity.ErrNoSuchProvider, http.StatusNotFound},
	{identity.ErrUnsupported, http.StatusNotImplemented},
}

// ErrorHandler renders errors as {"error": message} with a status derived
// from fiber errors and the identity sentinels.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	message := err.Error()

	var fe *fiber.Error
	var se *localdata.StoreError
	switch {
	case errors.As(err, &fe):
		status, message = fe.Code, fe.Message
	case errors.As(err, &se):
		message = se.Message
	default:
		for _, m := range statusBySentinel {
			if errors.Is(err, m.err) {
				status = m.status
				break
			}
		}
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}
