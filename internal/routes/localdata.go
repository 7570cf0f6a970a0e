package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/karmaly/authloader/internal/localdata"
)

// RegisterLocalDataRoutes exposes the cached karma score and the persisted
// identity credentials. guards run in order before every route.
func RegisterLocalDataRoutes(r fiber.Router, local *localdata.Accessor, guards ...fiber.Handler) {
	group := r.Group("", guards...)

	group.Get("/karma", func(c *fiber.Ctx) error {
		karma, err := local.ReadKarma(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"karma": karma})
	})

	group.Put("/karma", func(c *fiber.Ctx) error {
		var req struct {
			Karma *int `json:"karma"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if req.Karma == nil {
			return fiber.NewError(http.StatusBadRequest, "karma is required")
		}
		if err := local.StoreKarma(c.UserContext(), *req.Karma); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"karma": *req.Karma})
	})

	group.Get("/creds", func(c *fiber.Ctx) error {
		creds, err := local.ReadCreds(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(creds)
	})
}
