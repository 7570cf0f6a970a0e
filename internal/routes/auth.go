package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/karmaly/authloader/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints. signUpGuard and
// signInGuard run before the respective handlers when set. sessionGuard
// protects every route acting on the signed-in user.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, signUpGuard, signInGuard, sessionGuard fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/signup", chain(signUpGuard, h.SignUp)...)
	group.Post("/signin", chain(signInGuard, h.SignIn)...)
	group.Post("/credential", h.SignInWithCredential)
	group.Get("/providers/:kind", h.Provider)
	group.Get("/providers/:kind/redirect", h.Redirect)
	group.Get("/callback", h.Callback)

	group.Post("/signout", chain(sessionGuard, h.SignOut)...)
	group.Get("/me", chain(sessionGuard, h.Me)...)
	group.Get("/token", chain(sessionGuard, h.Token)...)
	group.Get("/session", chain(sessionGuard, h.Session)...)
	group.Put("/profile", chain(sessionGuard, h.UpdateProfile)...)
	group.Put("/email", chain(sessionGuard, h.UpdateEmail)...)
	group.Post("/verify-email", chain(sessionGuard, h.SendVerification)...)
	group.Get("/providers/:kind/link", chain(sessionGuard, h.LinkRedirect)...)
	group.Post("/link", chain(sessionGuard, h.Link)...)
	group.Delete("/link/:providerID", chain(sessionGuard, h.Unlink)...)
}

func chain(guard fiber.Handler, h fiber.Handler) []fiber.Handler {
	if guard == nil {
		return []fiber.Handler{h}
	}
	return []fiber.Handler{guard, h}
}
