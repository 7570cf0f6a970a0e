package auth

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/karmaly/authloader/internal/identity"
	"github.com/karmaly/authloader/internal/loader"
	"github.com/karmaly/authloader/internal/middleware"
)

// Handler exposes the loader's authentication operations over HTTP.
type Handler struct {
	loader *loader.Loader
}

func NewHandler(l *loader.Loader) *Handler {
	return &Handler{loader: l}
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialRequest struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

type profileRequest struct {
	DisplayName *string `json:"display_name"`
	PhotoURL    *string `json:"photo_url"`
}

type userResponse struct {
	UID           string   `json:"uid"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	DisplayName   string   `json:"display_name,omitempty"`
	PhotoURL      string   `json:"photo_url,omitempty"`
	Providers     []string `json:"providers"`
}

type credentialResponse struct {
	User          userResponse `json:"user"`
	ProviderID    string       `json:"provider_id"`
	OperationType string       `json:"operation_type"`
	IsNewUser     bool         `json:"is_new_user"`
	Token         string       `json:"token,omitempty"`
}

func toUserResponse(u *identity.User) userResponse {
	out := userResponse{
		UID:           u.UID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		Providers:     []string{},
	}
	for _, p := range u.ProviderData {
		out.Providers = append(out.Providers, p.ProviderID)
	}
	return out
}

func (h *Handler) credential(c *fiber.Ctx, status int, cred *identity.UserCredential) error {
	token, err := h.loader.IDToken(c.UserContext(), cred.User, false)
	if err != nil {
		return err
	}
	return c.Status(status).JSON(credentialResponse{
		User:          toUserResponse(cred.User),
		ProviderID:    cred.ProviderID,
		OperationType: cred.OperationType,
		IsNewUser:     cred.IsNewUser,
		Token:         token,
	})
}

// currentUser resolves the signed-in user or fails with 401. The bearer
// token checked by middleware.IDToken must belong to that user.
func (h *Handler) currentUser(c *fiber.Ctx) (*identity.User, error) {
	user, err := h.loader.CurrentUser(c.UserContext())
	if err != nil {
		return nil, err
	}
	if user == nil || user.UID != middleware.UIDFrom(c) {
		return nil, identity.ErrNoCurrentUser
	}
	return user, nil
}

// SignUp creates a password account and signs it in.
func (h *Handler) SignUp(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	cred, err := h.loader.SignUp(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	h.loader.AnalyticsLogger("sign_up", map[string]any{"method": identity.PasswordProviderID})
	return h.credential(c, http.StatusCreated, cred)
}

// SignIn signs in with email and password.
func (h *Handler) SignIn(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	cred, err := h.loader.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	h.loader.AnalyticsLogger("login", map[string]any{"method": identity.PasswordProviderID})
	return h.credential(c, http.StatusOK, cred)
}

// SignInWithCredential signs in with a provider token.
func (h *Handler) SignInWithCredential(c *fiber.Ctx) error {
	var req credentialRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	providerCred, err := loader.GetCredential(req.Provider, req.Token)
	if err != nil {
		return err
	}
	cred, err := h.loader.SignInWithCredential(c.UserContext(), providerCred)
	if err != nil {
		return err
	}
	h.loader.AnalyticsLogger("login", map[string]any{"method": cred.ProviderID})
	return h.credential(c, http.StatusOK, cred)
}

// Provider describes a federated provider.
func (h *Handler) Provider(c *fiber.Ctx) error {
	provider, err := loader.GetProvider(c.Params("kind"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"kind":     provider.Kind,
		"id":       provider.ID,
		"scopes":   provider.Scopes,
		"auth_url": provider.Endpoint.AuthURL,
	})
}

// Redirect starts a redirect sign-in and returns the URL to visit.
func (h *Handler) Redirect(c *fiber.Ctx) error {
	provider, err := loader.GetProvider(c.Params("kind"))
	if err != nil {
		return err
	}
	url, err := h.loader.SignInWithRedirect(c.UserContext(), provider)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"url": url})
}

// LinkRedirect starts a redirect that links a provider to the current user.
func (h *Handler) LinkRedirect(c *fiber.Ctx) error {
	provider, err := loader.GetProvider(c.Params("kind"))
	if err != nil {
		return err
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	url, err := h.loader.LinkWithRedirect(c.UserContext(), user, provider)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"url": url})
}

// Callback completes a redirect flow.
func (h *Handler) Callback(c *fiber.Ctx) error {
	if msg := c.Query("error"); msg != "" {
		return fiber.NewError(http.StatusUnauthorized, msg)
	}
	cred, err := h.loader.RedirectResult(c.UserContext(), c.Query("state"), c.Query("code"))
	if err != nil {
		return err
	}
	return h.credential(c, http.StatusOK, cred)
}

// SignOut ends the session.
func (h *Handler) SignOut(c *fiber.Ctx) error {
	if _, err := h.currentUser(c); err != nil {
		return err
	}
	if err := h.loader.SignOut(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "signed_out"})
}

// Me returns the signed-in user.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(toUserResponse(user))
}

// Token returns the ID token of the signed-in user. ?refresh=true forces a
// new one.
func (h *Handler) Token(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	force, _ := strconv.ParseBool(c.Query("refresh"))
	token, err := h.loader.IDToken(c.UserContext(), user, force)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"token": token})
}

// Session returns the uid and token of the caller's session, falling back to
// the cached app state when the identity module has no current user.
func (h *Handler) Session(c *fiber.Ctx) error {
	state, err := h.loader.Session(c.UserContext())
	if err != nil {
		return err
	}
	if !state.Authenticated || state.UID != middleware.UIDFrom(c) {
		return identity.ErrNoCurrentUser
	}
	return c.JSON(fiber.Map{"authenticated": state.Authenticated, "uid": state.UID, "token": state.Token})
}

// UpdateProfile changes display name and photo.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	if err := h.loader.UpdateProfile(c.UserContext(), user, identity.Profile{DisplayName: req.DisplayName, PhotoURL: req.PhotoURL}); err != nil {
		return err
	}
	return h.Me(c)
}

// UpdateEmail changes the account email.
func (h *Handler) UpdateEmail(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	if err := h.loader.UpdateEmail(c.UserContext(), user, req.Email); err != nil {
		return err
	}
	return h.Me(c)
}

// SendVerification sends a verification email to the current user.
func (h *Handler) SendVerification(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	if err := h.loader.SendEmailVerification(c.UserContext(), user); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "sent"})
}

// Link attaches a provider credential to the current user.
func (h *Handler) Link(c *fiber.Ctx) error {
	var req credentialRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	providerCred, err := loader.GetCredential(req.Provider, req.Token)
	if err != nil {
		return err
	}
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	cred, err := h.loader.LinkWithCredential(c.UserContext(), user, providerCred)
	if err != nil {
		return err
	}
	return h.credential(c, http.StatusOK, cred)
}

// Unlink detaches a provider from the current user.
func (h *Handler) Unlink(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if err != nil {
		return err
	}
	updated, err := h.loader.Unlink(c.UserContext(), user, c.Params("providerID"))
	if err != nil {
		return err
	}
	return c.JSON(toUserResponse(updated))
}
