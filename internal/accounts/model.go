package accounts

import "time"

// User is an account known to the bundled identity backend.
type User struct {
	ID                 string
	Email              string
	EmailVerified      bool
	DisplayName        string
	PhotoURL           string
	PasswordHash       []byte
	Links              []Link
	VerificationSentAt time.Time
	CreatedAt          time.Time
	LastLogin          time.Time
}

// Link ties the account to a sign-in provider.
type Link struct {
	ProviderID string `json:"provider_id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
}

// LinkFor returns the link for providerID, if any.
func (u User) LinkFor(providerID string) (Link, bool) {
	for _, l := range u.Links {
		if l.ProviderID == providerID {
			return l, true
		}
	}
	return Link{}, false
}

// ExternalProfile is what a federated provider tells us about its user.
type ExternalProfile struct {
	ProviderID    string
	ExternalID    string
	Email         string
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
}
