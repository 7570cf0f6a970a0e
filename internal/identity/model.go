package identity

import "time"

// User is the signed-in account as reported by the provider.
type User struct {
	UID           string
	Email         string
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
	ProviderData  []UserInfo
	CreatedAt     time.Time
	LastLogin     time.Time
}

// UserInfo describes one linked sign-in provider.
type UserInfo struct {
	ProviderID string
	UID        string
	Email      string
}

// HasProvider reports whether providerID is linked to the user.
func (u *User) HasProvider(providerID string) bool {
	if u == nil {
		return false
	}
	for _, info := range u.ProviderData {
		if info.ProviderID == providerID {
			return true
		}
	}
	return false
}

// Profile holds the mutable display attributes. Nil fields are left untouched.
type Profile struct {
	DisplayName *string
	PhotoURL    *string
}

// UserCredential is the outcome of a sign-in, sign-up or link call.
type UserCredential struct {
	User          *User
	ProviderID    string
	OperationType string
	IsNewUser     bool
}

const (
	OperationSignIn = "signIn"
	OperationLink   = "link"
)
