package models

// Identity is one linked sign-in method reported by the identity provider.
type Identity struct {
	Provider string `json:"provider"`
}

// AuthUser is the canonical user record returned by the identity provider.
// Read-only to this system; the ledger keys off ID and Email.
type AuthUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AppMetadata struct {
		Provider string `json:"provider"`
	} `json:"app_metadata"`
	Identities []Identity `json:"identities"`
}

// UsesProvider reports whether the user signed in with the given provider,
// either as the primary provider or through any linked identity.
func (user *AuthUser) UsesProvider(provider string) bool {
	if user.AppMetadata.Provider == provider {
		return true
	}
	for _, identity := range user.Identities {
		if identity.Provider == provider {
			return true
		}
	}
	return false
}
