package protocol

// Credentials holds the bearer token pair for an authenticated session.
// Both tokens are opaque strings; nothing on this side inspects them.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Empty reports whether no session is held.
func (c Credentials) Empty() bool { return c.AccessToken == "" && c.RefreshToken == "" }

// TokenResponse is the body of POST /login/ and POST /auth/refresh.
// The refresh endpoint may omit refresh_token, in which case the
// previous refresh token stays valid.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}
