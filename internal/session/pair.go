// Package session owns the dashboard's credential pair and the retry protocol
// that keeps authenticated calls working across access-token expiry.
package session

// Pair is the access/refresh credential pair. Empty AccessToken means
// unauthenticated; empty RefreshToken means the pair cannot be refreshed.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Authenticated reports whether the pair carries an access token.
func (p Pair) Authenticated() bool {
	return p.AccessToken != ""
}

// CanRefresh reports whether the pair carries a refresh token.
func (p Pair) CanRefresh() bool {
	return p.RefreshToken != ""
}
