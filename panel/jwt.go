package panel

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)


// claims of the bearer token the panel server hands out
// the client never verifies the signature, it only reads claims for display and expiry warnings
type PanelJwt struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}


func ParsePanelJwtUnverified(jwt string) (*PanelJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	panelJwt := &PanelJwt{}

	if subject, err := claims.GetSubject(); err == nil {
		panelJwt.Subject = subject
	}
	if expiresAt, err := claims.GetExpirationTime(); err == nil && expiresAt != nil {
		panelJwt.ExpiresAt = expiresAt.Time
	}
	if issuedAt, err := claims.GetIssuedAt(); err == nil && issuedAt != nil {
		panelJwt.IssuedAt = issuedAt.Time
	}

	return panelJwt, nil
}

// tokens without an expiry never expire
func (self *PanelJwt) Expired(now time.Time) bool {
	if self.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(self.ExpiresAt)
}
