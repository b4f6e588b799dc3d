package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// A session token identifies one dashboard user; there is no tenancy
// and no refresh flow.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
}
