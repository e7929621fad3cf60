package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	Subject   string
	Username  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// parseToken verifies an HMAC-signed bearer token and extracts its identity
// claims. Only the configured algorithm is accepted; no claim is trusted
// before the signature checks out.
func parseToken(raw string, secret []byte, alg string) (*Claims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		if t.Method.Alg() != alg {
			return nil, fmt.Errorf("signing method %v does not match the configured %s", t.Header["alg"], alg)
		}
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &Error{Code: CodeTokenExpired, Message: "token expired"}
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, &Error{Code: CodeTokenInvalidSignature, Message: "token signature invalid"}
		default:
			return nil, &Error{Code: CodeTokenMalformed, Message: "token malformed"}
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &Error{Code: CodeTokenMalformed, Message: "unexpected claims shape"}
	}

	claims := &Claims{}

	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return nil, &Error{Code: CodeTokenMalformed, Message: "token missing subject"}
	}
	claims.Subject = sub

	claims.Username = stringClaim(mapClaims, "username")
	if claims.Username == "" {
		claims.Username = stringClaim(mapClaims, "preferred_username")
	}
	if claims.Username == "" {
		claims.Username = sub
	}

	claims.Roles = stringSliceClaim(mapClaims, "roles")

	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
