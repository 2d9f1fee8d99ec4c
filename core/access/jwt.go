package access

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/supportdesk/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for JwtMiddelware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret the tokens are signed with. This is mandatory.
	Secret []byte
	// Issuer is the accepted issuer for the token. If empty, any issuer is accepted.
	Issuer string
}

// Claims are the claims of a supportdesk token. The subject is the user id of the principal.
type Claims struct {
	Roles []string `json:"roles"`
	Email string   `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewJwtMiddelware returns a middleware handler to validate
// JWT bearer token.
//
// Java-Web-Token (JWT) are accepted as "Authorization: Bearer"
// header or as "Supportdesk-JWT"-cookie. Only HMAC signed tokens are accepted.
//
// This is a final handler with regards to the bearer token. It will return
// http.StatusUnauthorized when a token is available but insufficent to
// authorize the request.
func NewJwtMiddelware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware requires a secret")
	}

	keyLookup := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := tokenFromRequest(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			auth, err := parseToken(tokenString, jmb.Issuer, keyLookup)
			if err != nil {
				logger.FromContext(r.Context()).WithError(err).Debugln("rejected bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), auth.ID.String())
			ctx = ContextWithAuthorization(ctx, auth)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseToken(tokenString, issuer string, keyLookup jwt.Keyfunc) (*Authorization, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, keyLookup)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if issuer != "" && claims.Issuer != issuer {
		return nil, fmt.Errorf("unexpected issuer '%s'", claims.Issuer)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("subject is not a user id: %w", err)
	}
	auth := &Authorization{ID: id, Roles: claims.Roles}
	if claims.Email != "" {
		auth.Properties = map[string]string{"email": claims.Email}
	}
	return auth, nil
}

// NewToken creates a signed bearer token for the authorization, valid for the given duration.
func NewToken(secret []byte, issuer string, auth *Authorization, validity time.Duration) (string, error) {
	now := time.Now()
	email, _ := auth.Property("email")
	claims := Claims{
		Roles: auth.Roles,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   auth.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
