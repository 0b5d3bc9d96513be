package auth

import (
	"errors"
	"time"

	"github.com/chattingus/realtime/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	jwt.RegisteredClaims
	Username       string `json:"username,omitempty"`
	FullName       string `json:"name,omitempty"`
	ProfilePicture string `json:"picture,omitempty"`
}

// Identity is the authenticated principal bound to a connection. Every
// connection must carry exactly one identity before it may join a topic.
type Identity struct {
	UserID         string
	Username       string
	FullName       string
	ProfilePicture string
}

func (i Identity) DisplayName() string {
	if i.FullName != "" {
		return i.FullName
	}
	return i.Username
}

type Authenticator struct {
	secret    []byte
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience("chattingus"),
	)

	return &Authenticator{
		secret:    []byte(secret),
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

// Authenticate validates a handshake token and returns the bound identity.
// An empty token is the anonymous case and fails immediately.
func (a *Authenticator) Authenticate(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing token"))
	}

	claims := Claims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid subject claim"))
	}

	return Identity{
		UserID:         subject,
		Username:       claims.Username,
		FullName:       claims.FullName,
		ProfilePicture: claims.ProfilePicture,
	}, nil
}
