package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Identity is who a verified credential belongs to.
type Identity struct {
	UserID   string
	Username string
}

// Name is the label shown next to the user's cursor.
func (i Identity) Name() string {
	if i.Username != "" {
		return i.Username
	}
	return i.UserID
}

// Claims matches the access tokens issued by the identity provider.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	gojwt.RegisteredClaims
}

type Verifier struct {
	keys KeySource
}

func NewVerifier(keys KeySource) *Verifier {
	return &Verifier{keys: keys}
}

// Verify checks signature and expiry of an HS256 access token.
// Errors wrap ErrMissingCredential or ErrInvalidCredential.
func (v *Verifier) Verify(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrMissingCredential
	}

	claims := &Claims{}
	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(credential, claims, func(*gojwt.Token) (any, error) {
		return v.keys.Key(), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: no user id", ErrInvalidCredential)
	}

	return Identity{UserID: userID, Username: claims.Username}, nil
}

// Mint issues an access token for id. Used by development tooling and tests;
// production credentials come from the identity provider.
func Mint(keys KeySource, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(keys.Key())
}
