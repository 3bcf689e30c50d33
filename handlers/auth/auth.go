package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"meme-composer/core"
)

var (
	jwtSecret []byte
	users     core.UserStore
)

const tokenTTL = time.Hour * 24 * 7

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Provider  string `json:"provider"`
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name"`
}

// InitAuth configures the OAuth provider, if any, and the JWT secret.
// Wallet login is always available; logins are recorded in store.
func InitAuth(store core.UserStore) {
	users = store

	p, err := providerFromEnv(context.Background())
	switch {
	case err != nil:
		logrus.WithError(err).Error("Failed to initialize OAuth provider, only wallet login is available.")
	case p == nil:
		logrus.Info("No OAuth provider configured, only wallet login is available.")
	default:
		logrus.WithField("provider", p.name).Info("OAuth provider initialized")
	}
	oauthProvider = p

	if u := os.Getenv("LOGIN_REDIRECT_URL"); u != "" {
		loginRedirect = u
	}

	SetSecret([]byte(os.Getenv("JWT_SECRET")))
	if len(jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
}

// SetSecret replaces the HMAC key used to sign and verify tokens.
func SetSecret(secret []byte) {
	jwtSecret = secret
}

// login records the user and issues its token.
func login(ctx context.Context, user *core.User) (string, error) {
	if users != nil {
		if err := users.UpsertUser(ctx, user); err != nil {
			return "", fmt.Errorf("failed to record user: %w", err)
		}
	}
	return NewToken(user)
}

// NewToken signs a one-week token whose subject is the user's account key.
func NewToken(user *core.User) (string, error) {
	if len(jwtSecret) == 0 {
		return "", fmt.Errorf("JWT secret is not configured")
	}
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Provider:  user.Provider,
		Login:     user.Login,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		Name:      user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ParseJWT(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}
