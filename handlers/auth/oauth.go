package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"meme-composer/core"
)

const (
	stateCookie   = "oauth_state"
	githubUserURL = "https://api.github.com/user"
)

var errNoIDToken = errors.New("no id_token in token response")

// provider is an OAuth2 sign-in source. identify turns an exchanged token
// into the user it belongs to.
type provider struct {
	name     string
	config   *oauth2.Config
	identify func(ctx context.Context, token *oauth2.Token) (*core.User, error)
}

var (
	oauthProvider *provider
	// loginRedirect receives ?token= after a successful callback.
	loginRedirect = "/"
)

// providerFromEnv prefers OIDC over GitHub. It returns nil when neither is
// configured.
func providerFromEnv(ctx context.Context) (*provider, error) {
	if issuer, clientID := os.Getenv("OIDC_ISSUER_URL"), os.Getenv("OIDC_CLIENT_ID"); issuer != "" && clientID != "" {
		op, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
		}
		cfg := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			Endpoint:     op.Endpoint(),
		}
		return newOIDCProvider(cfg, op.Verifier(&oidc.Config{ClientID: clientID})), nil
	}

	if id, secret := os.Getenv("GITHUB_CLIENT_ID"), os.Getenv("GITHUB_CLIENT_SECRET"); id != "" && secret != "" {
		cfg := &oauth2.Config{
			ClientID:     id,
			ClientSecret: secret,
			RedirectURL:  os.Getenv("GITHUB_REDIRECT_URL"),
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}
		return newGitHubProvider(cfg, githubUserURL), nil
	}
	return nil, nil
}

func newGitHubProvider(cfg *oauth2.Config, userURL string) *provider {
	return &provider{
		name:   "github",
		config: cfg,
		identify: func(ctx context.Context, token *oauth2.Token) (*core.User, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, userURL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := cfg.Client(ctx, token).Do(req)
			if err != nil {
				return nil, fmt.Errorf("failed to get user from github: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("github user endpoint returned %d", resp.StatusCode)
			}

			var gh struct {
				ID        int64  `json:"id"`
				Login     string `json:"login"`
				AvatarURL string `json:"avatar_url"`
				Name      string `json:"name"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
				return nil, fmt.Errorf("failed to decode github user: %w", err)
			}
			if gh.ID == 0 {
				return nil, errors.New("github user has no id")
			}
			return &core.User{
				Subject:   fmt.Sprintf("github:%d", gh.ID),
				Login:     gh.Login,
				AvatarURL: gh.AvatarURL,
				Name:      gh.Name,
			}, nil
		},
	}
}

// OIDCClaims represents the claims from OIDC token
type OIDCClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	Sub               string `json:"sub"`
}

func newOIDCProvider(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *provider {
	return &provider{
		name:   "oidc",
		config: cfg,
		identify: func(ctx context.Context, token *oauth2.Token) (*core.User, error) {
			raw, ok := token.Extra("id_token").(string)
			if !ok {
				return nil, errNoIDToken
			}
			idToken, err := verifier.Verify(ctx, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to verify ID token: %w", err)
			}
			var claims OIDCClaims
			if err := idToken.Claims(&claims); err != nil {
				return nil, fmt.Errorf("failed to extract claims from ID token: %w", err)
			}

			user := &core.User{
				Subject:   idToken.Subject,
				Login:     claims.PreferredUsername,
				Email:     claims.Email,
				AvatarURL: claims.Picture,
				Name:      claims.Name,
			}
			// If preferred_username is not available, use email
			if user.Login == "" {
				user.Login = user.Email
			}
			return user, nil
		},
	}
}

func oauthError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// HandleLogin sets a state cookie and redirects to the provider.
func HandleLogin(w http.ResponseWriter, r *http.Request) {
	p := oauthProvider
	if p == nil {
		oauthError(w, r, http.StatusNotImplemented, "Authentication not configured")
		return
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		oauthError(w, r, http.StatusInternalServerError, "Failed to generate state")
		return
	}
	state := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback checks the state, exchanges the code, records the user and
// redirects to the login redirect with the issued token.
func HandleCallback(w http.ResponseWriter, r *http.Request) {
	p := oauthProvider
	if p == nil {
		oauthError(w, r, http.StatusNotImplemented, "Authentication not configured")
		return
	}

	cookie, err := r.Cookie(stateCookie)
	state := r.FormValue("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		oauthError(w, r, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})

	code := r.FormValue("code")
	if code == "" {
		oauthError(w, r, http.StatusBadRequest, "Missing authorization code")
		return
	}

	log := logrus.WithField("provider", p.name)
	token, err := p.config.Exchange(r.Context(), code)
	if err != nil {
		log.WithError(err).Error("Failed to exchange token")
		oauthError(w, r, http.StatusBadGateway, "Failed to exchange authorization code")
		return
	}
	user, err := p.identify(r.Context(), token)
	if err != nil {
		log.WithError(err).Error("Failed to identify user")
		oauthError(w, r, http.StatusBadGateway, "Failed to identify user")
		return
	}
	user.Provider = p.name

	jwtToken, err := login(r.Context(), user)
	if err != nil {
		log.WithError(err).Error("Failed to issue token")
		oauthError(w, r, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	target, err := url.Parse(loginRedirect)
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	q := target.Query()
	q.Set("token", jwtToken)
	target.RawQuery = q.Encode()

	log.WithField("subject", user.Subject).Info("OAuth login succeeded")
	http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
}
