package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront/cryptoutil"
	"storefront/herr"
	"storefront/store"
)

const (
	googleAuthorizeURL         = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL             = "https://oauth2.googleapis.com/token"
	googleUserInfoURL          = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleOAuthStateCookieName = "google_oauth_state"
	googleVerifierCookieName   = "google_code_verifier"
	oauthCookieMaxAge          = 10 * 60
)

var scopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	// AppURL is where the browser lands after a successful callback.
	AppURL string
	// Endpoint overrides, empty means Google's.
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	Secure       bool
}

type Google struct {
	cfg    GoogleConfig
	users  store.UserStore
	client *http.Client
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

type googleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func NewGoogle(cfg GoogleConfig, users store.UserStore) *Google {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = googleAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = googleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = googleUserInfoURL
	}
	if cfg.AppURL == "" {
		cfg.AppURL = "/"
	}
	return &Google{
		cfg:    cfg,
		users:  users,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *Google) Enabled() bool {
	return g.cfg.ClientID != "" && g.cfg.ClientSecret != ""
}

func (g *Google) HandleLogin(w http.ResponseWriter, r *http.Request) *herr.Error {
	authorizationURL, err := url.Parse(g.cfg.AuthorizeURL)
	if err != nil {
		return herr.Internal(err, "Failed to parse Google authorization URL")
	}
	state, err := cryptoutil.CreateState()
	if err != nil {
		return herr.Internal(err, "Failed to create OAuth state")
	}
	verifier, err := cryptoutil.CreateCodeVerifier()
	if err != nil {
		return herr.Internal(err, "Failed to create PKCE verifier")
	}

	query := authorizationURL.Query()
	query.Set("state", state)
	query.Set("client_id", g.cfg.ClientID)
	query.Set("redirect_uri", g.cfg.CallbackURL)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(scopes, " "))
	query.Set("code_challenge", cryptoutil.CreateS256CodeChallenge(verifier))
	query.Set("code_challenge_method", "S256")
	authorizationURL.RawQuery = query.Encode()

	g.setTempCookie(w, googleOAuthStateCookieName, state, oauthCookieMaxAge)
	g.setTempCookie(w, googleVerifierCookieName, verifier, oauthCookieMaxAge)

	http.Redirect(w, r, authorizationURL.String(), http.StatusFound)
	return nil
}

func (g *Google) HandleCallBack(w http.ResponseWriter, r *http.Request) *herr.Error {
	sess, e := sessionFrom(r)
	if e != nil {
		return e
	}

	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	storedState, err := r.Cookie(googleOAuthStateCookieName)
	if err != nil || storedState.Value != state || code == "" {
		return herr.BadRequest(err, "Invalid OAuth state or missing code")
	}
	verifier, err := r.Cookie(googleVerifierCookieName)
	if err != nil {
		return herr.BadRequest(err, "Missing PKCE verifier cookie")
	}

	g.setTempCookie(w, googleOAuthStateCookieName, "", -1)
	g.setTempCookie(w, googleVerifierCookieName, "", -1)

	token, err := g.exchange(r, code, verifier.Value)
	if err != nil {
		return herr.Internal(err, "Failed to exchange code")
	}

	userData, err := g.userInfo(r, token.AccessToken)
	if err != nil {
		return herr.Internal(err, "Failed to fetch user info")
	}

	if !userData.VerifiedEmail {
		return herr.BadRequest(nil, "User email not verified").WithMessage("Email not verified")
	}

	userID, err := g.findOrCreate(r, userData)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return herr.Conflict(err, "Email already used by a password account").WithMessage("An account with this email already exists")
		}
		return herr.Internal(err, "Failed to resolve Google user")
	}

	setUser(sess, userID)
	slog.Info("Google login", "user_id", userID)
	http.Redirect(w, r, g.cfg.AppURL, http.StatusFound)
	return nil
}

func (g *Google) exchange(r *http.Request, code, verifier string) (*tokenResponse, error) {
	formData := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {g.cfg.CallbackURL},
		"code_verifier": {verifier},
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, g.cfg.TokenURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating token request: %w", err)
	}

	basicAuth := base64.StdEncoding.EncodeToString([]byte(g.cfg.ClientID + ":" + g.cfg.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+basicAuth)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("error decoding token response: %w", err)
	}
	return &token, nil
}

func (g *Google) userInfo(r *http.Request, accessToken string) (*googleUser, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, g.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing user info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info endpoint returned status %d", resp.StatusCode)
	}

	var user googleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("error decoding user info response: %w", err)
	}
	return &user, nil
}

// findOrCreate returns the local user for a Google account, creating a
// password-less one on first sign-in.
func (g *Google) findOrCreate(r *http.Request, data *googleUser) (int64, error) {
	existing, err := g.users.UserByGoogleID(r.Context(), data.ID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return 0, fmt.Errorf("error reading user from db: %w", err)
	}

	googleID := data.ID
	id, err := g.users.CreateUser(r.Context(), &store.User{
		Username: data.Email,
		Email:    data.Email,
		Fullname: data.Name,
		Picture:  data.Picture,
		GoogleID: &googleID,
	})
	if errors.Is(err, store.ErrUserExists) {
		return 0, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return 0, fmt.Errorf("error creating user: %w", err)
	}
	return id, nil
}

func (g *Google) setTempCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (g *Google) Routes(mux *http.ServeMux) {
	mux.Handle("GET /auth/google", herr.Wrap(g.HandleLogin))
	mux.Handle("GET /auth/google/callback", herr.Wrap(g.HandleCallBack))
}
