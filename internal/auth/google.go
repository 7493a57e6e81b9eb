package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/collabcore/docserver/internal/durable"
)

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleHandler mediates the OAuth code exchange with Google: exchanges
// the authorization code, upserts the user, records a login row, and
// returns a bearer token. POST /auth/google, body
// {code, platform?, redirect_uri?}.
type GoogleHandler struct {
	oauth    *oauth2.Config
	verifier *Verifier
	users    durable.UserStore
	log      *zap.Logger
}

func NewGoogleHandler(clientID, clientSecret string, verifier *Verifier, users durable.UserStore, log *zap.Logger) *GoogleHandler {
	return &GoogleHandler{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		verifier: verifier,
		users:    users,
		log:      log,
	}
}

type authRequest struct {
	Code        string `json:"code"`
	Platform    string `json:"platform,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

type googleUserinfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (h *GoogleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	cfg := *h.oauth
	if req.RedirectURI != "" {
		cfg.RedirectURL = req.RedirectURI
	}
	token, err := cfg.Exchange(ctx, req.Code)
	if err != nil {
		h.log.Warn("oauth code exchange failed", zap.Error(err))
		http.Error(w, "code exchange failed", http.StatusUnauthorized)
		return
	}

	info, err := h.fetchUserinfo(ctx, &cfg, token)
	if err != nil {
		h.log.Warn("userinfo fetch failed", zap.Error(err))
		http.Error(w, "identity lookup failed", http.StatusUnauthorized)
		return
	}

	user := &durable.User{
		ID:        info.ID,
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.Picture,
		CreatedAt: time.Now(),
	}
	if err := h.users.UpsertUser(ctx, user); err != nil {
		h.log.Error("user upsert failed", zap.String("user", user.ID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if err := h.users.RecordLogin(ctx, &durable.LoginRecord{
		UserID:    user.ID,
		Platform:  req.Platform,
		IP:        ip,
		UserAgent: r.UserAgent(),
		At:        time.Now(),
	}); err != nil {
		// Login auditing is advisory; the login itself still succeeds.
		h.log.Warn("login record failed", zap.String("user", user.ID), zap.Error(err))
	}

	bearer, err := h.verifier.Issue(user.ID)
	if err != nil {
		h.log.Error("token issuance failed", zap.String("user", user.ID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token": bearer,
		"user":  user,
	})
}

func (h *GoogleHandler) fetchUserinfo(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token) (*googleUserinfo, error) {
	client := cfg.Client(ctx, token)
	resp, err := client.Get(userinfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info googleUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
