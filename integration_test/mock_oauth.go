package integration_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

type mockUser struct {
	ID        string
	Username  string
	Name      string
	Email     string
	Picture   string
	Followers int64
}

var mockUsers = map[string]mockUser{
	"valid_code_1": {
		ID:        "mock_user_1",
		Username:  "userone",
		Name:      "Test User 1",
		Email:     "user1@example.com",
		Picture:   "https://example.com/avatar1.jpg",
		Followers: 1200,
	},
	"valid_code_2": {
		ID:        "mock_user_2",
		Username:  "usertwo",
		Name:      "Test User 2",
		Email:     "user2@example.com",
		Picture:   "https://example.com/avatar2.jpg",
		Followers: 34,
	},
	"short_lived_code": {
		ID:        "mock_user_3",
		Username:  "userthree",
		Name:      "Test User 3",
		Email:     "user3@example.com",
		Followers: 5,
	},
}

// MockOAuthServer plays the token and profile endpoints of twitter, linkedin
// and tiktok under /<provider>/.
type MockOAuthServer struct {
	server *httptest.Server

	mu          sync.Mutex
	challenges  map[string]string // code -> code_challenge seen on the authorize URL
	exchanges   map[string]int    // provider -> token requests
	failProfile map[string]bool
}

func NewMockOAuthServer() *MockOAuthServer {
	m := &MockOAuthServer{
		challenges:  make(map[string]string),
		exchanges:   make(map[string]int),
		failProfile: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/twitter/token", m.handleToken("twitter"))
	mux.HandleFunc("/linkedin/token", m.handleToken("linkedin"))
	mux.HandleFunc("/tiktok/token", m.handleToken("tiktok"))
	mux.HandleFunc("/twitter/2/users/me", m.handleTwitterMe)
	mux.HandleFunc("/linkedin/v2/userinfo", m.handleLinkedInUserInfo)
	mux.HandleFunc("/tiktok/v2/user/info/", m.handleTikTokUserInfo)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockOAuthServer) URL() string {
	return m.server.URL
}

func (m *MockOAuthServer) Close() {
	m.server.Close()
}

// Approve records the challenge the browser would have shown the provider
// when the user approved code.
func (m *MockOAuthServer) Approve(code, challenge string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[code] = challenge
}

func (m *MockOAuthServer) FailProfile(provider string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failProfile[provider] = fail
}

func (m *MockOAuthServer) Exchanges(provider string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges[provider]
}

func (m *MockOAuthServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges = make(map[string]string)
	m.exchanges = make(map[string]int)
	m.failProfile = make(map[string]bool)
}

func (m *MockOAuthServer) handleToken(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}

		m.mu.Lock()
		m.exchanges[provider]++
		challenge, approved := m.challenges[r.PostForm.Get("code")]
		m.mu.Unlock()

		code := r.PostForm.Get("code")
		if r.PostForm.Get("grant_type") != "authorization_code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
			return
		}
		if _, ok := mockUsers[code]; !ok || !approved {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		if challenge != "" && s256(r.PostForm.Get("code_verifier")) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "code_verifier does not match",
			})
			return
		}

		expiresIn := 3600
		if code == "short_lived_code" {
			expiresIn = 1
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "access_" + code,
			"refresh_token": "refresh_" + code,
			"expires_in":    expiresIn,
			"token_type":    "Bearer",
		})
	}
}

func (m *MockOAuthServer) userFor(provider string, w http.ResponseWriter, r *http.Request) (mockUser, bool) {
	m.mu.Lock()
	failing := m.failProfile[provider]
	m.mu.Unlock()
	if failing {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return mockUser{}, false
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer access_") {
		if user, ok := mockUsers[strings.TrimPrefix(auth, "Bearer access_")]; ok {
			return user, true
		}
	}

	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
	return mockUser{}, false
}

func (m *MockOAuthServer) handleTwitterMe(w http.ResponseWriter, r *http.Request) {
	user, ok := m.userFor("twitter", w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"id":                user.ID,
			"name":              user.Name,
			"username":          user.Username,
			"profile_image_url": user.Picture,
			"verified":          false,
			"created_at":        "2015-04-01T10:00:00.000Z",
			"public_metrics": map[string]int64{
				"followers_count": user.Followers,
				"following_count": 10,
				"tweet_count":     99,
			},
		},
	})
}

func (m *MockOAuthServer) handleLinkedInUserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := m.userFor("linkedin", w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sub":            user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"email_verified": true,
		"picture":        user.Picture,
	})
}

func (m *MockOAuthServer) handleTikTokUserInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := m.userFor("tiktok", w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"user": map[string]interface{}{
				"open_id":        user.ID,
				"username":       user.Username,
				"display_name":   user.Name,
				"avatar_url":     user.Picture,
				"follower_count": user.Followers,
				"video_count":    3,
				"likes_count":    42,
			},
		},
		"error": map[string]string{"code": "ok"},
	})
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
