package integration_test

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"connectd/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type ConnectionResponse struct {
	ID               string `json:"id"`
	Provider         string `json:"provider"`
	ProviderUserID   string `json:"provider_user_id"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name"`
	Connected        bool   `json:"connected"`
	DisconnectReason string `json:"disconnect_reason"`
	Followers        *int64 `json:"followers"`
}

type ConnectionsResponse struct {
	Providers   []string             `json:"providers"`
	Connections []ConnectionResponse `json:"connections"`
}

type NotificationsResponse struct {
	Notifications []core.Notification `json:"notifications"`
}

// noRedirectClient stops at the first redirect so tests can inspect Location.
func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func userToken(secret string, userID uuid.UUID) (string, error) {
	return core.GenerateAccessToken(userID, &core.Config{
		JWT: core.JWTConfig{Secret: secret, AccessTokenDuration: 1800},
	})
}

func authedRequest(method, target, token string) (*http.Response, error) {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return noRedirectClient().Do(req)
}

// startConnect calls /connect/<provider> and returns the authorization URL
// the browser would be sent to.
func startConnect(baseURL, token, provider string) (*url.URL, error) {
	resp, err := authedRequest(http.MethodGet, baseURL+"/connect/"+provider, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("connect %s: unexpected status %d", provider, resp.StatusCode)
	}
	return url.Parse(resp.Header.Get("Location"))
}

// finishCallback replays the provider redirect and returns where the service
// sent the browser afterwards.
func finishCallback(baseURL, token, provider string, query url.Values) (*url.URL, error) {
	resp, err := authedRequest(http.MethodGet, baseURL+"/callback/"+provider+"?"+query.Encode(), token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		return nil, fmt.Errorf("callback %s: unexpected status %d", provider, resp.StatusCode)
	}
	return url.Parse(resp.Header.Get("Location"))
}

func getConnections(baseURL, token string) (*ConnectionsResponse, error) {
	resp, err := authedRequest(http.MethodGet, baseURL+"/connections", token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connections: unexpected status %d", resp.StatusCode)
	}
	var result ConnectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func getNotifications(baseURL, token string) (*NotificationsResponse, error) {
	resp, err := authedRequest(http.MethodGet, baseURL+"/notifications", token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result NotificationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func syncNow(baseURL, token string) (*core.SyncReport, error) {
	resp, err := authedRequest(http.MethodPost, baseURL+"/sync", token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync: unexpected status %d", resp.StatusCode)
	}
	var report core.SyncReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func findConnection(conns []ConnectionResponse, provider string) *ConnectionResponse {
	for i := range conns {
		if conns[i].Provider == provider {
			return &conns[i]
		}
	}
	return nil
}

func countConnections(dbPath string, userID uuid.UUID) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM connections WHERE user_id = ?", userID.String()).Scan(&count)
	return count, err
}

func storedAccessToken(dbPath string, userID uuid.UUID, provider string) (string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var token string
	err = db.QueryRow("SELECT access_token FROM connections WHERE user_id = ? AND provider = ?",
		userID.String(), provider).Scan(&token)
	return token, err
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.Exec("DELETE FROM connections")
	return err
}

func waitForServer(baseURL string, maxAttempts int) error {
	client := &http.Client{Timeout: 1 * time.Second}
	for i := 0; i < maxAttempts; i++ {
		resp, err := client.Get(baseURL + "/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("server failed to start after %d attempts", maxAttempts)
}
