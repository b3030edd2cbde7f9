package githubapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/easygit/ghswitch/internal/config"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.AuthConfig{
		ClientID:      "test-client-id",
		Scopes:        []string{"repo", "user"},
		DeviceCodeURL: server.URL + "/login/device/code",
		TokenURL:      server.URL + "/login/oauth/access_token",
		APIBaseURL:    server.URL + "/",
	}), server
}

func TestRequestDeviceCode(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != "POST" {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept = %s", r.Header.Get("Accept"))
			}

			body, _ := io.ReadAll(r.Body)
			values, _ := url.ParseQuery(string(body))
			if values.Get("client_id") != "test-client-id" {
				t.Errorf("client_id = %s", values.Get("client_id"))
			}
			if values.Get("scope") != "repo user" {
				t.Errorf("scope = %s", values.Get("scope"))
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(DeviceCode{
				DeviceCode:      "device-code-123",
				UserCode:        "ABCD-1234",
				VerificationURI: "https://github.com/login/device",
				ExpiresIn:       900,
				Interval:        5,
			})
		}))

		code, err := client.RequestDeviceCode(context.Background())
		if err != nil {
			t.Fatalf("RequestDeviceCode: %v", err)
		}
		if code.UserCode != "ABCD-1234" || code.ExpiresIn != 900 || code.Interval != 5 {
			t.Errorf("unexpected response: %+v", code)
		}
	})

	t.Run("non-2xx fails", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad client id", http.StatusUnprocessableEntity)
		}))

		if _, err := client.RequestDeviceCode(context.Background()); err == nil {
			t.Error("expected error for non-2xx status")
		}
	})

	t.Run("empty codes fail", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("{}"))
		}))

		if _, err := client.RequestDeviceCode(context.Background()); err == nil {
			t.Error("expected error for response without codes")
		}
	})
}

func TestPollToken(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			values, _ := url.ParseQuery(string(body))
			if values.Get("grant_type") != "urn:ietf:params:oauth:grant-type:device_code" {
				t.Errorf("grant_type = %s", values.Get("grant_type"))
			}
			if values.Get("device_code") != "dev-1" {
				t.Errorf("device_code = %s", values.Get("device_code"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"error":"authorization_pending"}`))
		}))

		result, err := client.PollToken(context.Background(), "dev-1")
		if err != nil {
			t.Fatalf("PollToken: %v", err)
		}
		if result.Reason != ReasonPending {
			t.Errorf("Reason = %q", result.Reason)
		}
	})

	t.Run("slow_down carries interval", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":"slow_down","interval":30}`))
		}))

		result, err := client.PollToken(context.Background(), "dev-1")
		if err != nil {
			t.Fatal(err)
		}
		if result.Reason != ReasonSlowDown || result.Interval != 30 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("access token", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"access_token":"gho_tok","token_type":"bearer"}`))
		}))

		result, err := client.PollToken(context.Background(), "dev-1")
		if err != nil {
			t.Fatal(err)
		}
		if result.AccessToken != "gho_tok" {
			t.Errorf("AccessToken = %q", result.AccessToken)
		}
	})

	t.Run("malformed body fails", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "<html>gateway timeout</html>", http.StatusBadGateway)
		}))

		if _, err := client.PollToken(context.Background(), "dev-1"); err == nil {
			t.Error("expected error for undecodable response")
		}
	})
}

func TestUserInfo(t *testing.T) {
	t.Run("resolves identity", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v3/user" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer gho_tok" {
				t.Errorf("Authorization = %q", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"login":"alice","name":"Alice A","email":"a@x.com","avatar_url":"https://avatars.example/alice"}`))
		}))

		info, err := client.UserInfo(context.Background(), "gho_tok")
		if err != nil {
			t.Fatalf("UserInfo: %v", err)
		}
		if info.Login != "alice" || info.Name != "Alice A" || info.Email != "a@x.com" {
			t.Errorf("info = %+v", info)
		}
	})

	t.Run("bad token fails", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
		}))

		if _, err := client.UserInfo(context.Background(), "bad"); err == nil {
			t.Error("expected error for 401")
		}
	})
}
