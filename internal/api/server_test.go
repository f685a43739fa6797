package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carepool/internal/api"
	"carepool/internal/care"
	"carepool/internal/config"
	"carepool/internal/group"
	"carepool/internal/logger"
	"carepool/internal/memstore"
	"carepool/internal/notify"
	"carepool/internal/openblock"
	"carepool/internal/schedule"
	"carepool/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()

	log := logger.Discard()
	store := memstore.New()
	notifier := notify.NewNotifier(log, store, nil, nil)

	return api.NewServer(config.ServerConfig{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, api.Deps{
		Logger:     log,
		Sessions:   session.NewManager(log, store),
		Groups:     group.NewManager(log, store, notifier),
		Care:       care.NewManager(log, store, notifier),
		Schedule:   schedule.NewManager(log, store, notifier),
		OpenBlocks: openblock.NewManager(log, store, notifier),
		Notifier:   notifier,
	})
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func registerAndLogin(t *testing.T, app *fiber.App, name, email string) string {
	t.Helper()

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"name":     name,
		"email":    email,
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, ok := body["token"].(string)
	require.True(t, ok)
	return token
}

func TestAuthEndpoints(t *testing.T) {
	t.Run("register_login_me_round_trip", func(t *testing.T) {
		app := newTestServer(t).App()
		token := registerAndLogin(t, app, "Alice", "alice@example.com")

		resp, body := doJSON(t, app, http.MethodGet, "/api/v1/me", token, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "alice@example.com", body["email"])
	})

	t.Run("bad_credentials_are_unauthorized", func(t *testing.T) {
		app := newTestServer(t).App()
		registerAndLogin(t, app, "Alice", "alice@example.com")

		resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
			"email":    "alice@example.com",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing_token_is_unauthorized", func(t *testing.T) {
		app := newTestServer(t).App()

		resp, body := doJSON(t, app, http.MethodGet, "/api/v1/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		errObj, ok := body["error"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "authorization", errObj["code"])
	})

	t.Run("short_password_is_rejected", func(t *testing.T) {
		app := newTestServer(t).App()

		resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
			"name":     "Alice",
			"email":    "alice@example.com",
			"password": "short",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	app := newTestServer(t).App()

	aliceToken := registerAndLogin(t, app, "Alice", "alice@example.com")
	bobToken := registerAndLogin(t, app, "Bob", "bob@example.com")

	// Alice sets up the group and her child.
	resp, groupBody := doJSON(t, app, http.MethodPost, "/api/v1/groups", aliceToken, map[string]any{
		"name": "Weekday swap",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	groupID := groupBody["id"].(string)

	resp, childBody := doJSON(t, app, http.MethodPost, "/api/v1/me/children", aliceToken, map[string]any{
		"name": "Sem",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	childID := childBody["id"].(string)

	// Bob joins via invite.
	resp, inviteBody := doJSON(t, app, http.MethodPost, "/api/v1/groups/"+groupID+"/invites", aliceToken, map[string]any{
		"email": "bob@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	inviteID := inviteBody["id"].(string)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/invites/"+inviteID+"/accept", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Alice posts a request; Bob sees it and hears about it.
	resp, requestBody := doJSON(t, app, http.MethodPost, "/api/v1/requests", aliceToken, map[string]any{
		"group_id":   groupID,
		"child_id":   childID,
		"date":       "2026-10-05",
		"start_time": "14:00",
		"end_time":   "17:00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	requestID := requestBody["id"].(string)

	resp, listBody := doJSON(t, app, http.MethodGet, "/api/v1/groups/"+groupID+"/requests", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, listBody["requests"], 1)

	// Bob's inbox holds the group invite and the new request.
	resp, countBody := doJSON(t, app, http.MethodGet, "/api/v1/notifications/unread-count", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), countBody["count"])

	// Bob offers, Alice accepts, and a block appears on Bob's calendar.
	resp, responseBody := doJSON(t, app, http.MethodPost, "/api/v1/requests/"+requestID+"/responses", bobToken, map[string]any{
		"type": "offer",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	responseID := responseBody["id"].(string)
	// "offer" on the wire is stored as an accept-type response.
	assert.Equal(t, "accept", responseBody["type"])

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/requests/"+requestID+"/responses/"+responseID+"/accept", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, calendarBody := doJSON(t, app, http.MethodGet, "/api/v1/calendar?from=2026-10-01", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, calendarBody["blocks"], 1)

	// Accepting the same response again conflicts for a second offer
	// but replays cleanly for the winner.
	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/requests/"+requestID+"/responses/"+responseID+"/accept", aliceToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidationOverHTTP(t *testing.T) {
	app := newTestServer(t).App()
	token := registerAndLogin(t, app, "Alice", "alice@example.com")

	t.Run("malformed_uuid_param", func(t *testing.T) {
		resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/groups/not-a-uuid", token, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad_clock_value", func(t *testing.T) {
		resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/requests", token, map[string]any{
			"group_id":   "7b0d7a4e-7dd7-4c3f-9a51-52a19bbf8b3a",
			"child_id":   "f8f3d7b3-3f0f-4a4c-8f0e-0b64a3a7d8f5",
			"date":       "2026-10-05",
			"start_time": "25:00",
			"end_time":   "17:00",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown_group_is_not_forbidden_to_name", func(t *testing.T) {
		resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/groups/7b0d7a4e-7dd7-4c3f-9a51-52a19bbf8b3a", token, nil)
		assert.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, resp.StatusCode)
	})
}
