package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/pushbeam/pushbeam/internal/app"
	iauth "github.com/pushbeam/pushbeam/internal/auth"
	"github.com/pushbeam/pushbeam/internal/database/testutil"
	"github.com/pushbeam/pushbeam/internal/gateway"
)

type recordingGateway struct {
	err error
}

func (g *recordingGateway) Send(_ context.Context, msg gateway.Message) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "msg-" + msg.Token, nil
}

type apiFixture struct {
	router *gin.Engine
	jwt    *iauth.JWTService
}

func newAPIFixture(t *testing.T, gw gateway.Gateway) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "pushbeam"})
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = false

	router, err := NewRouter(db, jwt, gw, cfg)
	require.NoError(t, err)
	return &apiFixture{router: router, jwt: jwt}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) tokenFor(t *testing.T, recipient string) string {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(recipient)
	require.NoError(t, err)
	return token
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func TestRouterRequiresAuth(t *testing.T) {
	f := newAPIFixture(t, &recordingGateway{})

	rec := f.do(t, http.MethodGet, "/api/devices", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeviceRegistrationFlow(t *testing.T) {
	f := newAPIFixture(t, &recordingGateway{})
	token := f.tokenFor(t, "alice")

	body := map[string]any{"device_token": "token-a", "platform": "ios", "app_version": "2.0.1"}
	rec := f.do(t, http.MethodPost, "/api/devices", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Re-registering the same token is an update, not a new resource.
	rec = f.do(t, http.MethodPost, "/api/devices", token, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/devices", token, map[string]any{"device_token": "x", "platform": "symbian"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/devices", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/devices/token-a", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/devices/token-unknown", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchAndReconciliationFlow(t *testing.T) {
	f := newAPIFixture(t, &recordingGateway{})
	alice := f.tokenFor(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/devices", alice, map[string]any{"device_token": "token-a", "platform": "android"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/notifications/dispatch", alice, map[string]any{
		"recipients": []string{"alice"},
		"title":      "deploy finished",
		"body":       "build 42 is live",
		"priority":   "high",
		"data":       map[string]any{"build": 42},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.EqualValues(t, 1, data["total_targets"])
	require.EqualValues(t, 1, data["total_sent"])

	// The record was marked sent, so it still shows up as missed until the
	// device acknowledges it.
	rec = f.do(t, http.MethodGet, "/api/notifications/missed?device_token=token-a", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var missedEnvelope struct {
		Data []struct {
			ID    uint   `json:"id"`
			Title string `json:"title"`
		} `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &missedEnvelope))
	require.Equal(t, 1, missedEnvelope.Meta.Count)
	recordID := missedEnvelope.Data[0].ID

	// Someone else cannot acknowledge alice's notification.
	bob := f.tokenFor(t, "bob")
	rec = f.do(t, http.MethodPost, "/api/notifications/"+uintString(recordID)+"/read", bob, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/notifications/"+uintString(recordID)+"/read", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second acknowledgement reports not found.
	rec = f.do(t, http.MethodPost, "/api/notifications/"+uintString(recordID)+"/read", alice, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications/missed", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &missedEnvelope))
	require.Zero(t, missedEnvelope.Meta.Count)
}

func TestBulkAcknowledge(t *testing.T) {
	f := newAPIFixture(t, &recordingGateway{})
	alice := f.tokenFor(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/devices", alice, map[string]any{"device_token": "token-a", "platform": "web"})
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, title := range []string{"one", "two", "three"} {
		rec = f.do(t, http.MethodPost, "/api/notifications/dispatch", alice, map[string]any{
			"recipients": []string{"alice"},
			"title":      title,
			"body":       "b",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/notifications/read", alice, map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.EqualValues(t, 3, data["acknowledged"])
}

func TestDispatchValidationOverHTTP(t *testing.T) {
	f := newAPIFixture(t, &recordingGateway{})
	alice := f.tokenFor(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/notifications/dispatch", alice, map[string]any{
		"recipients": []string{},
		"title":      "t",
		"body":       "b",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/notifications/dispatch", alice, map[string]any{
		"recipients": []string{"alice"},
		"body":       "b",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
