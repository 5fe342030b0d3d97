package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nationdex/promostore/internal/application"
	"github.com/nationdex/promostore/internal/repository"
)

const testSecret = "test-secret"

func signToken(t *testing.T, identity, username, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": identity,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if username != "" {
		claims["username"] = username
	}
	if role != "" {
		claims["role"] = role
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	files := repository.NewFileStore(filepath.Join(dir, "promocodes.json"), 2*time.Second, zap.NewNop())
	archive := repository.NewArchiveSink(filepath.Join(dir, "archived_promocodes"), zap.NewNop())
	store := application.NewPromoStore(files, archive, application.Options{ArchiveEnabled: true}, nil, zap.NewNop())

	r := gin.New()
	api := r.Group("/api/v1")
	NewPromoCodeHandler(store).RegisterRoutes(api, testSecret)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/promocodes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/promocodes", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	r := newTestRouter(t)
	user := signToken(t, "1001", "alice", "user")

	w := doJSON(t, r, http.MethodPost, "/api/v1/promocodes", user,
		application.CreateCodeRequest{Code: "X", Uses: 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/promocodes/clean", user, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateCheckRedeemFlow(t *testing.T) {
	r := newTestRouter(t)
	admin := signToken(t, "1", "operator", "admin")
	user := signToken(t, "1001", "alice", "user")

	w := doJSON(t, r, http.MethodPost, "/api/v1/promocodes", admin,
		application.CreateCodeRequest{Code: "save20", Uses: 2, MaxUsesPerUser: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var created application.PromoCodeDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "SAVE20", created.Code)
	assert.Equal(t, "operator", created.CreatedBy)

	w = doJSON(t, r, http.MethodGet, "/api/v1/promocodes/check?code=SAVE20", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.JSONEq(t, "true", string(body["eligible"]))

	w = doJSON(t, r, http.MethodPost, "/api/v1/promocodes/redeem", user,
		application.RedeemRequest{Code: "SAVE20"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.JSONEq(t, "true", string(body["redeemed"]))

	// Denials are a 200 with a machine-readable reason, not an error status.
	w = doJSON(t, r, http.MethodPost, "/api/v1/promocodes/redeem", user,
		application.RedeemRequest{Code: "SAVE20"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.JSONEq(t, "false", string(body["redeemed"]))
	assert.JSONEq(t, `"user_limit_reached"`, string(body["reason"]))
}

func TestCreateValidationAndConflict(t *testing.T) {
	r := newTestRouter(t)
	admin := signToken(t, "1", "", "admin")

	w := doJSON(t, r, http.MethodPost, "/api/v1/promocodes", admin,
		application.CreateCodeRequest{Code: "BAD CODE", Uses: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/promocodes", admin,
		application.CreateCodeRequest{Code: "DUP", Uses: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, r, http.MethodPost, "/api/v1/promocodes", admin,
		application.CreateCodeRequest{Code: "DUP", Uses: 1})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdjustUsesAndDelete(t *testing.T) {
	r := newTestRouter(t)
	admin := signToken(t, "1", "", "admin")

	w := doJSON(t, r, http.MethodPost, "/api/v1/promocodes", admin,
		application.CreateCodeRequest{Code: "TOPUP", Uses: 3})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPatch, "/api/v1/promocodes/TOPUP/uses", admin,
		application.AdjustUsesRequest{Delta: 2})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.JSONEq(t, "5", string(body["uses_left"]))

	w = doJSON(t, r, http.MethodPatch, "/api/v1/promocodes/MISSING/uses", admin,
		application.AdjustUsesRequest{Delta: 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/promocodes/TOPUP?archive=false", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/api/v1/promocodes/TOPUP", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAndSync(t *testing.T) {
	r := newTestRouter(t)
	admin := signToken(t, "1", "", "admin")

	for _, code := range []string{"BRAVO", "ALPHA"} {
		w := doJSON(t, r, http.MethodPost, "/api/v1/promocodes", admin,
			application.CreateCodeRequest{Code: code, Uses: 2})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/promocodes", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.JSONEq(t, "2", string(body["count"]))
	var dtos []application.PromoCodeDTO
	require.NoError(t, json.Unmarshal(body["promocodes"], &dtos))
	require.Len(t, dtos, 2)
	assert.Equal(t, "ALPHA", dtos[0].Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/promocodes/sync", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.JSONEq(t, "2", string(body["count"]))
}

func TestCleanEndpoint(t *testing.T) {
	r := newTestRouter(t)
	admin := signToken(t, "1", "", "admin")

	w := doJSON(t, r, http.MethodPost, "/api/v1/promocodes", admin,
		application.CreateCodeRequest{Code: "STALE", Uses: 1, Expiry: "2020-01-01T00:00:00Z"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/promocodes/clean", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.JSONEq(t, "1", string(body["removed"]))
}
