package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelab/spawn-orchestrator/internal/auth"
	"github.com/forgelab/spawn-orchestrator/internal/gateway"
	"github.com/forgelab/spawn-orchestrator/internal/store"
	"github.com/forgelab/spawn-orchestrator/tests/helpers"
)

// TestAuthIntegration tests the login flow against a real database
func TestAuthIntegration(t *testing.T) {
	helpers.RequireIntegration(t)
	t.Setenv("JWT_SECRET", "test-secret-key-for-auth-integration-tests")

	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()

	userID := testDB.CreateTestUser(t, helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
	defer testDB.DeleteTestUser(t, userID)

	jwtManager, err := auth.NewJWTManager()
	require.NoError(t, err)

	spawnStore := store.NewSpawnStore(testDB.Pool)
	handler := gateway.NewHandler(nil, spawnStore, jwtManager, testDB.Pool)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/login", handler.Login)

	login := func(email, password string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(gateway.LoginRequest{Email: email, Password: password})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid credentials return a usable token", func(t *testing.T) {
		rec := login(helpers.DefaultTestUser.Email, helpers.DefaultTestUser.Password)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp gateway.LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, userID, resp.UserID)
		require.NotEmpty(t, resp.Token)

		claims, err := jwtManager.ValidateToken(t.Context(), resp.Token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		rec := login(helpers.DefaultTestUser.Email, "wrong-password-1")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown user rejected", func(t *testing.T) {
		rec := login(fmt.Sprintf("nobody-%s@example.com", userID[:8]), "irrelevant-pass-1")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
