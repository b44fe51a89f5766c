package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mflix/internal/pkg/errcode"
	appErr "github.com/xxxsen/mflix/internal/pkg/errors"
	"github.com/xxxsen/mflix/internal/pkg/jwt"
)

type stubSessions struct {
	token string
	err   error
}

func (s stubSessions) ValidateSession(ctx context.Context, userID, token string) error {
	if s.err != nil {
		return s.err
	}
	if token != s.token {
		return appErr.ErrUnauthorized
	}
	return nil
}

func runAuth(t *testing.T, sessions SessionValidator, header string) (int, string) {
	gin.SetMode(gin.TestMode)
	secret := []byte("secret")
	engine := gin.New()
	var seen string
	engine.GET("/me", JWTAuth(secret, sessions), func(c *gin.Context) {
		seen = c.GetString(ContextUserIDKey)
		c.JSON(http.StatusOK, gin.H{"code": 0})
	})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	engine.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Code, seen
}

func TestJWTAuth(t *testing.T) {
	token, err := jwt.GenerateToken("a@x.com", "a@x.com", []byte("secret"), time.Hour)
	require.NoError(t, err)

	code, user := runAuth(t, stubSessions{token: token}, "Bearer "+token)
	require.Equal(t, 0, code)
	require.Equal(t, "a@x.com", user)

	code, _ = runAuth(t, stubSessions{token: token}, "")
	require.Equal(t, errcode.ErrUnauthorized, code)

	code, _ = runAuth(t, stubSessions{token: token}, "Basic abc")
	require.Equal(t, errcode.ErrUnauthorized, code)

	code, _ = runAuth(t, stubSessions{token: "another"}, "Bearer "+token)
	require.Equal(t, errcode.ErrUnauthorized, code)

	code, _ = runAuth(t, stubSessions{err: appErr.ErrUnavailable}, "Bearer "+token)
	require.Equal(t, errcode.ErrUnavailable, code)

	forged, err := jwt.GenerateToken("a@x.com", "a@x.com", []byte("other"), time.Hour)
	require.NoError(t, err)
	code, _ = runAuth(t, stubSessions{token: forged}, "Bearer "+forged)
	require.Equal(t, errcode.ErrUnauthorized, code)
}
