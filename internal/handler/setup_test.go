package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/mflix/internal/handler"
	"github.com/xxxsen/mflix/internal/middleware"
	"github.com/xxxsen/mflix/internal/repo"
	"github.com/xxxsen/mflix/internal/service"
	"github.com/xxxsen/mflix/internal/testutil"
)

type apiResult struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) (http.Handler, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, cleanup := testutil.OpenTestDB(t)
	sessionRepo := repo.NewSessionRepo(db)
	userRepo := repo.NewUserRepo(db, sessionRepo)
	commentRepo := repo.NewCommentRepo(db)
	ctx := context.Background()
	require.NoError(t, sessionRepo.EnsureIndexes(ctx))
	require.NoError(t, userRepo.EnsureIndexes(ctx))
	require.NoError(t, commentRepo.EnsureIndexes(ctx))

	jwtSecret := []byte("test-secret")
	authService := service.NewAuthService(userRepo, sessionRepo, jwtSecret, time.Hour)
	userService := service.NewUserService(userRepo)
	commentService := service.NewCommentService(commentRepo, userRepo, 20, 0)

	deps := handler.RouterDeps{
		Users:     handler.NewUserHandler(authService, userService),
		Comments:  handler.NewCommentHandler(commentService),
		Sessions:  authService,
		JWTSecret: jwtSecret,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return engine, cleanup
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) apiResult {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func registerAndLogin(t *testing.T, router http.Handler, name, email string) string {
	t.Helper()
	result := doJSON(t, router, http.MethodPost, "/api/v1/user/register", "", map[string]string{
		"name": name, "email": email, "password": "password123",
	})
	require.Equal(t, 0, result.Code)
	result = doJSON(t, router, http.MethodPost, "/api/v1/user/login", "", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(t, 0, result.Code)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(result.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}
