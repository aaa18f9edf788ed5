package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/throwlytics/backend/internal/models"
	"github.com/throwlytics/backend/pkg/utils"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]*models.User{}} }

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) Create(_ context.Context, name, email, hash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, ErrEmailTaken
	}
	now := time.Now()
	u := &models.User{
		ID: uuid.New(), Name: name, Email: email, Password: hash,
		PlanType: models.PlanFree, MonthlyTokenLimit: models.DefaultMonthlyTokenLimit,
		LastTokenReset: now, CreatedAt: now, UpdatedAt: now,
	}
	m.users[email] = u
	return u, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupRouter(t *testing.T) (*gin.Engine, *JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.HashCost = bcrypt.MinCost
	jwtSvc := NewJWTService("test-secret", 168)
	h := NewHandler(newMemUsers(), jwtSvc, nil)
	r := gin.New()
	r.POST("/api/auth/signup", h.Signup)
	r.POST("/api/auth/login", h.Login)
	r.GET("/api/auth/health", h.Health)
	return r, jwtSvc
}

func doJSON(r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestSignup_CreatesFreeUserAndToken(t *testing.T) {
	r, jwtSvc := setupRouter(t)

	w, env := doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"name": "Ana", "email": "Ana@Example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, env.Success)

	var tr TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.Equal(t, "Bearer", tr.Type)
	assert.Equal(t, "ana@example.com", tr.User.Email)
	assert.Equal(t, models.PlanFree, tr.User.PlanType)
	assert.Equal(t, 5, tr.User.MonthlyTokenLimit)

	claims, err := jwtSvc.Validate(tr.Token)
	require.NoError(t, err)
	assert.Equal(t, tr.User.ID, claims.UserID)
	assert.Equal(t, "FREE", claims.Plan)
}

func TestSignup_Validation(t *testing.T) {
	r, _ := setupRouter(t)
	cases := map[string]gin.H{
		"short password": {"name": "Ana", "email": "ana@example.com", "password": "12345"},
		"bad email":      {"name": "Ana", "email": "not-an-email", "password": "secret1"},
		"missing name":   {"email": "ana@example.com", "password": "secret1"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w, env := doJSON(r, http.MethodPost, "/api/auth/signup", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	r, _ := setupRouter(t)
	body := gin.H{"name": "Ana", "email": "ana@example.com", "password": "secret1"}

	w, _ := doJSON(r, http.MethodPost, "/api/auth/signup", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := doJSON(r, http.MethodPost, "/api/auth/signup", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email already registered", env.Error)
}

func TestLogin(t *testing.T) {
	r, _ := setupRouter(t)
	w, _ := doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"name": "Ana", "email": "ana@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := doJSON(r, http.MethodPost, "/api/auth/login", gin.H{"email": "ana@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	var tr TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.NotEmpty(t, tr.Token)

	w, env = doJSON(r, http.MethodPost, "/api/auth/login", gin.H{"email": "ana@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", env.Error)

	w, _ = doJSON(r, http.MethodPost, "/api/auth/login", gin.H{"email": "nobody@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t)
	w, env := doJSON(r, http.MethodGet, "/api/auth/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
}
