package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/adapter/social"
	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
	httptransport "github.com/smallbiznis/authcore/internal/http"
	"github.com/smallbiznis/authcore/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/authcore/internal/http/middleware"
	"github.com/smallbiznis/authcore/internal/login"
	"github.com/smallbiznis/authcore/internal/password"
	"github.com/smallbiznis/authcore/internal/secrets"
	"github.com/smallbiznis/authcore/internal/service"
	"github.com/smallbiznis/authcore/internal/token"
)

type memoryDirectory struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]domain.User
}

var _ directory.Directory = (*memoryDirectory)(nil)

func (d *memoryDirectory) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (d *memoryDirectory) FindByID(ctx context.Context, id int64) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.ID == id {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (d *memoryDirectory) Create(ctx context.Context, user domain.User) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.users == nil {
		d.users = map[string]domain.User{}
	}
	if _, ok := d.users[user.Email]; ok {
		return domain.User{}, domain.ErrDuplicateEmail
	}
	d.nextID++
	user.ID = d.nextID
	d.users[user.Email] = user
	return user, nil
}

func (d *memoryDirectory) Update(ctx context.Context, user domain.User) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.Email] = user
	return user, nil
}

func (d *memoryDirectory) AssignRole(ctx context.Context, userID int64, role string) error { return nil }

func (d *memoryDirectory) Roles(ctx context.Context, userID int64) ([]string, error) { return nil, nil }

func (d *memoryDirectory) Deactivate(ctx context.Context, userID int64) error { return nil }

type memoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]login.StoredCode
}

func (s *memoryCodeStore) Put(ctx context.Context, email string, code login.StoredCode, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[string]login.StoredCode{}
	}
	s.codes[email] = code
	return nil
}

func (s *memoryCodeStore) Take(ctx context.Context, email string) (*login.StoredCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[email]
	if !ok {
		return nil, nil
	}
	delete(s.codes, email)
	return &code, nil
}

type capturingNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (n *capturingNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *capturingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.bodies)
	code := regexp.MustCompile(`\d{6}`).FindString(n.bodies[len(n.bodies)-1])
	require.NotEmpty(t, code)
	return code
}

func newTestRouter(t *testing.T) (*gin.Engine, *capturingNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		ServiceName:              "authcore-test",
		JWTSecret:                "test-secret-test-secret-test-secret!",
		JWTAlgorithm:             "HS256",
		JWTAudience:              "authcore-test",
		AccessTokenTTL:           30 * time.Minute,
		RefreshTokenTTL:          24 * time.Hour,
		PasswordlessLoginEnabled: true,
		PasswordlessCodeTTL:      5 * time.Minute,
		SocialAutoProvision:      true,
	}

	logger := zap.NewNop()
	dir := &memoryDirectory{}
	notifier := &capturingNotifier{}
	cipher, err := secrets.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	dispatcher := login.NewDispatcher(
		login.NewPasswordStrategy(dir),
		login.NewSocialStrategy(dir, social.NewHTTPClient(nil), cfg),
		login.NewPasswordlessStrategy(dir, &memoryCodeStore{}, cipher, notifier, cfg, logger),
		logger,
		nil,
	)
	tokens, err := token.New(cfg, token.NewMemoryStore(), logger)
	require.NoError(t, err)
	svc := service.NewAuthService(dir, dispatcher, tokens, password.NewHasher(password.DefaultParams), cfg, logger)

	router := httptransport.NewRouter(cfg,
		handler.NewAuthHandler(svc, logger),
		&httpmiddleware.Auth{AuthService: svc},
		nil,
	)
	return router, notifier
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) (access, refresh string) {
	t.Helper()
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken, resp.RefreshToken
}

func TestSignupLoginMeFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", gin.H{
		"email":    "user@example.com",
		"name":     "User",
		"password": "a strong passphrase",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email":    "user@example.com",
		"password": "a strong passphrase",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	access, _ := decodeTokens(t, rec)
	require.NotEmpty(t, access)

	rec = doJSON(t, router, http.MethodGet, "/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var profile struct {
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	require.Equal(t, "user@example.com", profile.Email)
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", gin.H{
		"email":    "user@example.com",
		"password": "a strong passphrase",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	wrongPassword := doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email":    "user@example.com",
		"password": "incorrect",
	}, nil)
	unknownEmail := doJSON(t, router, http.MethodPost, "/auth/login", gin.H{
		"email":    "ghost@example.com",
		"password": "incorrect",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	require.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestSignupDuplicateEmailConflict(t *testing.T) {
	router, _ := newTestRouter(t)

	payload := gin.H{"email": "dup@example.com", "password": "a strong passphrase"}
	rec := doJSON(t, router, http.MethodPost, "/auth/signup", payload, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/signup", payload, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPasswordlessEndpoints(t *testing.T) {
	router, notifier := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/passwordless/request", gin.H{
		"email": "code@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/passwordless/verify", gin.H{
		"email": "code@example.com",
		"code":  notifier.lastCode(t),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	access, refresh := decodeTokens(t, rec)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	// Replaying the consumed code is indistinguishable from a wrong code.
	rec = doJSON(t, router, http.MethodPost, "/auth/passwordless/verify", gin.H{
		"email": "code@example.com",
		"code":  "000000",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshAndRevoke(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", gin.H{
		"email":    "user@example.com",
		"password": "a strong passphrase",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	_, refresh := decodeTokens(t, rec)

	rec = doJSON(t, router, http.MethodPost, "/auth/token/refresh", gin.H{"refresh_token": refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, rotated := decodeTokens(t, rec)
	require.NotEqual(t, refresh, rotated)

	rec = doJSON(t, router, http.MethodPost, "/auth/token/revoke", gin.H{"refresh_token": rotated}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/token/refresh", gin.H{"refresh_token": rotated}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokeAllEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", gin.H{
		"email":    "user@example.com",
		"password": "a strong passphrase",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	access, refresh := decodeTokens(t, rec)

	rec = doJSON(t, router, http.MethodPost, "/auth/sessions/revoke-all", nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/token/refresh", gin.H{"refresh_token": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeRequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/auth/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccessTokenCannotRefresh(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", gin.H{
		"email":    "user@example.com",
		"password": "a strong passphrase",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	access, _ := decodeTokens(t, rec)

	rec = doJSON(t, router, http.MethodPost, "/auth/token/refresh", gin.H{"refresh_token": access}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
