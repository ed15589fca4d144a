package login_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/adapter/social"
	"github.com/smallbiznis/authcore/internal/config"
	"github.com/smallbiznis/authcore/internal/directory"
	"github.com/smallbiznis/authcore/internal/domain"
	"github.com/smallbiznis/authcore/internal/login"
	"github.com/smallbiznis/authcore/internal/password"
	"github.com/smallbiznis/authcore/internal/secrets"
)

type fakeDirectory struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]domain.User
}

var _ directory.Directory = (*fakeDirectory)(nil)

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]domain.User{}}
}

func (d *fakeDirectory) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[email]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (d *fakeDirectory) FindByID(ctx context.Context, id int64) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.ID == id {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (d *fakeDirectory) Create(ctx context.Context, user domain.User) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[user.Email]; ok {
		return domain.User{}, domain.ErrDuplicateEmail
	}
	d.nextID++
	user.ID = d.nextID
	user.CreatedAt = time.Now()
	d.users[user.Email] = user
	return user, nil
}

func (d *fakeDirectory) Update(ctx context.Context, user domain.User) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.Email] = user
	return user, nil
}

func (d *fakeDirectory) AssignRole(ctx context.Context, userID int64, role string) error { return nil }

func (d *fakeDirectory) Roles(ctx context.Context, userID int64) ([]string, error) { return nil, nil }

func (d *fakeDirectory) Deactivate(ctx context.Context, userID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for email, user := range d.users {
		if user.ID == userID {
			user.Active = false
			d.users[email] = user
		}
	}
	return nil
}

type memoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]login.StoredCode
}

var _ login.CodeStore = (*memoryCodeStore)(nil)

func newMemoryCodeStore() *memoryCodeStore {
	return &memoryCodeStore{codes: map[string]login.StoredCode{}}
}

func (s *memoryCodeStore) Put(ctx context.Context, email string, code login.StoredCode, retain time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	match := regexp.MustCompile(`\d{6}`).FindString(n.bodies[len(n.bodies)-1])
	require.NotEmpty(t, match)
	return match
}

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	cipher, err := secrets.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return cipher
}

func newTestDispatcher(t *testing.T, dir *fakeDirectory, cfg config.Config, codes login.CodeStore, notifier *capturingNotifier, client social.Client) *login.Dispatcher {
	t.Helper()
	logger := zap.NewNop()
	return login.NewDispatcher(
		login.NewPasswordStrategy(dir),
		login.NewSocialStrategy(dir, client, cfg),
		login.NewPasswordlessStrategy(dir, codes, testCipher(t), notifier, cfg, logger),
		logger,
		nil,
	)
}

func seedUser(t *testing.T, dir *fakeDirectory, email, plaintext string) domain.User {
	t.Helper()
	hash, err := password.NewHasher(password.DefaultParams).Hash(plaintext)
	require.NoError(t, err)
	user, err := dir.Create(context.Background(), domain.User{
		Email:        email,
		Name:         "Seeded",
		PasswordHash: hash,
		Active:       true,
	})
	require.NoError(t, err)
	return user
}

func TestPasswordLogin(t *testing.T) {
	dir := newFakeDirectory()
	seeded := seedUser(t, dir, "user@example.com", "correct horse")
	d := newTestDispatcher(t, dir, config.Config{}, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))

	user, err := d.Authenticate(context.Background(), login.Request{
		Email:    "User@Example.COM",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.Equal(t, seeded.ID, user.ID)
}

func TestPasswordLoginFailuresAreUniform(t *testing.T) {
	dir := newFakeDirectory()
	seedUser(t, dir, "user@example.com", "correct horse")
	passwordless, err := dir.Create(context.Background(), domain.User{Email: "nopass@example.com", Active: true})
	require.NoError(t, err)
	require.False(t, passwordless.HasPassword())

	d := newTestDispatcher(t, dir, config.Config{}, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))

	cases := map[string]login.Request{
		"wrong password": {Email: "user@example.com", Password: "incorrect"},
		"unknown email":  {Email: "ghost@example.com", Password: "whatever"},
		"no local hash":  {Email: "nopass@example.com", Password: "whatever"},
	}
	for name, req := range cases {
		_, err := d.Authenticate(context.Background(), req)
		require.ErrorIs(t, err, domain.ErrInvalidCredentials, name)
	}
}

func TestPasswordLoginDeactivatedUser(t *testing.T) {
	dir := newFakeDirectory()
	user := seedUser(t, dir, "user@example.com", "correct horse")
	require.NoError(t, dir.Deactivate(context.Background(), user.ID))

	d := newTestDispatcher(t, dir, config.Config{}, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))
	_, err := d.Authenticate(context.Background(), login.Request{
		Email:    "user@example.com",
		Password: "correct horse",
	})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func socialTestServer(t *testing.T, claims map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(claims)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSocialLoginProvisionsUser(t *testing.T) {
	idp := socialTestServer(t, map[string]any{
		"sub":            "ext-1",
		"email":          "Social@Example.com",
		"email_verified": true,
		"name":           "Social User",
	})
	cfg := config.Config{
		SocialAutoProvision: true,
		SocialProviders:     []config.SocialProvider{{Name: "google", UserInfoURL: idp.URL}},
	}
	dir := newFakeDirectory()
	d := newTestDispatcher(t, dir, cfg, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))

	user, err := d.Authenticate(context.Background(), login.Request{
		Provider:    "google",
		AccessToken: "provider-token",
	})
	require.NoError(t, err)
	require.Equal(t, "social@example.com", user.Email)
	require.False(t, user.HasPassword())

	again, err := d.Authenticate(context.Background(), login.Request{
		Provider:    "google",
		AccessToken: "provider-token",
	})
	require.NoError(t, err)
	require.Equal(t, user.ID, again.ID)
}

func TestSocialLoginUnverifiedEmailCreatesNothing(t *testing.T) {
	idp := socialTestServer(t, map[string]any{
		"sub":   "ext-2",
		"email": "unverified@example.com",
	})
	cfg := config.Config{
		SocialAutoProvision: true,
		SocialProviders:     []config.SocialProvider{{Name: "google", UserInfoURL: idp.URL}},
	}
	dir := newFakeDirectory()
	d := newTestDispatcher(t, dir, cfg, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))

	_, err := d.Authenticate(context.Background(), login.Request{Provider: "google", AccessToken: "t"})
	require.ErrorIs(t, err, domain.ErrUnverifiedIdentity)

	_, err = dir.FindByEmail(context.Background(), "unverified@example.com")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSocialLoginUnknownProvider(t *testing.T) {
	dir := newFakeDirectory()
	d := newTestDispatcher(t, dir, config.Config{}, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))

	_, err := d.Authenticate(context.Background(), login.Request{Provider: "myspace", AccessToken: "t"})
	require.ErrorIs(t, err, domain.ErrProvider)
}

func TestSocialLoginNoAutoProvision(t *testing.T) {
	idp := socialTestServer(t, map[string]any{
		"sub":            "ext-3",
		"email":          "new@example.com",
		"email_verified": true,
	})
	cfg := config.Config{
		SocialProviders: []config.SocialProvider{{Name: "google", UserInfoURL: idp.URL}},
	}
	dir := newFakeDirectory()
	d := newTestDispatcher(t, dir, cfg, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))

	_, err := d.Authenticate(context.Background(), login.Request{Provider: "google", AccessToken: "t"})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func passwordlessConfig() config.Config {
	return config.Config{
		PasswordlessLoginEnabled: true,
		PasswordlessCodeTTL:      5 * time.Minute,
	}
}

func TestPasswordlessRoundTrip(t *testing.T) {
	dir := newFakeDirectory()
	notifier := &capturingNotifier{}
	codes := newMemoryCodeStore()
	d := newTestDispatcher(t, dir, passwordlessConfig(), codes, notifier, social.NewHTTPClient(nil))

	require.NoError(t, d.RequestCode(context.Background(), "Fresh@Example.com"))
	code := notifier.lastCode(t)

	user, err := d.Authenticate(context.Background(), login.Request{
		Email:       "fresh@example.com",
		OneTimeCode: code,
	})
	require.NoError(t, err)
	require.Equal(t, "fresh@example.com", user.Email)
	require.True(t, user.Active)
}

func TestPasswordlessCodeSingleUse(t *testing.T) {
	dir := newFakeDirectory()
	notifier := &capturingNotifier{}
	d := newTestDispatcher(t, dir, passwordlessConfig(), newMemoryCodeStore(), notifier, social.NewHTTPClient(nil))

	require.NoError(t, d.RequestCode(context.Background(), "once@example.com"))
	code := notifier.lastCode(t)

	_, err := d.Authenticate(context.Background(), login.Request{Email: "once@example.com", OneTimeCode: code})
	require.NoError(t, err)

	_, err = d.Authenticate(context.Background(), login.Request{Email: "once@example.com", OneTimeCode: code})
	require.ErrorIs(t, err, domain.ErrCodeInvalid)
}

func TestPasswordlessWrongCodeBurnsPendingCode(t *testing.T) {
	dir := newFakeDirectory()
	notifier := &capturingNotifier{}
	d := newTestDispatcher(t, dir, passwordlessConfig(), newMemoryCodeStore(), notifier, social.NewHTTPClient(nil))

	require.NoError(t, d.RequestCode(context.Background(), "burn@example.com"))
	code := notifier.lastCode(t)

	_, err := d.Authenticate(context.Background(), login.Request{Email: "burn@example.com", OneTimeCode: "000000x"})
	require.ErrorIs(t, err, domain.ErrCodeInvalid)

	// The failed attempt consumed the stored code.
	_, err = d.Authenticate(context.Background(), login.Request{Email: "burn@example.com", OneTimeCode: code})
	require.ErrorIs(t, err, domain.ErrCodeInvalid)
}

func TestPasswordlessExpiredCode(t *testing.T) {
	dir := newFakeDirectory()
	notifier := &capturingNotifier{}
	codes := newMemoryCodeStore()
	cfg := passwordlessConfig()
	d := newTestDispatcher(t, dir, cfg, codes, notifier, social.NewHTTPClient(nil))

	require.NoError(t, d.RequestCode(context.Background(), "late@example.com"))
	code := notifier.lastCode(t)

	stored, err := codes.Take(context.Background(), "late@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	stored.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, codes.Put(context.Background(), "late@example.com", *stored, time.Minute))

	_, err = d.Authenticate(context.Background(), login.Request{Email: "late@example.com", OneTimeCode: code})
	require.ErrorIs(t, err, domain.ErrCodeExpired)
}

func TestPasswordlessDisabled(t *testing.T) {
	dir := newFakeDirectory()
	d := newTestDispatcher(t, dir, config.Config{}, newMemoryCodeStore(), &capturingNotifier{}, social.NewHTTPClient(nil))

	err := d.RequestCode(context.Background(), "off@example.com")
	require.ErrorIs(t, err, domain.ErrPasswordlessDisabled)
}

func TestDispatcherResolvesByShape(t *testing.T) {
	require.Equal(t, login.MethodSocial, login.Resolve(login.Request{Provider: "google", AccessToken: "t"}))
	require.Equal(t, login.MethodPasswordless, login.Resolve(login.Request{Email: "a@b.c", OneTimeCode: "123456"}))
	require.Equal(t, login.MethodPassword, login.Resolve(login.Request{Email: "a@b.c", Password: "pw"}))
}
