package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventapp-telegram-bot/internal/common/errors"
	accmodels "eventapp-telegram-bot/internal/features/account/models"
	idmodels "eventapp-telegram-bot/internal/features/identity/models"
	tokensvc "eventapp-telegram-bot/internal/features/token/service"
	"eventapp-telegram-bot/internal/metrics"
)

const botToken = "123456:TEST-TOKEN"

type fakeIdentities struct {
	linked map[int64]int64
	err    error
	seen   []idmodels.ChatIdentity
}

func (f *fakeIdentities) ResolveOrCreate(_ context.Context, c idmodels.ChatIdentity) (*idmodels.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.seen = append(f.seen, c)
	rec := &idmodels.Record{TelegramID: c.TelegramID, Username: c.Username}
	if uid, ok := f.linked[c.TelegramID]; ok {
		rec.UserID = &uid
	}
	return rec, nil
}

type fakeLinker struct {
	fn func(c idmodels.ChatIdentity, email, password string) (*accmodels.User, error)
}

func (f *fakeLinker) LinkWithCredentials(_ context.Context, c idmodels.ChatIdentity, email, password string) (*accmodels.User, *tokensvc.Token, error) {
	user, err := f.fn(c, email, password)
	if err != nil {
		return nil, nil, err
	}
	return user, &tokensvc.Token{Value: "signed-" + strconv.FormatInt(user.ID, 10)}, nil
}

type testServer struct {
	router     *gin.Engine
	identities *fakeIdentities
	linker     *fakeLinker
	issuer     *tokensvc.Issuer
}

func newTestServer(t *testing.T, readiness ...ReadinessCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := tokensvc.NewIssuer("http-test-secret", time.Hour)
	require.NoError(t, err)

	s := &testServer{
		identities: &fakeIdentities{linked: map[int64]int64{}},
		linker: &fakeLinker{fn: func(c idmodels.ChatIdentity, email, password string) (*accmodels.User, error) {
			if email == "user@x.com" && password == "secret123" {
				return &accmodels.User{ID: 42, Name: "Dana", Email: email}, nil
			}
			return nil, errors.NewInvalidCredentialsError()
		}},
		issuer: issuer,
	}

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	s.router = NewRouter(RouterConfig{
		Debug:       true,
		CORSOrigins: []string{"*"},
		BotToken:    botToken,
		InitDataTTL: time.Hour,
		Telegram:    NewTelegramHandlers(s.identities, s.linker, issuer),
		Readiness:   readiness,
		Gatherer:    reg,
	})
	return s
}

func (s *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signInitData signs values the way Telegram signs Mini App init data.
func signInitData(token string, values url.Values) string {
	pairs := make([]string, 0, len(values))
	for k := range values {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(token))
	h := hmac.New(sha256.New, secret.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))

	values.Set("hash", hex.EncodeToString(h.Sum(nil)))
	return values.Encode()
}

func initDataFor(userID int64, authDate time.Time) string {
	return signInitData(botToken, url.Values{
		"auth_date": {strconv.FormatInt(authDate.Unix(), 10)},
		"query_id":  {"AAH"},
		"user":      {`{"id":` + strconv.FormatInt(userID, 10) + `,"first_name":"Alice","username":"alice","language_code":"en"}`},
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["timestamp"])
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"OK","message":"EventApp Telegram Bot is running"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	s := newTestServer(t, ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return assert.AnError }})
	w := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres unavailable")

	s = newTestServer(t, ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_MissingInitData(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/telegram/auth", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "AUTH_ERROR", decodeError(t, w)["code"])
}

func TestAuth_RejectsUnsignedOrTampered(t *testing.T) {
	s := newTestServer(t)

	unsigned := url.Values{"user": {`{"id":100}`}, "auth_date": {strconv.FormatInt(time.Now().Unix(), 10)}}.Encode()
	w := s.do(t, http.MethodGet, "/api/telegram/auth?initData="+url.QueryEscape(unsigned), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	signed := initDataFor(100, time.Now())
	tampered := strings.Replace(signed, "alice", "mallory", 1)
	w = s.do(t, http.MethodGet, "/api/telegram/auth?initData="+url.QueryEscape(tampered), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "AUTH_ERROR", decodeError(t, w)["code"])

	expired := initDataFor(100, time.Now().Add(-48*time.Hour))
	w = s.do(t, http.MethodGet, "/api/telegram/auth?initData="+url.QueryEscape(expired), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, s.identities.seen)
}

func TestAuth_Unlinked(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/telegram/auth?initData="+url.QueryEscape(initDataFor(100, time.Now())), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"linked":false,"telegramId":100}`, w.Body.String())

	require.Len(t, s.identities.seen, 1)
	assert.Equal(t, "alice", s.identities.seen[0].Username)
	assert.Equal(t, "en", s.identities.seen[0].LanguageCode)
}

func TestAuth_Linked(t *testing.T) {
	s := newTestServer(t)
	s.identities.linked[100] = 42

	req := httptest.NewRequest(http.MethodGet, "/api/telegram/auth", nil)
	req.Header.Set("X-Telegram-Init-Data", initDataFor(100, time.Now()))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Linked)
	claims, ok := s.issuer.Verify(resp.Token)
	require.True(t, ok)
	assert.Equal(t, int64(42), claims.UserID)
}

func TestAuth_StorageFailureIs500(t *testing.T) {
	s := newTestServer(t)
	s.identities.err = errors.NewStorageError("resolve telegram identity", assert.AnError)
	w := s.do(t, http.MethodGet, "/api/telegram/auth?initData="+url.QueryEscape(initDataFor(100, time.Now())), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "STORAGE_ERROR", decodeError(t, w)["code"])
}

func TestLink(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/telegram/link", LinkRequest{TelegramID: 100, Email: "user@x.com", Password: "secret123"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"token":"signed-42","user":{"id":42,"name":"Dana","email":"user@x.com"}}`, w.Body.String())
}

func TestLink_Failures(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/telegram/link", map[string]any{"email": "user@x.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	assert.Contains(t, body["error"], "Missing required fields")

	w = s.do(t, http.MethodPost, "/api/telegram/link", LinkRequest{TelegramID: 100, Email: "user@x.com", Password: "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, w)["code"])

	s.linker.fn = func(idmodels.ChatIdentity, string, string) (*accmodels.User, error) {
		return nil, errors.NewStorageError("link telegram identity", assert.AnError)
	}
	w = s.do(t, http.MethodPost, "/api/telegram/link", LinkRequest{TelegramID: 100, Email: "user@x.com", Password: "secret123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "STORAGE_ERROR", decodeError(t, w)["code"])
}

func TestPanicIsRecovered(t *testing.T) {
	s := newTestServer(t)
	s.router.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := s.do(t, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, w)["code"])

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
}
