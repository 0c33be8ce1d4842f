package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"payerbook.org/internal/account"
	"payerbook.org/internal/auth"
	"payerbook.org/internal/entity"
	"payerbook.org/internal/store/memory"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memory.Store
	tokens  *auth.Service
}

type testOption func(*Deps)

func withLimiter(l *RateLimiter) testOption { return func(d *Deps) { d.AuthLimiter = l } }

func newTestAPI(t *testing.T, opts ...testOption) *apiClient {
	t.Helper()

	tokens, err := auth.NewService("access-secret-for-tests", "refresh-secret-for-tests")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	store := memory.New()
	deps := Deps{
		Tokens:       tokens,
		Accounts:     account.NewService(store.Users(), tokens, auth.NewPasswordHasher(bcrypt.MinCost)),
		Entities:     entity.NewService(store.Entities()),
		Ready:        ReadyProbe{Checks: []Check{{Name: "store", Fn: store.Ping}}},
		Version:      "test",
		CORSOrigins:  []string{"http://app.example"},
		MaxBodyBytes: 1 << 16,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv := httptest.NewServer(New(deps).Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		tokens:  tokens,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string, cookies ...*http.Cookie) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		if raw, ok := body.(string); ok {
			payload = []byte(raw)
		} else {
			var err error
			payload, err = json.Marshal(body)
			if err != nil {
				c.t.Fatalf("marshal body: %v", err)
			}
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string, cookies ...*http.Cookie) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers, cookies...)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, headers)
}

type sessionEnvelope struct {
	Success bool            `json:"success"`
	Data    sessionResponse `json:"data"`
	Message string          `json:"message"`
}

type genericEnvelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
}

// signup registers a user and returns the access token and refresh cookie.
func (c *apiClient) signup(email, password string) (string, *http.Cookie) {
	c.t.Helper()
	resp := c.post("/api/signup", map[string]string{
		"email":           email,
		"password":        password,
		"confirmPassword": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("signup status: %d", resp.StatusCode)
	}
	ck := refreshCookie(c.t, resp)
	body := decode[sessionEnvelope](c.t, resp)
	if !body.Success || body.Data.AccessToken == "" {
		c.t.Fatalf("unexpected signup body: %+v", body)
	}
	return body.Data.AccessToken, ck
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, ck := range resp.Cookies() {
		if ck.Name == refreshCookieName {
			return ck
		}
	}
	t.Fatalf("response has no %s cookie", refreshCookieName)
	return nil
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, code int, msg string) {
	t.Helper()
	if resp.StatusCode != code {
		resp.Body.Close()
		t.Fatalf("expected %d, got %d", code, resp.StatusCode)
	}
	body := decode[genericEnvelope](t, resp)
	if body.Success {
		t.Fatalf("expected success=false")
	}
	if body.Message != msg {
		t.Fatalf("expected message %q, got %q", msg, body.Message)
	}
	if body.RequestID == "" {
		t.Fatalf("expected request_id in error body")
	}
}

func validEntity() map[string]any {
	return map[string]any{
		"name":          "Acme Holdings",
		"street":        "1 Main St",
		"city":          "Boise",
		"state":         "ID",
		"zip":           "83702",
		"entity_tin":    "12-3456789",
		"is_individual": false,
	}
}

func TestSignupSetsRefreshCookie(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/api/signup", map[string]string{
		"email":           "Owner@Example.com",
		"password":        "pw-123456",
		"confirmPassword": "pw-123456",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	ck := refreshCookie(t, resp)
	if !ck.HttpOnly {
		t.Fatalf("refresh cookie must be HttpOnly")
	}
	if ck.SameSite != http.SameSiteStrictMode {
		t.Fatalf("refresh cookie must be SameSite=Strict, got %v", ck.SameSite)
	}
	if ck.Path != "/" {
		t.Fatalf("unexpected cookie path %q", ck.Path)
	}
	if ck.MaxAge <= 0 {
		t.Fatalf("expected positive Max-Age, got %d", ck.MaxAge)
	}

	body := decode[sessionEnvelope](t, resp)
	if body.Data.Message != msgSignupOK {
		t.Fatalf("unexpected message %q", body.Data.Message)
	}
	id, err := api.tokens.VerifyAccess(body.Data.AccessToken)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if id.UserID <= 0 {
		t.Fatalf("unexpected user id %d", id.UserID)
	}
}

func TestSignupValidation(t *testing.T) {
	api := newTestAPI(t)
	api.signup("taken@example.com", "pw-123456")

	cases := []struct {
		name string
		body map[string]string
		msg  string
	}{
		{"missing confirm", map[string]string{"email": "a@example.com", "password": "x"}, "All fields must be filled"},
		{"bad email", map[string]string{"email": "not-an-email", "password": "x", "confirmPassword": "x"}, "Invalid email address"},
		{"mismatch", map[string]string{"email": "a@example.com", "password": "x", "confirmPassword": "y"}, "Passwords need to match"},
		{"taken", map[string]string{"email": "taken@example.com", "password": "x", "confirmPassword": "x"}, "Account already associated with this email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectError(t, api.post("/api/signup", tc.body, nil), http.StatusBadRequest, tc.msg)
		})
	}
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)
	api.signup("owner@example.com", "pw-123456")

	resp := api.post("/api/login", map[string]string{"email": "owner@example.com", "password": "pw-123456"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	refreshCookie(t, resp)
	body := decode[sessionEnvelope](t, resp)
	if body.Data.Message != msgLoginOK || body.Data.AccessToken == "" {
		t.Fatalf("unexpected login body: %+v", body)
	}

	expectError(t,
		api.post("/api/login", map[string]string{"email": "owner@example.com", "password": "wrong"}, nil),
		http.StatusUnauthorized, "Incorrect password")
	expectError(t,
		api.post("/api/login", map[string]string{"email": "nobody@example.com", "password": "pw-123456"}, nil),
		http.StatusNotFound, "Account not found")
	expectError(t,
		api.post("/api/login", "{not json", nil),
		http.StatusBadRequest, msgInvalidBody)
}

func TestRefreshToken(t *testing.T) {
	api := newTestAPI(t)
	_, ck := api.signup("owner@example.com", "pw-123456")

	resp := api.post("/api/refresh_token", nil, nil, ck)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	refreshCookie(t, resp)
	body := decode[map[string]any](t, resp)
	token, _ := body["accessToken"].(string)
	if token == "" {
		t.Fatalf("expected bare accessToken field, got %v", body)
	}
	if _, err := api.tokens.VerifyAccess(token); err != nil {
		t.Fatalf("refreshed access token does not verify: %v", err)
	}

	expectError(t, api.post("/api/refresh_token", nil, nil), http.StatusUnauthorized, msgNoRefresh)
	expectError(t,
		api.post("/api/refresh_token", nil, nil, &http.Cookie{Name: refreshCookieName, Value: "garbage"}),
		http.StatusForbidden, msgBadRefresh)
}

func TestLogoutClearsCookie(t *testing.T) {
	api := newTestAPI(t)
	_, ck := api.signup("owner@example.com", "pw-123456")

	resp := api.post("/api/logout", nil, nil, ck)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cleared := refreshCookie(t, resp)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}
	body := decode[genericEnvelope](t, resp)
	var msg string
	if err := json.Unmarshal(body.Data, &msg); err != nil || msg != msgLogoutOK {
		t.Fatalf("unexpected logout data %s", body.Data)
	}

	// Logout without a cookie still succeeds.
	resp = api.post("/api/logout", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 without cookie, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	foreign, err := auth.NewService("some-other-access-secret", "some-other-refresh-secret")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	forged, err := foreign.IssueTokens(1)
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/dashboard"},
		{http.MethodPost, "/api/add_entity"},
		{http.MethodPost, "/api/update_entity"},
		{http.MethodGet, "/api/entities/1"},
		{http.MethodGet, "/api/entities/abc"},
		{http.MethodGet, "/api/forms/1"},
		{http.MethodGet, "/api/forms/abc"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			resp := api.do(rt.method, rt.path, nil, nil)
			if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
				t.Fatalf("expected WWW-Authenticate challenge, got %q", got)
			}
			expectError(t, resp, http.StatusUnauthorized, msgNoToken)

			expectError(t, api.do(rt.method, rt.path, nil, bearerHeader(forged.AccessToken)),
				http.StatusUnauthorized, msgInvalidToken)
			expectError(t, api.do(rt.method, rt.path, nil, bearerHeader("not-a-jwt")),
				http.StatusUnauthorized, msgInvalidToken)
			expectError(t, api.do(rt.method, rt.path, nil, map[string]string{"Authorization": "Basic dXNlcjpwdw=="}),
				http.StatusUnauthorized, msgInvalidToken)
		})
	}
}

func TestNonNumericEntityIDWithToken(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signup("owner@example.com", "pw-123456")

	expectError(t, api.get("/api/entities/abc", bearerHeader(token)), http.StatusNotFound, entity.MsgNotFound)

	resp := api.get("/api/forms/abc", bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[genericEnvelope](t, resp)
	if string(body.Data) != "[]" {
		t.Fatalf("expected empty forms list, got %s", body.Data)
	}
}

func TestSignupWithLongPassword(t *testing.T) {
	api := newTestAPI(t)
	long := strings.Repeat("x", 80)
	api.signup("long@example.com", long)

	resp := api.post("/api/login", map[string]string{"email": "long@example.com", "password": long}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login 200, got %d", resp.StatusCode)
	}
}

func TestRefreshCookieFollowsTokenClock(t *testing.T) {
	issuedAt := time.Now().Add(-72 * time.Hour)
	tokens, err := auth.NewService("access-secret-for-tests", "refresh-secret-for-tests",
		auth.WithRefreshTTL(7*24*time.Hour),
		auth.WithClock(func() time.Time { return issuedAt }))
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	store := memory.New()
	srv := httptest.NewServer(New(Deps{
		Tokens:   tokens,
		Accounts: account.NewService(store.Users(), tokens, auth.NewPasswordHasher(bcrypt.MinCost)),
		Entities: entity.NewService(store.Entities()),
	}).Handler())
	t.Cleanup(srv.Close)
	api := &apiClient{baseURL: srv.URL, client: srv.Client(), t: t, store: store, tokens: tokens}

	_, ck := api.signup("owner@example.com", "pw-123456")
	if want := int((7 * 24 * time.Hour).Seconds()); ck.MaxAge != want {
		t.Fatalf("expected Max-Age %d from the token lifetime, got %d", want, ck.MaxAge)
	}
}

func TestEntityLifecycle(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signup("owner@example.com", "pw-123456")
	hdr := bearerHeader(token)

	resp := api.post("/api/add_entity", validEntity(), hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d", resp.StatusCode)
	}
	added := decode[genericEnvelope](t, resp)
	var msg string
	if err := json.Unmarshal(added.Data, &msg); err != nil || msg != msgEntityAdded {
		t.Fatalf("unexpected add data %s", added.Data)
	}

	dash := decode[struct {
		Data []entity.Entity `json:"data"`
	}](t, api.get("/api/dashboard", hdr))
	if len(dash.Data) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(dash.Data))
	}
	got := dash.Data[0]
	if got.Name != "Acme Holdings" || got.TIN != "12-3456789" || got.State != "ID" {
		t.Fatalf("unexpected entity %+v", got)
	}

	update := validEntity()
	update["entity_id"] = got.ID
	update["city"] = "Meridian"
	update["zip"] = 83642
	resp = api.post("/api/update_entity", update, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("update: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	one := decode[struct {
		Data entity.Entity `json:"data"`
	}](t, api.get("/api/entities/"+itoa(got.ID), hdr))
	if one.Data.City != "Meridian" || one.Data.Zip != "83642" {
		t.Fatalf("update not applied: %+v", one.Data)
	}

	api.store.AddForm(entity.Form{Name: "1099-NEC", TIN: "123-45-6789", Type: "NEC", PayerID: got.ID, UserID: got.UserID})
	forms := decode[struct {
		Data []entity.Form `json:"data"`
	}](t, api.get("/api/forms/"+itoa(got.ID), hdr))
	if len(forms.Data) != 1 || forms.Data[0].PayerID != got.ID {
		t.Fatalf("unexpected forms %+v", forms.Data)
	}

	expectError(t, api.get("/api/entities/999", hdr), http.StatusNotFound, entity.MsgNotFound)
}

func TestEntityValidationMessages(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signup("owner@example.com", "pw-123456")
	hdr := bearerHeader(token)

	resp := api.post("/api/add_entity", validEntity(), hdr)
	resp.Body.Close()

	missing := validEntity()
	delete(missing, "city")
	expectError(t, api.post("/api/add_entity", missing, hdr), http.StatusBadRequest, entity.MsgAllFieldsRequired)

	expectError(t, api.post("/api/add_entity", validEntity(), hdr), http.StatusBadRequest, entity.MsgDuplicateTinAndName)

	badState := validEntity()
	badState["name"] = "Other"
	badState["entity_tin"] = "98-7654321"
	badState["state"] = "Idaho"
	expectError(t, api.post("/api/add_entity", badState, hdr), http.StatusBadRequest, entity.MsgInvalidState)

	badSSN := validEntity()
	badSSN["name"] = "Jane Doe"
	badSSN["entity_tin"] = "123456789"
	badSSN["is_individual"] = true
	expectError(t, api.post("/api/add_entity", badSSN, hdr), http.StatusBadRequest, entity.MsgInvalidSSN)

	sameTin := validEntity()
	sameTin["name"] = "Acme Two"
	expectError(t, api.post("/api/add_entity", sameTin, hdr), http.StatusBadRequest, entity.MsgDuplicateTin)
}

func TestEntitiesAreScopedToOwner(t *testing.T) {
	api := newTestAPI(t)
	ownerToken, _ := api.signup("owner@example.com", "pw-123456")
	otherToken, _ := api.signup("other@example.com", "pw-123456")

	resp := api.post("/api/add_entity", validEntity(), bearerHeader(ownerToken))
	resp.Body.Close()

	dash := decode[struct {
		Data []entity.Entity `json:"data"`
	}](t, api.get("/api/dashboard", bearerHeader(ownerToken)))
	id := dash.Data[0].ID

	expectError(t, api.get("/api/entities/"+itoa(id), bearerHeader(otherToken)), http.StatusNotFound, entity.MsgNotFound)

	other := decode[genericEnvelope](t, api.get("/api/dashboard", bearerHeader(otherToken)))
	if string(other.Data) != "[]" {
		t.Fatalf("expected empty list for other user, got %s", other.Data)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t)

	health := decode[map[string]any](t, api.get("/healthz", nil))
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", health)
	}

	resp := api.get("/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/metrics", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)

	expectError(t, api.get("/api/nope", nil), http.StatusNotFound, "Not found")
	expectError(t, api.get("/api/login", nil), http.StatusMethodNotAllowed, "Method not allowed")
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	api := newTestAPI(t, withLimiter(NewRateLimiter(1, 1, false)))

	first := api.post("/api/login", map[string]string{"email": "nobody@example.com", "password": "x"}, nil)
	first.Body.Close()
	if first.StatusCode == http.StatusTooManyRequests {
		t.Fatalf("first request should pass the limiter")
	}

	resp := api.post("/api/login", map[string]string{"email": "nobody@example.com", "password": "x"}, nil)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	expectError(t, resp, http.StatusTooManyRequests, "Too many requests")

	// Protected routes are not behind the auth limiter.
	resp = api.get("/api/dashboard", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 from dashboard, got %d", resp.StatusCode)
	}
}

func TestBodyTooLarge(t *testing.T) {
	api := newTestAPI(t, func(d *Deps) { d.MaxBodyBytes = 32 })

	big := `{"email":"` + strings.Repeat("a", 64) + `@example.com","password":"x"}`
	expectError(t, api.post("/api/login", big, nil), http.StatusRequestEntityTooLarge, msgBodyTooLarge)
}

func TestReadyProbeReportsFailingCheck(t *testing.T) {
	probe := ReadyProbe{Checks: []Check{
		{Name: "store", Fn: nil},
		{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
	}}
	err := probe.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected redis failure, got %v", err)
	}

	api := New(Deps{Ready: probe, Version: "x"})
	rr := httptest.NewRecorder()
	api.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
