package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hossamadel7/centrny-sub000/internal/access"
	"github.com/hossamadel7/centrny-sub000/internal/auth"
	"github.com/hossamadel7/centrny-sub000/internal/config"
	"github.com/hossamadel7/centrny-sub000/internal/content"
	"github.com/hossamadel7/centrny-sub000/internal/db/inmem"
	httpserver "github.com/hossamadel7/centrny-sub000/internal/http"
	"github.com/hossamadel7/centrny-sub000/internal/token"
)

type testEnv struct {
	t      *testing.T
	server *httptest.Server
	store  *inmem.Store
	tokens *token.MemoryStore
	cfg    config.Config
	client *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		JWTSecret:      "test-secret",
		JWTIssuer:      "centrny-auth",
		SessionSecret:  "test-session-secret",
		SessionTTL:     time.Hour,
		ContentBaseURL: "https://media.test",
		FileRoot:       "/srv/files",
	}
	store := inmem.New()
	tokens := token.NewMemoryStore(cfg.SessionTTL)
	resolver := access.NewResolver(store, store)
	redeemer := access.NewRedeemer(store, store.Lessons(), store, tokens)
	gateway := content.NewGateway(
		tokens,
		content.NewBaseURLResolver(cfg.ContentBaseURL),
		content.NewLocalFileStore(cfg.FileRoot),
		store,
		zerolog.Nop(),
	)
	server := httpserver.NewServer(cfg, resolver, redeemer, gateway, tokens, store, zerolog.Nop())

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &testEnv{
		t:      t,
		server: ts,
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		client: &http.Client{Jar: jar},
	}
}

func (e *testEnv) bearer(userType string, userID, rootID uuid.UUID) string {
	e.t.Helper()
	minted, err := auth.NewAccessToken(e.cfg.JWTSecret, e.cfg.JWTIssuer, time.Hour, auth.Claims{
		UserID:   userID.String(),
		UserType: userType,
		RootID:   rootID.String(),
	})
	if err != nil {
		e.t.Fatalf("mint jwt: %v", err)
	}
	return minted
}

func (e *testEnv) request(method, path, bearer string, body interface{}) (*http.Response, map[string]interface{}) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		e.t.Fatalf("build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (e *testEnv) seedLesson(rootID uuid.UUID) uuid.UUID {
	lessonID := uuid.New()
	e.store.AddLesson(access.Lesson{
		ID:       lessonID,
		RootID:   rootID,
		Title:    "lesson under test",
		IsActive: true,
	})
	return lessonID
}

func (e *testEnv) seedPin(rootID uuid.UUID, watermark string, uses int32) {
	e.store.AddPin(access.Pin{
		Code:          uuid.New(),
		Watermark:     watermark,
		Kind:          access.PinKindSession,
		RemainingUses: uses,
		Status:        access.PinStatusIssued,
		IsActive:      true,
		RootID:        rootID,
	})
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMetricsExposed(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.request(http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(http.MethodGet, "/access/check?lesson="+uuid.NewString(), "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["error"] != "missing_token" {
		t.Fatalf("unexpected error: %v", body)
	}

	resp, _ = env.request(http.MethodGet, "/access/check?lesson="+uuid.NewString(), "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestAccessCheckRequiresStudent(t *testing.T) {
	env := newTestEnv(t)
	bearer := env.bearer("admin", uuid.New(), uuid.New())

	resp, _ := env.request(http.MethodGet, "/access/check?lesson="+uuid.NewString(), bearer, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestAccessCheckColdStart(t *testing.T) {
	env := newTestEnv(t)
	studentID, rootID := uuid.New(), uuid.New()
	bearer := env.bearer("student", studentID, rootID)

	resp, body := env.request(http.MethodGet, "/access/check?lesson="+uuid.NewString(), bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["result"] != "require_pin" {
		t.Fatalf("expected require_pin, got %v", body["result"])
	}
	if body["message"] != "enter a PIN to access this lesson" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestRedeemThenViewFlow(t *testing.T) {
	env := newTestEnv(t)
	studentID, rootID := uuid.New(), uuid.New()
	bearer := env.bearer("student", studentID, rootID)
	lessonID := env.seedLesson(rootID)
	env.seedPin(rootID, "FLOW01", 2)

	resp, body := env.request(http.MethodPost, "/access/redeem", bearer, map[string]string{
		"pin":    "FLOW01",
		"lesson": lessonID.String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["result"] != "granted" {
		t.Fatalf("expected granted, got %v", body)
	}
	if _, ok := body["token"]; ok {
		t.Fatal("redeem response must not carry a credential; the capability is session-bound")
	}
	redirect, _ := body["redirectPath"].(string)
	if redirect == "" {
		t.Fatal("expected a redirect path")
	}

	// The redirect target serves with the capability bound to this session.
	resp, body = env.request(http.MethodGet, redirect, bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["lesson"] != lessonID.String() {
		t.Fatalf("unexpected view body: %v", body)
	}

	fileID := uuid.New()
	resp, body = env.request(http.MethodGet, "/content/video-url?file="+fileID.String()+"&lesson="+lessonID.String()+"&pin=FLOW01", bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("video-url: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if url, _ := body["url"].(string); url == "" {
		t.Fatalf("expected a video url, got %v", body)
	}

	resp, _ = env.request(http.MethodPost, "/access/track", bearer, map[string]string{
		"pin":    "FLOW01",
		"lesson": lessonID.String(),
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("track: expected 204, got %d", resp.StatusCode)
	}
	grant, ok := env.store.Grant(rootID, studentID, lessonID)
	if !ok {
		t.Fatal("expected a grant")
	}
	if grant.ViewCount != 2 {
		t.Fatalf("expected view count 2 after tracking, got %d", grant.ViewCount)
	}

	// Subsequent checks skip pin entry entirely.
	resp, body = env.request(http.MethodGet, "/access/check?lesson="+lessonID.String(), bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", resp.StatusCode)
	}
	if body["result"] != "direct_access" {
		t.Fatalf("expected direct_access, got %v", body)
	}
}

func TestRedeemRejectionStatuses(t *testing.T) {
	env := newTestEnv(t)
	studentID, rootID := uuid.New(), uuid.New()
	otherStudent := uuid.New()
	bearer := env.bearer("student", studentID, rootID)
	lessonID := env.seedLesson(rootID)

	env.seedPin(rootID, "EMPTY1", 0)
	env.store.AddPin(access.Pin{
		Code:          uuid.New(),
		Watermark:     "THEIRS",
		Kind:          access.PinKindSession,
		RemainingUses: 2,
		Status:        access.PinStatusConsumed,
		IsActive:      true,
		OwnerStudent:  &otherStudent,
		RootID:        rootID,
	})

	cases := []struct {
		name   string
		pin    string
		status int
		reason string
	}{
		{"unknown pin", "NOSUCH", http.StatusNotFound, "pin_not_found"},
		{"exhausted pin", "EMPTY1", http.StatusForbidden, "pin_exhausted"},
		{"foreign pin", "THEIRS", http.StatusConflict, "ownership_conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := env.request(http.MethodPost, "/access/redeem", bearer, map[string]string{
				"pin":    tc.pin,
				"lesson": lessonID.String(),
			})
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d (%v)", tc.status, resp.StatusCode, body)
			}
			if body["error"] != tc.reason {
				t.Fatalf("expected %q, got %v", tc.reason, body["error"])
			}
		})
	}
}

func TestRedeemValidation(t *testing.T) {
	env := newTestEnv(t)
	bearer := env.bearer("student", uuid.New(), uuid.New())

	resp, body := env.request(http.MethodPost, "/access/redeem", bearer, map[string]string{
		"lesson": uuid.NewString(),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["error"] != "invalid_input" {
		t.Fatalf("expected invalid_input, got %v", body)
	}

	resp, _ = env.request(http.MethodPost, "/access/redeem", bearer, map[string]string{
		"pin":    "SOMEPIN",
		"lesson": "not-a-uuid",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad lesson id, got %d", resp.StatusCode)
	}
}

func TestContentWithoutCapabilityRedirects(t *testing.T) {
	env := newTestEnv(t)
	rootID := uuid.New()
	bearer := env.bearer("student", uuid.New(), rootID)
	lessonID := env.seedLesson(rootID)

	resp, body := env.request(http.MethodGet, "/content/view?lesson="+lessonID.String()+"&pin=NEVER1", bearer, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if body["error"] != "session_invalid" {
		t.Fatalf("expected session_invalid, got %v", body)
	}
	if body["redirectPath"] != "/access/check?lesson="+lessonID.String() {
		t.Fatalf("unexpected redirect: %v", body["redirectPath"])
	}
}

func TestLogoutRevokesCapability(t *testing.T) {
	env := newTestEnv(t)
	studentID, rootID := uuid.New(), uuid.New()
	bearer := env.bearer("student", studentID, rootID)
	lessonID := env.seedLesson(rootID)
	env.seedPin(rootID, "BYE001", 2)

	resp, _ := env.request(http.MethodPost, "/access/redeem", bearer, map[string]string{
		"pin":    "BYE001",
		"lesson": lessonID.String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = env.request(http.MethodPost, "/access/logout", bearer, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}

	resp, _ = env.request(http.MethodGet, "/content/view?lesson="+lessonID.String()+"&pin=BYE001", bearer, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("view after logout: expected 403, got %d", resp.StatusCode)
	}
}

func TestAdminPinLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rootID := uuid.New()
	adminBearer := env.bearer("admin", uuid.New(), rootID)

	resp, body := env.request(http.MethodPost, "/admin/pins/generate", adminBearer, map[string]interface{}{
		"kind":     "session",
		"uses":     2,
		"quantity": 3,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["generated"] != float64(3) {
		t.Fatalf("expected 3 generated, got %v", body)
	}

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/admin/pins", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminBearer)
	listResp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", listResp.StatusCode)
	}
	var pins []map[string]interface{}
	if err := json.NewDecoder(listResp.Body).Decode(&pins); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(pins) != 3 {
		t.Fatalf("expected 3 pins, got %d", len(pins))
	}
	for _, pin := range pins {
		if pin["kind"] != "session" {
			t.Fatalf("unexpected pin kind: %v", pin["kind"])
		}
		if pin["remainingUses"] != float64(2) {
			t.Fatalf("unexpected uses: %v", pin["remainingUses"])
		}
	}
}

func TestAdminEndpointsRejectStudents(t *testing.T) {
	env := newTestEnv(t)
	bearer := env.bearer("student", uuid.New(), uuid.New())

	resp, _ := env.request(http.MethodPost, "/admin/pins/generate", bearer, map[string]interface{}{
		"kind":     "session",
		"uses":     1,
		"quantity": 1,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("generate: expected 403, got %d", resp.StatusCode)
	}

	resp, _ = env.request(http.MethodGet, "/admin/pins", bearer, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("list: expected 403, got %d", resp.StatusCode)
	}
}
