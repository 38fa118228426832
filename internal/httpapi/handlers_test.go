package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"interview-platform/internal/apps"
	"interview-platform/internal/auth"
	"interview-platform/internal/calls"
	"interview-platform/internal/chat"
	"interview-platform/internal/config"
)

var (
	recruiter = auth.Principal{UserID: "rec-1", Role: "provider"}
	candidate = auth.Principal{UserID: "cand-1", Role: "seeker"}
	stranger  = auth.Principal{UserID: "other-1", Role: "seeker"}
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := apps.NewMemoryDirectory()
	dir.Put("app-1", apps.Participants{RecruiterRef: "rec-1", CandidateRef: "cand-1"})

	h := Handlers{
		Calls: calls.NewService(calls.NewMemoryRepo(), dir, nil, nil),
		Chat:  chat.NewService(chat.NewMemoryRepo(), dir, nil, nil, 500),
		ICE: config.ICEConfig{
			STUNURLs:     []string{"stun:stun.example.org:3478"},
			TURNURL:      "turn:turn.example.org:3478",
			TURNUsername: "interview",
			TURNPassword: "secret",
		},
	}

	r := gin.New()
	v1 := r.Group("/v1")
	{
		v1.POST("/applications/:id/call/start", h.StartCall)
		v1.POST("/applications/:id/call/accept", h.AcceptCall)
		v1.POST("/applications/:id/call/reject", h.RejectCall)
		v1.POST("/applications/:id/call/end", h.EndCall)
		v1.GET("/applications/:id/call", h.GetCall)
		v1.POST("/applications/:id/chat/messages", h.SendChatMessage)
		v1.GET("/applications/:id/chat/messages", h.FetchChatMessages)
		v1.GET("/rtc/ice-servers", h.ICEServers)
	}
	r.GET("/healthz", h.Healthz)
	return r
}

func do(t *testing.T, r *gin.Engine, p *auth.Principal, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartCall_Created(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"video"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}

	var sess calls.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Status != calls.StatusRinging || sess.CallType != calls.CallTypeVideo {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestStartCall_DoubleStartConflicts(t *testing.T) {
	r := newTestRouter(t)

	_ = do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"video"}`)
	w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"video"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body)
	}
}

func TestStartCall_BadCallType(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"hologram"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body)
	}
}

func TestAcceptCall_WithoutSessionIsNotFound(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, &candidate, http.MethodPost, "/v1/applications/app-1/call/accept", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body)
	}
}

func TestCallLifecycle_OverHTTP(t *testing.T) {
	r := newTestRouter(t)

	if w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"audio"}`); w.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	if w := do(t, r, &candidate, http.MethodPost, "/v1/applications/app-1/call/accept", ""); w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body)
	}
	if w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/call/end", ""); w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body)
	}

	w := do(t, r, &recruiter, http.MethodGet, "/v1/applications/app-1/call", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body)
	}
	var sess calls.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Status != calls.StatusEnded || len(sess.Events) != 3 {
		t.Fatalf("expected ended session with 3 events, got %+v", sess)
	}
}

func TestRejectCall_WithReason(t *testing.T) {
	r := newTestRouter(t)

	_ = do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"video"}`)
	w := do(t, r, &candidate, http.MethodPost, "/v1/applications/app-1/call/reject", `{"reason":"in a meeting"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var sess calls.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Status != calls.StatusEnded {
		t.Fatalf("expected ended after reject, got %s", sess.Status)
	}
}

func TestCall_StrangerForbidden(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, &stranger, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"video"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body)
	}
}

func TestCall_NoPrincipalUnauthorized(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, nil, http.MethodPost, "/v1/applications/app-1/call/start", `{"call_type":"video"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body)
	}
}

func TestChat_SendAndFetch(t *testing.T) {
	r := newTestRouter(t)

	if w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/chat/messages", `{"text":"hello"}`); w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body)
	}
	if w := do(t, r, &candidate, http.MethodPost, "/v1/applications/app-1/chat/messages", `{"text":"hi there"}`); w.Code != http.StatusCreated {
		t.Fatalf("reply: %d %s", w.Code, w.Body)
	}

	w := do(t, r, &recruiter, http.MethodGet, "/v1/applications/app-1/chat/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("fetch: %d %s", w.Code, w.Body)
	}
	var resp struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Text != "hello" || resp.Messages[1].Text != "hi there" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/app-1/chat/messages", `{"text":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body)
	}
}

func TestChat_UnknownApplicationNotFound(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, &recruiter, http.MethodPost, "/v1/applications/nope/chat/messages", `{"text":"hello"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body)
	}
}

func TestICEServers_IncludesTURNWhenConfigured(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, &recruiter, http.MethodGet, "/v1/rtc/ice-servers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode ice servers: %v", err)
	}
	if len(resp.ICEServers) != 2 {
		t.Fatalf("expected stun + turn entries, got %+v", resp.ICEServers)
	}
	if resp.ICEServers[1].Username != "interview" || resp.ICEServers[1].Credential != "secret" {
		t.Fatalf("turn credentials missing: %+v", resp.ICEServers[1])
	}
}

func TestHealthz_NoBackendsConfigured(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, nil, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
}
