package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"teamspace/auth"
	"teamspace/calendar"
	"teamspace/channels"
	"teamspace/config"
	"teamspace/connections"
	"teamspace/conversation"
	"teamspace/groups"
	"teamspace/mailer"
	"teamspace/messages"
	"teamspace/notifications"
	"teamspace/orgs"
	"teamspace/projects"
	"teamspace/realtime"
	"teamspace/tasks"
	"teamspace/testutil"
	"teamspace/types"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Env: "test", PublicBaseURL: "http://localhost:8000"},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}},
		RateLimit: config.RateLimitConfig{PerSecond: 1000},
		OTP:       config.OTPConfig{TTL: time.Minute, SendPerMinute: 5, ChangePerMinute: 3, VerifyPerMinute: 3},
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *auth.Sessions) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := testutil.NewDB(t)
	log := zap.NewNop()
	sessions := auth.NewSessions("test-secret", time.Hour)

	hub := realtime.NewHub(realtime.NewMemoryPresence(), nil, realtime.Options{}, log)
	notifier := notifications.NewNotifier(gdb, hub, log)
	connStore := connections.NewStore(gdb, notifier)
	resolver := conversation.NewResolver(gdb, connStore)
	hub.SetAuthorizer(resolver)
	msgHandler := messages.NewHandler(messages.NewStore(gdb), resolver, hub, connStore)
	projectSvc := projects.NewService(gdb, notifier)

	h := Handlers{
		DB:            gdb,
		Sessions:      sessions,
		Auth:          auth.NewHandler(auth.NewService(gdb, sessions, &mailer.Recorder{}, nil, time.Minute, log)),
		Orgs:          orgs.NewHandler(orgs.NewService(gdb, log), hub),
		Connections:   connStore,
		Messages:      msgHandler,
		Groups:        groups.NewHandler(groups.NewService(gdb), resolver, msgHandler),
		Channels:      channels.NewHandler(channels.NewStore(gdb), resolver, msgHandler),
		Notifications: notifier,
		Projects:      projectSvc,
		Tasks:         tasks.NewService(gdb, projectSvc, notifier),
		Calendar:      calendar.NewService(gdb, notifier, calendar.NewICE(config.TurnConfig{}), "http://localhost:8000"),
		Hub:           hub,
	}
	return NewRouter(testConfig(), log, h), gdb, sessions
}

func do(r http.Handler, method, path, token, orgID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if orgID != "" {
		req.Header.Set(orgs.OrgHeader, orgID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/healthz", "", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected healthz response %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestTenancyGuardOnRoutes(t *testing.T) {
	r, gdb, sessions := newTestRouter(t)
	alice := testutil.CreateUser(t, gdb, "alice")
	outsider := testutil.CreateUser(t, gdb, "outsider")
	org := testutil.CreateOrg(t, gdb, alice, "Acme")

	aliceToken, _ := sessions.Issue(alice)
	outsiderToken, _ := sessions.Issue(outsider)

	cases := []struct {
		name   string
		token  string
		orgID  string
		status int
	}{
		{"no token", "", org.ID, http.StatusUnauthorized},
		{"no org", aliceToken, "", http.StatusBadRequest},
		{"not a member", outsiderToken, org.ID, http.StatusForbidden},
		{"member", aliceToken, org.ID, http.StatusOK},
	}
	for _, tc := range cases {
		if w := do(r, http.MethodGet, "/messages/contacts", tc.token, tc.orgID, ""); w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.status, w.Code, w.Body.String())
		}
	}

	// Calendar takes the org from the path instead of the header.
	if w := do(r, http.MethodGet, "/calendar/"+org.ID+"/events", aliceToken, "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected calendar list 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/calendar/"+org.ID+"/events", outsiderToken, "", ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected calendar list 403, got %d", w.Code)
	}
}

func TestDirectMessageFlow(t *testing.T) {
	r, gdb, sessions := newTestRouter(t)
	alice := testutil.CreateUser(t, gdb, "alice")
	bob := testutil.CreateUser(t, gdb, "bob")
	org := testutil.CreateOrg(t, gdb, alice, "Acme")
	testutil.AddMember(t, gdb, org.ID, bob.ID, types.RoleMember)
	aliceToken, _ := sessions.Issue(alice)
	bobToken, _ := sessions.Issue(bob)

	if w := do(r, http.MethodPost, "/messages/send/"+bob.ID, aliceToken, org.ID, `{"text":"hi"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected unconnected send 403, got %d", w.Code)
	}

	if w := do(r, http.MethodPost, "/connections/request", aliceToken, "", `{"friendId":"`+bob.ID+`"}`); w.Code != http.StatusCreated {
		t.Fatalf("request: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/connections/accept", bobToken, "", `{"friendId":"`+alice.ID+`"}`); w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}

	if w := do(r, http.MethodPost, "/messages/send/"+bob.ID, aliceToken, org.ID, `{"text":"hi"}`); w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	w := do(r, http.MethodGet, "/messages/"+alice.ID, bobToken, org.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
	var history struct {
		Messages []struct {
			Text string `json:"text"`
			Read bool   `json:"read"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history.Messages) != 1 || history.Messages[0].Text != "hi" || history.Messages[0].Read {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(time.Minute, 1))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if w := do(r, http.MethodGet, "/x", "", "", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/x", "", "", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestVerifyOTPIsRateLimitedPerIP(t *testing.T) {
	r, gdb, sessions := newTestRouter(t)
	alice := testutil.CreateUser(t, gdb, "alice")
	token, _ := sessions.Issue(alice)

	for i := 0; i < 3; i++ {
		w := do(r, http.MethodPost, "/auth/verify-otp", "", "", `{"email":"alice@example.com","otp":"000000"}`)
		if w.Code == http.StatusTooManyRequests {
			t.Fatalf("attempt %d limited too early", i+1)
		}
	}
	if w := do(r, http.MethodPost, "/auth/verify-otp", "", "", `{"email":"alice@example.com","otp":"000000"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the verify budget, got %d", w.Code)
	}
	// The email change confirmation shares the same budget.
	if w := do(r, http.MethodPost, "/auth/email-change/verify", token, "", `{"otp":"000000"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected email change verify to be limited, got %d", w.Code)
	}
}

func TestRemovedGroupMemberStopsReceivingRoomEvents(t *testing.T) {
	r, gdb, sessions := newTestRouter(t)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	admin := testutil.CreateUser(t, gdb, "admin")
	bob := testutil.CreateUser(t, gdb, "bob")
	org := testutil.CreateOrg(t, gdb, admin, "Acme")
	testutil.AddMember(t, gdb, org.ID, bob.ID, types.RoleMember)
	adminRC := orgs.RequestContext{UserID: admin.ID, OrgID: org.ID, Role: types.RoleOwner}
	group, err := groups.NewService(gdb).Create(context.Background(), adminRC, groups.CreateRequest{Name: "ops", Members: []string{bob.ID}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	adminToken, _ := sessions.Issue(admin)
	bobToken, _ := sessions.Issue(bob)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+bobToken, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	next := func(eventType string) realtime.WSMessage {
		t.Helper()
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var msg realtime.WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("waiting for %s: %v", eventType, err)
			}
			if msg.Type == realtime.EventNewRoomMessage && eventType != realtime.EventNewRoomMessage {
				t.Fatalf("unexpected room event while waiting for %s", eventType)
			}
			if msg.Type == eventType {
				return msg
			}
		}
	}

	if err := conn.WriteJSON(realtime.WSMessage{Type: "join_room", Data: realtime.RoomRef{RoomID: group.ID}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	next(realtime.EventRoomJoined)

	if w := do(r, http.MethodPost, "/groups/send/"+group.ID, adminToken, org.ID, `{"text":"before"}`); w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	next(realtime.EventNewRoomMessage)

	if w := do(r, http.MethodDelete, "/groups/"+group.ID+"/members/"+bob.ID, adminToken, org.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("remove member: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/groups/send/"+group.ID, adminToken, org.ID, `{"text":"after"}`); w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	// The pong arrives after anything already queued for bob.
	if err := conn.WriteJSON(realtime.WSMessage{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	next(realtime.EventPong)
}
