package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func respondWith(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	Respond(c, err)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestRespondStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{Validation("name is required"), http.StatusBadRequest, "name is required"},
		{Forbidden("not a member"), http.StatusForbidden, "not a member"},
		{NotFound("user not found"), http.StatusNotFound, "user not found"},
		{Conflict("already a member"), http.StatusConflict, "already a member"},
		{Internal("insert failed", errors.New("disk full")), http.StatusInternalServerError, "internal server error"},
		{errors.New("plain"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		rec, body := respondWith(t, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if body["error"] != tc.msg {
			t.Fatalf("%v: expected message %q, got %q", tc.err, tc.msg, body["error"])
		}
	}
}

func TestFromDB(t *testing.T) {
	if err := FromDB(nil, "x"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := FromDB(gorm.ErrRecordNotFound, "task not found"); !Is(err, KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := FromDB(fmt.Errorf("wrapped: %w", gorm.ErrRecordNotFound), "x"); !Is(err, KindNotFound) {
		t.Fatalf("expected wrapped not found to map, got %v", err)
	}
	if err := FromDB(Forbidden("nope"), "x"); !Is(err, KindForbidden) {
		t.Fatalf("expected app error passthrough, got %v", err)
	}
	if err := FromDB(errors.New("boom"), "x"); !Is(err, KindInternal) {
		t.Fatalf("expected internal, got %v", err)
	}
}
