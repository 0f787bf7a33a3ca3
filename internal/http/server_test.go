package http

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"Bearer  abc ", "abc"},
	}
	for _, tc := range cases {
		if got := bearerToken(tc.header); got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestPageParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/access/logs?page=3&limit=50", nil)
	page, limit := pageParams(r)
	if page != 3 || limit != 50 {
		t.Fatalf("pageParams = %d, %d", page, limit)
	}

	r = httptest.NewRequest("GET", "/access/logs?page=0&limit=1000", nil)
	page, limit = pageParams(r)
	if page != 1 || limit != 20 {
		t.Fatalf("out-of-range params not defaulted: %d, %d", page, limit)
	}
}

func TestRangeParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/access/logs?from=2025-03-01&to="+url.QueryEscape("2025-03-10T17:00:00Z"), nil)
	from, to, err := rangeParams(r)
	if err != nil {
		t.Fatalf("rangeParams: %v", err)
	}
	if from == nil || from.Format("2006-01-02") != "2025-03-01" {
		t.Fatalf("from = %v", from)
	}
	if to == nil || to.Hour() != 17 {
		t.Fatalf("to = %v", to)
	}

	r = httptest.NewRequest("GET", "/access/logs?from=yesterday", nil)
	if _, _, err := rangeParams(r); err == nil {
		t.Fatalf("expected error for malformed from")
	}
}

func TestNewPagination(t *testing.T) {
	p := newPagination(2, 20, 41)
	if p.TotalPages != 3 {
		t.Fatalf("totalPages = %d, want 3", p.TotalPages)
	}
	p = newPagination(1, 20, 0)
	if p.TotalPages != 0 {
		t.Fatalf("totalPages = %d, want 0", p.TotalPages)
	}
}

func TestEnvelopeShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSuccess(rec, 200, "ok", map[string]bool{"authorized": false})

	var body struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    map[string]bool `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.Success || body.Message != "ok" {
		t.Fatalf("envelope = %+v", body)
	}
	if authorized, ok := body.Data["authorized"]; !ok || authorized {
		t.Fatalf("data = %v", body.Data)
	}

	rec = httptest.NewRecorder()
	writeError(rec, 404, "user_not_found")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Success || body.Message != "user_not_found" {
		t.Fatalf("error envelope = %+v", body)
	}
}

func TestValidators(t *testing.T) {
	if !validRole("admin") || validRole("root") {
		t.Fatalf("validRole misbehaves")
	}
	if !validStatus("suspended") || validStatus("deleted") {
		t.Fatalf("validStatus misbehaves")
	}
	if !validMethod("keypad") || validMethod("voice") {
		t.Fatalf("validMethod misbehaves")
	}
	if !validDeviceStatus("maintenance") || validDeviceStatus("broken") {
		t.Fatalf("validDeviceStatus misbehaves")
	}
}

func TestAccessLogMessageRedactsCredentials(t *testing.T) {
	uid := "04A1B2C3"
	msg := accessLogMessage(createAccessLogRequest{Method: "rfid", Status: "success", RfidUID: &uid})
	if msg != "Access granted via rfid" {
		t.Fatalf("message = %q", msg)
	}
	msg = accessLogMessage(createAccessLogRequest{Method: "fingerprint", Status: "failed"})
	if msg != "Access denied via fingerprint" {
		t.Fatalf("message = %q", msg)
	}
}
