package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/studyhub/internal/model"
)

func csrfRequest(method, cookieToken, headerToken string) *http.Request {
	req := httptest.NewRequest(method, "/api/auth/login", nil)
	if cookieToken != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: cookieToken})
	}
	if headerToken != "" {
		req.Header.Set(csrfHeaderName, headerToken)
	}
	return req
}

func TestCSRFMiddleware_SafeMethodsPassAndIssueCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, csrfRequest(method, "", ""))

		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", method, w.Code)
		}
		var found *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == csrfCookieName {
				found = c
			}
		}
		if found == nil || len(found.Value) != 64 || found.HttpOnly {
			t.Errorf("%s: csrf cookie = %+v", method, found)
		}
	}
}

func TestCSRFMiddleware_ExistingCookieIsNotReplaced(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, csrfRequest(http.MethodGet, "existing", ""))

	if len(w.Result().Cookies()) != 0 {
		t.Error("既存のCSRF Cookieが再発行された")
	}
}

func TestCSRFMiddleware_MutatingMethodsRequireMatchingToken(t *testing.T) {
	tests := []struct {
		name   string
		method string
		cookie string
		header string
		want   int
	}{
		{"no cookie", http.MethodPost, "", "tok", http.StatusForbidden},
		{"no header", http.MethodPost, "tok", "", http.StatusForbidden},
		{"mismatch", http.MethodPatch, "tok", "other", http.StatusForbidden},
		{"valid post", http.MethodPost, "tok", "tok", http.StatusOK},
		{"valid patch", http.MethodPatch, "tok", "tok", http.StatusOK},
		{"delete without token", http.MethodDelete, "", "", http.StatusForbidden},
		{"put without token", http.MethodPut, "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, csrfRequest(tt.method, tt.cookie, tt.header))

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusForbidden {
				var body ErrorResponseBody
				json.NewDecoder(w.Body).Decode(&body)
				if body.Code != model.ErrCodeCSRFTokenInvalid {
					t.Errorf("code = %q", body.Code)
				}
			}
		})
	}
}

func TestCSRFTokenHandler_IssuesTokenAndReturnsJSON(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true, CookieDomain: "example.com"})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	if cookies[0].Value != body["token"] {
		t.Errorf("cookie %q と JSON %q のトークンが一致しない", cookies[0].Value, body["token"])
	}
	if !cookies[0].Secure || cookies[0].Domain != "example.com" {
		t.Errorf("cookie = %+v", cookies[0])
	}
}

func TestCSRFTokenHandler_ExistingCookieReturnsSameToken(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, csrfRequest(http.MethodGet, "existing-token", ""))

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["token"] != "existing-token" {
		t.Errorf("token = %q, want existing-token", body["token"])
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("Cookieが再発行された")
	}
}
