package redirect

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseFragment(t *testing.T) {
	tests := []struct {
		name string
		frag string
		want Params
		ok   bool
	}{
		{"empty", "", Params{}, false},
		{"no error params", "access_token=abc&type=recovery", Params{}, false},
		{
			"full error",
			"error=access_denied&error_code=otp_expired&error_description=Email+link+is+invalid+or+has+expired",
			Params{Error: "access_denied", Code: "otp_expired", Description: "Email link is invalid or has expired"},
			true,
		},
		{
			"leading hash stripped",
			"#error=access_denied",
			Params{Error: "access_denied"},
			true,
		},
		{
			"code without error fills unknown_error",
			"error_code=otp_expired",
			Params{Error: "unknown_error", Code: "otp_expired"},
			true,
		},
		{
			"description only",
			"error_description=something+failed",
			Params{Error: "unknown_error", Description: "something failed"},
			true,
		},
		{
			"unparsable fragment mentioning an error degrades",
			"error=%zz;;%",
			Params{Error: "invalid_request"},
			true,
		},
		{
			"unparsable fragment without error is ignored",
			"token=%zz;;%",
			Params{},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFragment(tt.frag)
			if ok != tt.ok {
				t.Fatalf("ParseFragment(%q) ok = %v, want %v", tt.frag, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ParseFragment(%q) = %+v, want %+v", tt.frag, got, tt.want)
			}
		})
	}
}

func TestParams_RedirectTarget(t *testing.T) {
	p := Params{Error: "access_denied", Code: "otp_expired", Description: "expired"}
	target := p.RedirectTarget()
	if !strings.HasPrefix(target, ErrorRoute+"?") {
		t.Fatalf("unexpected target %q", target)
	}

	u, err := url.Parse(target)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("error") != "access_denied" || q.Get("error_code") != "otp_expired" || q.Get("error_description") != "expired" {
		t.Errorf("params lost in round-trip: %v", q)
	}
}

func TestParams_QueryOmitsEmptyFields(t *testing.T) {
	p := Params{Error: "access_denied"}
	q := p.Query()
	if strings.Contains(q, "error_code") || strings.Contains(q, "error_description") {
		t.Errorf("empty fields must be omitted: %q", q)
	}
}

func TestInspect(t *testing.T) {
	mustURL := func(s string) *url.URL {
		u, err := url.Parse(s)
		if err != nil {
			t.Fatal(err)
		}
		return u
	}

	if _, ok := Inspect(nil); ok {
		t.Error("nil URL must not trigger")
	}
	if _, ok := Inspect(mustURL("/login#access_token=abc")); ok {
		t.Error("non-error fragment must not trigger")
	}

	target, ok := Inspect(mustURL("/auth/callback#error=access_denied&error_code=otp_expired"))
	if !ok {
		t.Fatal("error fragment must trigger")
	}
	if !strings.HasPrefix(target, ErrorRoute+"?") {
		t.Errorf("unexpected target %q", target)
	}

	// Landing on the error route again finds no fragment to act on, so
	// the redirect fires exactly once
	if _, ok := Inspect(mustURL(target)); ok {
		t.Error("the error route itself must never trigger")
	}
}

func newRedirectEcho() *echo.Echo {
	e := echo.New()
	NewHandler().RegisterRoutes(e)
	return e
}

func TestCallback_ErrorFragment(t *testing.T) {
	e := newRedirectEcho()
	req := httptest.NewRequest(http.MethodGet,
		"/auth/callback?fragment="+url.QueryEscape("error=access_denied&error_code=otp_expired"), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, ErrorRoute+"?") || !strings.Contains(loc, "otp_expired") {
		t.Errorf("unexpected redirect %q", loc)
	}
}

func TestCallback_CleanFragment(t *testing.T) {
	e := newRedirectEcho()
	req := httptest.NewRequest(http.MethodGet,
		"/auth/callback?fragment="+url.QueryEscape("access_token=abc&type=recovery"), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Errorf("clean callback must land on /, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestErrorPage(t *testing.T) {
	e := newRedirectEcho()
	req := httptest.NewRequest(http.MethodGet,
		ErrorRoute+"?error=access_denied&error_code=otp_expired", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "access_denied") {
		t.Errorf("expected normalized error payload, got %s", rec.Body)
	}
}

func TestErrorPage_NoParams(t *testing.T) {
	e := newRedirectEcho()
	req := httptest.NewRequest(http.MethodGet, ErrorRoute, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unknown_error") {
		t.Errorf("expected unknown_error fallback, got %s", rec.Body)
	}
}
