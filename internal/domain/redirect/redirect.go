// Package redirect funnels provider-emitted redirect errors (carried in
// the URL fragment after OAuth, recovery, or magic-link flows) to the
// portal's single error-display route, exactly once per error.
package redirect

import (
	"net/url"
	"strings"
)

// ErrorRoute is the dedicated error-display route. It receives the
// normalized parameters as a query string — not a fragment — which is
// what makes the handler idempotent: re-inspecting the error route
// finds no fragment to act on.
const ErrorRoute = "/auth/error"

// Params are the provider error parameters recognized in a fragment.
type Params struct {
	Error       string `json:"error"`
	Code        string `json:"error_code,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// ParseFragment extracts provider error parameters from a raw URL
// fragment. The second return is false when the fragment carries no
// error at all. A fragment that mentions an error but cannot be parsed
// degrades to a generic error rather than blocking navigation.
func ParseFragment(fragment string) (Params, bool) {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" {
		return Params{}, false
	}

	values, err := url.ParseQuery(fragment)
	if err != nil {
		if strings.Contains(fragment, "error") {
			return Params{Error: "invalid_request"}, true
		}
		return Params{}, false
	}

	p := Params{
		Error:       values.Get("error"),
		Code:        values.Get("error_code"),
		Description: values.Get("error_description"),
	}
	if p.Error == "" && p.Code == "" && p.Description == "" {
		return Params{}, false
	}
	if p.Error == "" {
		p.Error = "unknown_error"
	}
	return p, true
}

// Query renders the params as a normalized query string, stable field
// order, empty fields omitted.
func (p Params) Query() string {
	values := url.Values{}
	values.Set("error", p.Error)
	if p.Code != "" {
		values.Set("error_code", p.Code)
	}
	if p.Description != "" {
		values.Set("error_description", p.Description)
	}
	return values.Encode()
}

// RedirectTarget is the error-route URL carrying the normalized params.
func (p Params) RedirectTarget() string {
	return ErrorRoute + "?" + p.Query()
}

// Inspect examines a navigation URL and returns the one-time redirect
// target when the fragment carries a provider error. The error route
// itself never triggers: its parameters live in the query, and the
// fragment — already cleared by the redirect — is the only thing that
// triggers detection.
func Inspect(u *url.URL) (string, bool) {
	if u == nil || u.Path == ErrorRoute {
		return "", false
	}
	p, ok := ParseFragment(u.Fragment)
	if !ok {
		return "", false
	}
	return p.RedirectTarget(), true
}
