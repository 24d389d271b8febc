package model

import "testing"

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %v to be terminal", s)
		}
	}

	nonTerminal := []JobStatus{JobStatusQueued, JobStatusRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Fatalf("expected %v to not be terminal", s)
		}
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrUnauthorized:      401,
		ErrForbidden:         403,
		ErrSSRFBlocked:       403,
		ErrRobotsBlocked:     403,
		ErrRateLimited:       429,
		ErrValidation:        422,
		ErrInvalidURL:        422,
		ErrUnsupportedScheme: 422,
		ErrFetchTimeout:      504,
		ErrLLMTimeout:        504,
		ErrFetchError:        502,
		ErrUpstreamHTTP:      502,
		ErrQueueFull:         503,
		ErrJobNotTerminal:    409,
		ErrWorkerStalled:     500,
		ErrInternal:          500,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", code, got, want)
		}
	}
}

func TestAPIKeyHasScope(t *testing.T) {
	k := ApiKey{Scopes: []Scope{ScopeScrape, ScopeMap}}
	if !k.HasScope(ScopeScrape) {
		t.Fatalf("expected key to carry scrape scope")
	}
	if k.HasScope(ScopeAgent) {
		t.Fatalf("did not expect key to carry agent scope")
	}

	admin := ApiKey{Scopes: []Scope{ScopeAdmin}}
	if !admin.HasScope(ScopeSearch) {
		t.Fatalf("expected admin scope to imply every other scope")
	}
}
