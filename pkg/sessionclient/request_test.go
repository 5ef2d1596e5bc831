package sessionclient

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestDoRetriesOnceAfterSilentRefresh(t *testing.T) {
	t.Parallel()
	fixture := newServerFixture("current-token")
	defer fixture.server.Close()
	controller, _ := newTestController(t, fixture)
	controller.setToken("stale-token")
	controller.setState(StateAuthenticated)

	request, requestErr := http.NewRequestWithContext(context.Background(), http.MethodGet, fixture.server.URL+"/api/data", nil)
	if requestErr != nil {
		t.Fatalf("unexpected request error: %v", requestErr)
	}

	response, doErr := controller.Do(request)
	if doErr != nil {
		t.Fatalf("unexpected error: %v", doErr)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected retried request to succeed, got %d", response.StatusCode)
	}
	if fixture.count("refresh") != 1 {
		t.Fatalf("expected exactly one refresh, got %d", fixture.count("refresh"))
	}
	if fixture.count("data") != 2 {
		t.Fatalf("expected original plus one retry, got %d", fixture.count("data"))
	}
	if controller.currentToken() != "refreshed-token" {
		t.Fatalf("expected the refreshed token installed")
	}
	if controller.State() != StateAuthenticated {
		t.Fatalf("expected StateAuthenticated after recovery, got %v", controller.State())
	}
}

func TestDoPassesThroughNonUnauthorizedResponses(t *testing.T) {
	t.Parallel()
	fixture := newServerFixture("live-token")
	defer fixture.server.Close()
	controller, _ := newTestController(t, fixture)
	controller.setToken("live-token")

	request, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, fixture.server.URL+"/api/data", nil)
	response, doErr := controller.Do(request)
	if doErr != nil {
		t.Fatalf("unexpected error: %v", doErr)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	if fixture.count("refresh") != 0 || fixture.count("data") != 1 {
		t.Fatalf("expected no refresh and no retry, got refresh=%d data=%d",
			fixture.count("refresh"), fixture.count("data"))
	}
}

func TestDoWithoutTokenNeverRefreshes(t *testing.T) {
	t.Parallel()
	fixture := newServerFixture("live-token")
	defer fixture.server.Close()
	controller, _ := newTestController(t, fixture)

	request, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, fixture.server.URL+"/api/data", nil)
	response, doErr := controller.Do(request)
	if doErr != nil {
		t.Fatalf("unexpected error: %v", doErr)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected passthrough 401, got %d", response.StatusCode)
	}
	if fixture.count("refresh") != 0 {
		t.Fatalf("anonymous requests must not trigger refresh, got %d", fixture.count("refresh"))
	}
}

func TestDoFailedRefreshForcesSignOutAndReturnsOriginal(t *testing.T) {
	t.Parallel()
	fixture := newServerFixture("current-token")
	fixture.refreshFails = true
	defer fixture.server.Close()
	controller, _ := newTestController(t, fixture)
	controller.setToken("stale-token")

	var broadcast []*Identity
	controller.OnAuthStateChange(func(identity *Identity) {
		broadcast = append(broadcast, identity)
	})

	request, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, fixture.server.URL+"/api/data", nil)
	response, doErr := controller.Do(request)
	if doErr != nil {
		t.Fatalf("the caller must see the original response, not an error: %v", doErr)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the original 401 back, got %d", response.StatusCode)
	}
	if controller.State() != StateAnonymous || controller.currentToken() != "" {
		t.Fatalf("expected forced sign-out after failed refresh")
	}
	if len(broadcast) != 1 || broadcast[0] != nil {
		t.Fatalf("expected one signed-out broadcast, got %v", broadcast)
	}
	if fixture.count("data") != 1 {
		t.Fatalf("expected no retry after failed refresh, got %d", fixture.count("data"))
	}
}

func TestDoReplaysBodyOnRetry(t *testing.T) {
	t.Parallel()
	fixture := newServerFixture("current-token")
	defer fixture.server.Close()
	controller, _ := newTestController(t, fixture)
	controller.setToken("stale-token")

	// NewRequest over a *strings.Reader populates GetBody, so the retry can
	// replay the payload.
	request, requestErr := http.NewRequestWithContext(context.Background(), http.MethodGet, fixture.server.URL+"/api/data", strings.NewReader(`{"q":"all"}`))
	if requestErr != nil {
		t.Fatalf("unexpected request error: %v", requestErr)
	}

	response, doErr := controller.Do(request)
	if doErr != nil {
		t.Fatalf("unexpected error: %v", doErr)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected retried request to succeed, got %d", response.StatusCode)
	}
	if fixture.count("data") != 2 {
		t.Fatalf("expected original plus one retry, got %d", fixture.count("data"))
	}
}
