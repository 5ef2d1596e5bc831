package sessionclient

import (
	"fmt"
	"net/http"
)

// Do issues the request with the current access token attached. On a 401 with
// a token present it performs exactly one silent refresh and one retry; if
// the refresh fails it forces sign-out and returns the original failing
// response, so the caller sees exactly what it would have seen without this
// wrapper.
func (controller *Controller) Do(request *http.Request) (*http.Response, error) {
	token := controller.currentToken()
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, sendErr := controller.httpClient.Do(request)
	if sendErr != nil {
		return nil, fmt.Errorf("sessionclient.do: %w", sendErr)
	}
	if response.StatusCode != http.StatusUnauthorized || token == "" {
		return response, nil
	}

	retry, retryErr := cloneForRetry(request)
	if retryErr != nil {
		return response, nil
	}

	controller.setState(StateRefreshing)
	if refreshErr := controller.refresh(request.Context()); refreshErr != nil {
		controller.SignOut(request.Context())
		return response, nil
	}
	controller.setState(StateAuthenticated)

	retry.Header.Set("Authorization", "Bearer "+controller.currentToken())
	retryResponse, retrySendErr := controller.httpClient.Do(retry)
	if retrySendErr != nil {
		return response, nil
	}
	drainAndClose(response.Body)
	return retryResponse, nil
}

// cloneForRetry re-creates the request with a fresh body. Requests whose body
// cannot be replayed (no GetBody) are not retried.
func cloneForRetry(request *http.Request) (*http.Request, error) {
	clone := request.Clone(request.Context())
	if request.Body == nil {
		return clone, nil
	}
	if request.GetBody == nil {
		return nil, fmt.Errorf("sessionclient.retry: body not replayable")
	}
	body, bodyErr := request.GetBody()
	if bodyErr != nil {
		return nil, fmt.Errorf("sessionclient.retry.body: %w", bodyErr)
	}
	clone.Body = body
	return clone, nil
}
