// Package sessionclient drives the client side of a federated sign-in
// session: restoring a session at startup, refreshing on expiry, caching the
// identity across storage tiers, and broadcasting state changes to
// subscribers. The access token lives only in this process's memory; the
// refresh credential is an HttpOnly cookie handled entirely by the transport.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mprlab/gsession/pkg/sessionstore"
)

// State is the session controller's lifecycle state.
type State int

const (
	// StateUnconfigured means Initialize has not yet run for this instance.
	StateUnconfigured State = iota
	// StateInitializing means session restoration is in progress.
	StateInitializing
	// StateAuthenticated means a live identity is held.
	StateAuthenticated
	// StateAnonymous means no session exists.
	StateAnonymous
	// StateRefreshing means a silent token refresh is in flight.
	StateRefreshing
)

var (
	// ErrMissingClientID indicates no identity-provider client ID was configured.
	ErrMissingClientID = errors.New("sessionclient.missing_client_id")
	// ErrMissingAPIBaseURL indicates no API base URL was configured.
	ErrMissingAPIBaseURL = errors.New("sessionclient.missing_api_base_url")
	// ErrMissingProvider indicates SignIn was called with no provider wired.
	ErrMissingProvider = errors.New("sessionclient.missing_provider")
	// ErrSignInRejected indicates the server rejected the identity assertion.
	ErrSignInRejected = errors.New("sessionclient.sign_in_rejected")
	// ErrRefreshRejected indicates the silent refresh was rejected; the
	// caller must treat the session as ended.
	ErrRefreshRejected = errors.New("sessionclient.refresh_rejected")
)

// DefaultStorageKeyPrefix is used when Config.StorageKeyPrefix is empty.
const DefaultStorageKeyPrefix = "auth"

// Config is the process-wide client configuration, set exactly once per
// Controller instance.
type Config struct {
	GoogleClientID   string
	APIBaseURL       string
	StorageKeyPrefix string
}

// Identity is the client's cached copy of the authenticated user. It is
// advisory display data only and never trusted for authorization decisions.
type Identity struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	PictureURL string `json:"profile_picture"`
	IsNew      bool   `json:"is_new_user,omitempty"`
}

type subscription struct {
	id       uint64
	callback func(*Identity)
	removed  bool
}

// Controller owns one session: its configuration, volatile access token,
// cached identity, and subscriber list. Construct one per application.
type Controller struct {
	config     Config
	httpClient *http.Client
	store      *sessionstore.Coordinator
	provider   IdentityProvider
	logger     *zap.Logger

	readyAttempts int
	readyInterval time.Duration
	durablePath   string

	mutex         sync.Mutex
	state         State
	accessToken   string
	identity      *Identity
	subscriptions []*subscription
	nextSubID     uint64
}

// Option customizes a Controller.
type Option func(*Controller)

// WithHTTPClient injects the transport. The client's cookie jar carries the
// refresh credential, so tests usually share one jar between client and tier.
func WithHTTPClient(client *http.Client) Option {
	return func(controller *Controller) { controller.httpClient = client }
}

// WithProvider wires the external identity provider used by SignIn.
func WithProvider(provider IdentityProvider) Option {
	return func(controller *Controller) { controller.provider = provider }
}

// WithLogger injects a logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(controller *Controller) { controller.logger = logger }
}

// WithCoordinator replaces the storage coordinator entirely.
func WithCoordinator(store *sessionstore.Coordinator) Option {
	return func(controller *Controller) { controller.store = store }
}

// WithDurableStorePath adds the asynchronous durable tier backed by a SQLite
// file at path, so the cached identity survives process restarts. Ignored when
// WithCoordinator is also given.
func WithDurableStorePath(path string) Option {
	return func(controller *Controller) { controller.durablePath = path }
}

// WithProviderReadiness overrides the bounded readiness wait (attempts times
// interval is the hard ceiling).
func WithProviderReadiness(attempts int, interval time.Duration) Option {
	return func(controller *Controller) {
		controller.readyAttempts = attempts
		controller.readyInterval = interval
	}
}

// New configures a Controller. Configuration happens exactly once per
// instance; independent sessions use independent instances.
func New(config Config, options ...Option) (*Controller, error) {
	if strings.TrimSpace(config.GoogleClientID) == "" {
		return nil, fmt.Errorf("sessionclient.new: %w", ErrMissingClientID)
	}
	if strings.TrimSpace(config.APIBaseURL) == "" {
		return nil, fmt.Errorf("sessionclient.new: %w", ErrMissingAPIBaseURL)
	}
	if strings.TrimSpace(config.StorageKeyPrefix) == "" {
		config.StorageKeyPrefix = DefaultStorageKeyPrefix
	}
	config.APIBaseURL = strings.TrimSuffix(config.APIBaseURL, "/")

	controller := &Controller{
		config:        config,
		logger:        zap.NewNop(),
		state:         StateUnconfigured,
		readyAttempts: defaultReadyAttempts,
		readyInterval: defaultReadyInterval,
	}
	for _, option := range options {
		option(controller)
	}

	if controller.httpClient == nil {
		jar, jarErr := cookiejar.New(nil)
		if jarErr != nil {
			return nil, fmt.Errorf("sessionclient.new.jar: %w", jarErr)
		}
		controller.httpClient = &http.Client{Jar: jar}
	}
	if controller.store == nil {
		syncTiers := []sessionstore.Tier{sessionstore.NewMemoryTier()}
		if controller.httpClient.Jar != nil {
			cookieTier, cookieErr := sessionstore.NewCookieTier(controller.httpClient.Jar, config.APIBaseURL, 0)
			if cookieErr == nil {
				syncTiers = append(syncTiers, cookieTier)
			}
		}
		var durableTier sessionstore.Tier
		if controller.durablePath != "" {
			databaseTier, databaseErr := sessionstore.NewDatabaseTier(context.Background(), controller.durablePath)
			if databaseErr != nil {
				// Tier unavailability is absorbed, never fatal: the session
				// just will not survive a process restart.
				controller.logger.Debug("durable storage tier unavailable",
					zap.String("code", "sessionclient.new.durable_tier"),
					zap.Error(databaseErr))
			} else {
				durableTier = databaseTier
			}
		}
		controller.store = sessionstore.NewCoordinator(syncTiers, durableTier, controller.logger)
	}
	return controller, nil
}

// State reports the current lifecycle state.
func (controller *Controller) State() State {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.state
}

// CurrentIdentity returns the cached identity, if any.
func (controller *Controller) CurrentIdentity() *Identity {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.identity
}

// OnAuthStateChange registers a callback fired synchronously, in subscription
// order, on every identity-changing transition. The returned unsubscribe is
// idempotent and safe to call from within a callback. Handlers must not
// assume exclusivity during teardown.
func (controller *Controller) OnAuthStateChange(callback func(*Identity)) func() {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()

	controller.nextSubID++
	entry := &subscription{id: controller.nextSubID, callback: callback}
	controller.subscriptions = append(controller.subscriptions, entry)

	return func() {
		controller.mutex.Lock()
		defer controller.mutex.Unlock()
		if entry.removed {
			return
		}
		entry.removed = true
		for index, candidate := range controller.subscriptions {
			if candidate.id == entry.id {
				controller.subscriptions = append(controller.subscriptions[:index], controller.subscriptions[index+1:]...)
				break
			}
		}
	}
}

// Initialize restores a prior session, if one exists. Ordering minimizes
// network calls: a live token is validated first; a first-time visitor with
// no cached identity terminates anonymous with zero network calls; only a
// returning user triggers the silent refresh. Callers must serialize calls.
func (controller *Controller) Initialize(ctx context.Context) (*Identity, error) {
	controller.setState(StateInitializing)

	if token := controller.currentToken(); token != "" {
		identity, profileErr := controller.fetchProfile(ctx, token)
		if profileErr == nil {
			controller.becomeAuthenticated(ctx, identity)
			return identity, nil
		}
		controller.logger.Debug("live token rejected during initialize",
			zap.String("code", "sessionclient.initialize.stale_token"),
			zap.Error(profileErr))
	}

	if _, found := controller.store.ReadAsync(ctx, controller.userKey()); !found {
		controller.setState(StateAnonymous)
		return nil, nil
	}

	controller.setState(StateRefreshing)
	if refreshErr := controller.refresh(ctx); refreshErr != nil {
		controller.clearCachedIdentity(ctx)
		controller.setState(StateAnonymous)
		return nil, nil
	}
	identity, profileErr := controller.fetchProfile(ctx, controller.currentToken())
	if profileErr != nil {
		controller.clearCachedIdentity(ctx)
		controller.setState(StateAnonymous)
		return nil, nil
	}
	controller.becomeAuthenticated(ctx, identity)
	return identity, nil
}

// SignIn obtains an assertion from the identity provider and exchanges it for
// a session. The refresh credential arrives as a cookie set by the server;
// only the access token and identity are held here.
func (controller *Controller) SignIn(ctx context.Context) (*Identity, error) {
	if controller.provider == nil {
		return nil, fmt.Errorf("sessionclient.sign_in: %w", ErrMissingProvider)
	}
	if readyErr := awaitProviderReady(ctx, controller.provider, controller.readyAttempts, controller.readyInterval); readyErr != nil {
		return nil, readyErr
	}
	assertion, assertionErr := controller.provider.SignIn(ctx)
	if assertionErr != nil {
		return nil, fmt.Errorf("sessionclient.sign_in.assertion: %w", assertionErr)
	}

	body, encodeErr := json.Marshal(map[string]string{
		"id_token":    assertion,
		"client_type": "go",
	})
	if encodeErr != nil {
		return nil, fmt.Errorf("sessionclient.sign_in.encode: %w", encodeErr)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, controller.config.APIBaseURL+"/auth/google", bytes.NewReader(body))
	if requestErr != nil {
		return nil, fmt.Errorf("sessionclient.sign_in.request: %w", requestErr)
	}
	request.Header.Set("Content-Type", "application/json")

	response, sendErr := controller.httpClient.Do(request)
	if sendErr != nil {
		return nil, fmt.Errorf("sessionclient.sign_in.send: %w", sendErr)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sessionclient.sign_in.status_%d: %w", response.StatusCode, ErrSignInRejected)
	}

	var outcome struct {
		Success     bool   `json:"success"`
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
		Email       string `json:"email"`
		Name        string `json:"name"`
		IsNewUser   bool   `json:"is_new_user"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&outcome); decodeErr != nil || !outcome.Success || outcome.AccessToken == "" {
		return nil, fmt.Errorf("sessionclient.sign_in.decode: %w", ErrSignInRejected)
	}

	identity := &Identity{
		UserID: outcome.UserID,
		Email:  outcome.Email,
		Name:   outcome.Name,
		IsNew:  outcome.IsNewUser,
	}
	controller.setToken(outcome.AccessToken)
	controller.becomeAuthenticated(ctx, identity)
	return identity, nil
}

// SignOut tears the session down. The volatile token is cleared first, so no
// further authenticated calls are possible even if later steps fail; the
// signed-out state is broadcast unconditionally; provider disconnect and the
// server logout call are fire-and-forget.
func (controller *Controller) SignOut(ctx context.Context) {
	controller.mutex.Lock()
	previousToken := controller.accessToken
	controller.accessToken = ""
	controller.identity = nil
	controller.state = StateAnonymous
	controller.mutex.Unlock()

	controller.clearCachedIdentity(ctx)
	controller.notify(nil)

	if controller.provider != nil {
		if disconnectErr := controller.provider.Disconnect(ctx); disconnectErr != nil {
			controller.logger.Debug("provider disconnect failed",
				zap.String("code", "sessionclient.sign_out.provider"),
				zap.Error(disconnectErr))
		}
	}
	controller.serverLogout(ctx, previousToken)
}

func (controller *Controller) serverLogout(ctx context.Context, token string) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, controller.config.APIBaseURL+"/auth/logout", nil)
	if requestErr != nil {
		return
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, sendErr := controller.httpClient.Do(request)
	if sendErr != nil {
		controller.logger.Debug("server logout failed",
			zap.String("code", "sessionclient.sign_out.server"),
			zap.Error(sendErr))
		return
	}
	drainAndClose(response.Body)
}

// refresh exchanges the durable refresh cookie for a fresh access token.
// Redundant concurrent refreshes are harmless: each is keyed off the cookie,
// not off client-held state.
func (controller *Controller) refresh(ctx context.Context) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, controller.config.APIBaseURL+"/auth/refresh", strings.NewReader("{}"))
	if requestErr != nil {
		return fmt.Errorf("sessionclient.refresh.request: %w", requestErr)
	}
	request.Header.Set("Content-Type", "application/json")

	response, sendErr := controller.httpClient.Do(request)
	if sendErr != nil {
		return fmt.Errorf("sessionclient.refresh.send: %w", sendErr)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("sessionclient.refresh.status_%d: %w", response.StatusCode, ErrRefreshRejected)
	}

	var outcome struct {
		Success     bool   `json:"success"`
		AccessToken string `json:"access_token"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&outcome); decodeErr != nil || !outcome.Success || outcome.AccessToken == "" {
		return fmt.Errorf("sessionclient.refresh.decode: %w", ErrRefreshRejected)
	}
	controller.setToken(outcome.AccessToken)
	return nil
}

func (controller *Controller) fetchProfile(ctx context.Context, token string) (*Identity, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, controller.config.APIBaseURL+"/auth/me", nil)
	if requestErr != nil {
		return nil, fmt.Errorf("sessionclient.profile.request: %w", requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, sendErr := controller.httpClient.Do(request)
	if sendErr != nil {
		return nil, fmt.Errorf("sessionclient.profile.send: %w", sendErr)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sessionclient.profile.status_%d: %w", response.StatusCode, ErrRefreshRejected)
	}

	var identity Identity
	if decodeErr := json.NewDecoder(response.Body).Decode(&identity); decodeErr != nil || identity.UserID == "" {
		return nil, fmt.Errorf("sessionclient.profile.decode: %w", ErrRefreshRejected)
	}
	return &identity, nil
}

// becomeAuthenticated installs the identity, persists the cached copy across
// every storage tier, and broadcasts.
func (controller *Controller) becomeAuthenticated(ctx context.Context, identity *Identity) {
	controller.mutex.Lock()
	controller.identity = identity
	controller.state = StateAuthenticated
	controller.mutex.Unlock()

	if serialized, marshalErr := json.Marshal(identity); marshalErr == nil {
		controller.store.Write(ctx, controller.userKey(), string(serialized), sessionstore.DurabilityAll)
	}
	if identity.PictureURL != "" {
		controller.store.Write(ctx, controller.avatarKey(), identity.PictureURL, sessionstore.DurabilityAll)
	}
	controller.notify(identity)
}

func (controller *Controller) clearCachedIdentity(ctx context.Context) {
	controller.store.Remove(ctx, controller.userKey())
	controller.store.Remove(ctx, controller.avatarKey())
}

// notify invokes subscribers synchronously in subscription order over a
// snapshot, so unsubscribing from within a callback is safe.
func (controller *Controller) notify(identity *Identity) {
	controller.mutex.Lock()
	snapshot := make([]*subscription, len(controller.subscriptions))
	copy(snapshot, controller.subscriptions)
	controller.mutex.Unlock()

	for _, entry := range snapshot {
		controller.mutex.Lock()
		removed := entry.removed
		controller.mutex.Unlock()
		if removed {
			continue
		}
		entry.callback(identity)
	}
}

func (controller *Controller) setState(state State) {
	controller.mutex.Lock()
	controller.state = state
	controller.mutex.Unlock()
}

func (controller *Controller) setToken(token string) {
	controller.mutex.Lock()
	controller.accessToken = token
	controller.mutex.Unlock()
}

func (controller *Controller) currentToken() string {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.accessToken
}

func (controller *Controller) userKey() string {
	return controller.config.StorageKeyPrefix + "_user"
}

func (controller *Controller) avatarKey() string {
	return controller.config.StorageKeyPrefix + "_avatar_cache"
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
