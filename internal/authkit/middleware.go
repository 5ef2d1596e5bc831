package authkit

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/gsession/internal/users"
)

// IdentityContextKey is the gin context key carrying the resolved AuthIdentity.
const IdentityContextKey = "auth_identity"

// AuthIdentity is the resolved identity attached to the request context for
// downstream handlers. It carries authentication facts only; authorization
// beyond the admin flag is the handler's business.
type AuthIdentity struct {
	UserID     string
	Email      string
	Name       string
	PictureURL string
	IsAdmin    bool
}

// UserLoader loads the live user record for revocation checks.
type UserLoader interface {
	GetUser(ctx context.Context, userID string) (users.User, error)
}

// IdentityFrom extracts the resolved identity from a gin context, if any.
func IdentityFrom(contextGin *gin.Context) (*AuthIdentity, bool) {
	value, found := contextGin.Get(IdentityContextKey)
	if !found {
		return nil, false
	}
	identity, ok := value.(*AuthIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// Authenticate classifies the request path and resolves the bearer credential.
// Required paths reject on any verification failure; optional paths degrade to
// anonymous; public paths skip verification entirely.
func Authenticate(configuration ServerConfig, tokens *TokenService, loader UserLoader, logger *zap.Logger, metrics MetricsRecorder) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	adminEmails := make(map[string]struct{}, len(configuration.AdminEmails))
	for _, email := range configuration.AdminEmails {
		adminEmails[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}

	return func(contextGin *gin.Context) {
		routeClass := configuration.Routes.Classify(contextGin.Request.URL.Path)
		if routeClass == RoutePublic {
			contextGin.Next()
			return
		}
		required := routeClass == RouteRequired

		bearerToken, credentialErr := bearerFromRequest(contextGin.Request)
		if credentialErr != nil {
			rejectOrDegrade(contextGin, required, credentialErr, logger, metrics)
			return
		}

		payload, verifyErr := tokens.Verify(bearerToken, TokenClassAccess)
		if verifyErr != nil {
			rejectOrDegrade(contextGin, required, verifyErr, logger, metrics)
			return
		}

		user, loadErr := loader.GetUser(contextGin, payload.UserID)
		if loadErr != nil {
			rejectOrDegrade(contextGin, required, loadErr, logger, metrics)
			return
		}
		if payload.TokenVersion < user.TokenVersion {
			metrics.Increment("auth.middleware.revoked")
			rejectOrDegrade(contextGin, required, ErrRevokedToken, logger, metrics)
			return
		}

		_, isAdmin := adminEmails[strings.ToLower(user.Email)]
		contextGin.Set(IdentityContextKey, &AuthIdentity{
			UserID:     user.ID,
			Email:      user.Email,
			Name:       user.Name,
			PictureURL: user.PictureURL,
			IsAdmin:    isAdmin,
		})
		contextGin.Next()
	}
}

func bearerFromRequest(request *http.Request) (string, error) {
	header := request.Header.Get("Authorization")
	if strings.TrimSpace(header) == "" {
		return "", ErrMissingCredential
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMalformedToken
	}
	return strings.TrimSpace(token), nil
}

func rejectOrDegrade(contextGin *gin.Context, required bool, cause error, logger *zap.Logger, metrics MetricsRecorder) {
	if !required {
		// Optional routes attach no identity on failure; the downstream
		// handler decides whether anonymous access is acceptable.
		contextGin.Next()
		return
	}
	code := ErrorCode(cause)
	metrics.Increment("auth.middleware.rejected." + code)
	logger.Debug("request rejected",
		zap.String("code", "auth.middleware."+code),
		zap.String("path", contextGin.Request.URL.Path))
	contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code})
}
