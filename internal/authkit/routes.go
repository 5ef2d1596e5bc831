package authkit

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/gsession/internal/users"
)

// RouteDependencies carries the collaborators the auth routes need. Explicit
// injection keeps the routes testable with fakes.
type RouteDependencies struct {
	Users   users.Store
	Google  GoogleTokenValidator
	Tokens  *TokenService
	Nonces  NonceStore
	Clock   Clock
	Logger  *zap.Logger
	Metrics MetricsRecorder
}

func (deps *RouteDependencies) fillDefaults() {
	if deps.Clock == nil {
		deps.Clock = NewSystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewCounterMetrics()
	}
}

// MountAuthRoutes registers /auth/google, /auth/refresh, /auth/me,
// /auth/logout, /auth/logout_all, and /auth/nonce.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, deps RouteDependencies) {
	deps.fillDefaults()

	router.GET("/auth/nonce", func(contextGin *gin.Context) {
		nonce, issueErr := deps.Nonces.Issue(contextGin)
		if issueErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"nonce": nonce})
	})

	router.POST("/auth/google", func(contextGin *gin.Context) {
		var inbound struct {
			IDToken    string `json:"id_token"`
			ClientType string `json:"client_type"`
			Nonce      string `json:"nonce"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.IDToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if !configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}

		identity, validateErr := deps.Google.Validate(contextGin, inbound.IDToken, configuration.GoogleWebClientID)
		if validateErr != nil {
			rejectionCode := "invalid_google_token"
			if errors.Is(validateErr, ErrUnverifiedIdentity) {
				rejectionCode = "unverified_identity"
			}
			deps.Metrics.Increment("auth.google." + rejectionCode)
			deps.Logger.Warn("google assertion rejected",
				zap.String("code", "auth.google."+rejectionCode),
				zap.Error(validateErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": rejectionCode})
			return
		}

		if strings.TrimSpace(inbound.Nonce) != "" {
			if identity.Nonce != "" && identity.Nonce != inbound.Nonce {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_nonce"})
				return
			}
			if consumeErr := deps.Nonces.Consume(contextGin, inbound.Nonce); consumeErr != nil {
				deps.Metrics.Increment("auth.google.invalid_nonce")
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_nonce"})
				return
			}
		}

		user, isNew, upsertErr := deps.Users.UpsertGoogleUser(contextGin, identity.Subject, identity.Email, identity.Name, identity.PictureURL)
		if upsertErr != nil {
			deps.Logger.Error("user upsert failed",
				zap.String("code", "auth.google.upsert_failed"),
				zap.Error(upsertErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		accessToken, _, mintErr := deps.Tokens.CreateAccessToken(user.ID, user.Email, user.TokenVersion)
		if mintErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		refreshToken, refreshExpiresAt, refreshErr := deps.Tokens.CreateRefreshToken(user.ID, user.Email, user.TokenVersion)
		if refreshErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		writeRefreshCookie(contextGin, configuration, refreshToken, refreshExpiresAt)

		deps.Metrics.Increment("auth.google.success")
		contextGin.JSON(http.StatusOK, gin.H{
			"success":      true,
			"access_token": accessToken,
			"user_id":      user.ID,
			"email":        user.Email,
			"name":         user.Name,
			"is_new_user":  isNew,
		})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		refreshCookie, cookieErr := contextGin.Request.Cookie(configuration.RefreshCookieName)
		if cookieErr != nil || refreshCookie == nil || strings.TrimSpace(refreshCookie.Value) == "" {
			rejectAuth(contextGin, deps, "auth.refresh", ErrMissingCredential)
			return
		}

		payload, verifyErr := deps.Tokens.Verify(refreshCookie.Value, TokenClassRefresh)
		if verifyErr != nil {
			rejectAuth(contextGin, deps, "auth.refresh", verifyErr)
			return
		}

		user, loadErr := deps.Users.GetUser(contextGin, payload.UserID)
		if loadErr != nil {
			rejectAuth(contextGin, deps, "auth.refresh", loadErr)
			return
		}
		if payload.TokenVersion < user.TokenVersion {
			rejectAuth(contextGin, deps, "auth.refresh", ErrRevokedToken)
			return
		}

		accessToken, _, mintErr := deps.Tokens.CreateAccessToken(user.ID, user.Email, user.TokenVersion)
		if mintErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		rotatedToken, rotatedExpiresAt, rotateErr := deps.Tokens.CreateRefreshToken(user.ID, user.Email, user.TokenVersion)
		if rotateErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		writeRefreshCookie(contextGin, configuration, rotatedToken, rotatedExpiresAt)

		deps.Metrics.Increment("auth.refresh.success")
		contextGin.JSON(http.StatusOK, gin.H{
			"success":      true,
			"access_token": accessToken,
		})
	})

	router.GET("/auth/me", func(contextGin *gin.Context) {
		user, resolveErr := resolveAccessIdentity(contextGin, deps)
		if resolveErr != nil {
			rejectAuth(contextGin, deps, "auth.me", resolveErr)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":         user.ID,
			"email":           user.Email,
			"name":            user.Name,
			"profile_picture": user.PictureURL,
		})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		// Best effort: the cookie is cleared and success reported whether or
		// not the presented credential still verifies, so client-side
		// sign-out is never blocked.
		clearRefreshCookie(contextGin, configuration)
		deps.Metrics.Increment("auth.logout")
		contextGin.JSON(http.StatusOK, gin.H{"success": true})
	})

	router.POST("/auth/logout_all", func(contextGin *gin.Context) {
		user, resolveErr := resolveAccessIdentity(contextGin, deps)
		if resolveErr != nil {
			rejectAuth(contextGin, deps, "auth.logout_all", resolveErr)
			return
		}
		if bumpErr := deps.Users.BumpTokenVersion(contextGin, user.ID); bumpErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		clearRefreshCookie(contextGin, configuration)
		deps.Metrics.Increment("auth.logout_all")
		contextGin.JSON(http.StatusOK, gin.H{"success": true})
	})
}

// resolveAccessIdentity verifies the bearer access token, loads the live user
// record, and enforces the revocation marker.
func resolveAccessIdentity(contextGin *gin.Context, deps RouteDependencies) (users.User, error) {
	bearerToken, credentialErr := bearerFromRequest(contextGin.Request)
	if credentialErr != nil {
		return users.User{}, credentialErr
	}
	payload, verifyErr := deps.Tokens.Verify(bearerToken, TokenClassAccess)
	if verifyErr != nil {
		return users.User{}, verifyErr
	}
	user, loadErr := deps.Users.GetUser(contextGin, payload.UserID)
	if loadErr != nil {
		return users.User{}, loadErr
	}
	if payload.TokenVersion < user.TokenVersion {
		return users.User{}, ErrRevokedToken
	}
	return user, nil
}

func rejectAuth(contextGin *gin.Context, deps RouteDependencies, operation string, cause error) {
	code := ErrorCode(cause)
	deps.Metrics.Increment(operation + ".rejected." + code)
	deps.Logger.Debug("auth request rejected",
		zap.String("code", operation+"."+code),
		zap.String("path", contextGin.Request.URL.Path))
	contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code})
}

func writeRefreshCookie(contextGin *gin.Context, configuration ServerConfig, refreshToken string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    refreshToken,
		Path:     "/auth",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearRefreshCookie(contextGin *gin.Context, configuration ServerConfig) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
