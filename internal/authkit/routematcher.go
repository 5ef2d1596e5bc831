package authkit

import (
	"path"
	"strings"
)

// RoutePolicy classifies request paths for the authorization middleware.
// Precedence: public > required > optional. Paths matched by no list default
// to optional.
type RoutePolicy struct {
	Public   []string
	Required []string
	Optional []string
}

// RouteClass is the authorization requirement resolved for a path.
type RouteClass int

const (
	// RouteOptional attaches identity when resolvable but never rejects.
	RouteOptional RouteClass = iota
	// RouteRequired rejects requests without a valid credential.
	RouteRequired
	// RoutePublic skips credential verification entirely.
	RoutePublic
)

// Classify resolves the authorization class for a request path.
func (policy RoutePolicy) Classify(requestPath string) RouteClass {
	normalized := normalizePath(requestPath)
	if matchAny(policy.Public, normalized) {
		return RoutePublic
	}
	if matchAny(policy.Required, normalized) {
		return RouteRequired
	}
	return RouteOptional
}

func normalizePath(requestPath string) string {
	trimmed := requestPath
	if queryIndex := strings.IndexAny(trimmed, "?#"); queryIndex >= 0 {
		trimmed = trimmed[:queryIndex]
	}
	if trimmed != "/" {
		trimmed = strings.TrimSuffix(trimmed, "/")
	}
	if trimmed == "" {
		trimmed = "/"
	}
	return trimmed
}

func matchAny(patterns []string, requestPath string) bool {
	for _, pattern := range patterns {
		if matchPattern(pattern, requestPath) {
			return true
		}
	}
	return false
}

// matchPattern supports exact paths, trailing "/*" and "/**" subtree
// prefixes, and "*" segment wildcards via path.Match.
func matchPattern(pattern string, requestPath string) bool {
	if pattern == "" {
		return false
	}
	if deepPrefix, isDeep := strings.CutSuffix(pattern, "/**"); isDeep {
		return requestPath == deepPrefix || strings.HasPrefix(requestPath, deepPrefix+"/")
	}
	if prefix, isPrefix := strings.CutSuffix(pattern, "/*"); isPrefix && !strings.Contains(prefix, "*") {
		return requestPath == prefix || strings.HasPrefix(requestPath, prefix+"/")
	}
	if strings.ContainsAny(pattern, "*?") {
		matched, matchErr := path.Match(pattern, requestPath)
		return matchErr == nil && matched
	}
	return pattern == requestPath
}
