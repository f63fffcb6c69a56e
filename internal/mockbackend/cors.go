package mockbackend

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errNoCORSOrigins   = errors.New("mockbackend.cors.no_origins")
	errMalformedOrigin = errors.New("mockbackend.cors.malformed_origin")
)

// ConfigureCORS lets browser clients on allowedOrigins call the API. Bearer
// tokens travel in a header, so cookies are never allowed and "*" admits
// every origin.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	configuration := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposeHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:        12 * time.Hour,
	}
	if slices.ContainsFunc(allowedOrigins, func(origin string) bool { return strings.TrimSpace(origin) == "*" }) {
		configuration.AllowAllOrigins = true
		return cors.New(configuration), nil
	}
	origins, err := storefrontOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	configuration.AllowOrigins = origins
	return cors.New(configuration), nil
}

// storefrontOrigins reduces each entry to scheme://host, dropping blanks and
// duplicates, and returns them sorted.
func storefrontOrigins(logger *zap.Logger, entries []string) ([]string, error) {
	origins := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		origin, plainHTTP, err := parseOrigin(entry)
		if err != nil {
			return nil, err
		}
		if plainHTTP && !isLoopbackOrigin(origin) {
			logger.Warn("plain http origin allowed",
				zap.String("code", "mockbackend.cors.plain_http"),
				zap.String("origin", origin))
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		return nil, errNoCORSOrigins
	}
	slices.Sort(origins)
	return slices.Compact(origins), nil
}

func parseOrigin(entry string) (origin string, plainHTTP bool, err error) {
	parsed, parseErr := url.Parse(entry)
	switch {
	case parseErr != nil || parsed.Host == "":
		return "", false, fmt.Errorf("%w: %s", errMalformedOrigin, entry)
	case parsed.Path != "" && parsed.Path != "/", parsed.RawQuery != "", parsed.Fragment != "":
		return "", false, fmt.Errorf("%w: %s must be scheme://host", errMalformedOrigin, entry)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false, fmt.Errorf("%w: %s is not http or https", errMalformedOrigin, entry)
	}
	return scheme + "://" + parsed.Host, scheme == "http", nil
}

func isLoopbackOrigin(origin string) bool {
	parsed, _ := url.Parse(origin)
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
