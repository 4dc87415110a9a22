package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// Redirector resolves request paths and counts the rules that were used
type Redirector interface {
	Resolve(path string) domain.ResolutionResult
	RecordHit(id string) bool
}

// RedirectConfig controls the redirect middleware
type RedirectConfig struct {
	// PreserveQueryString appends the request query to destinations that carry none
	PreserveQueryString bool
	// ReservedPrefixes are never redirected
	ReservedPrefixes []string
}

// DefaultReservedPrefixes keeps the API and operational endpoints reachable
var DefaultReservedPrefixes = []string{"/v1", "/health", "/metrics"}

// Redirect answers GET and HEAD requests whose path resolves to a destination.
// Unmatched paths and loops fall through to the next handler.
func Redirect(r Redirector, cfg RedirectConfig) fiber.Handler {
	reserved := cfg.ReservedPrefixes
	if reserved == nil {
		reserved = DefaultReservedPrefixes
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return c.Next()
		}

		path := c.Path()
		if isReserved(path, reserved) {
			return c.Next()
		}

		result := r.Resolve(path)
		switch {
		case result.Redirects():
		case result.Status == domain.StatusLoop:
			log.Warn().
				Str("path", path).
				Str("rule_id", result.Chain.FirstRuleID()).
				Str("request_id", requestID(c)).
				Msg("Redirect loop, serving request without redirect")
			return c.Next()
		default:
			return c.Next()
		}

		location := result.FinalDestination
		if query := string(c.Request().URI().QueryString()); cfg.PreserveQueryString && query != "" && !strings.Contains(location, "?") {
			location += "?" + query
		}

		rule := result.MatchedRedirect
		r.RecordHit(rule.ID)

		log.Debug().
			Str("path", path).
			Str("location", location).
			Str("rule_id", rule.ID).
			Str("status", string(result.Status)).
			Msg("Redirecting request")

		return c.Redirect(location, rule.Type.StatusCode())
	}
}

func isReserved(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
