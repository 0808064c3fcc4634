package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/auth"
)

// FirebaseAuthMiddleware validates Firebase ID tokens and stores the caller's identity.
func FirebaseAuthMiddleware(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abortUnauthorized(c, "missing authorization token")
			return
		}

		decoded, err := verifier.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		id := auth.Identity{UID: decoded.UID}
		if email, ok := decoded.Claims["email"].(string); ok {
			id.Email = email
		}
		if name, ok := decoded.Claims["name"].(string); ok {
			id.Name = name
		}
		if picture, ok := decoded.Claims["picture"].(string); ok {
			id.Picture = picture
		}
		if strings.TrimSpace(id.Email) == "" {
			abortUnauthorized(c, "token has no email claim")
			return
		}

		auth.SetIdentity(c, id)
		c.Next()
	}
}

// DevIdentityMiddleware trusts X-User-* headers. Use this ONLY for local development.
func DevIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.TrimSpace(c.GetHeader(HeaderDevEmail))
		if email == "" {
			abortUnauthorized(c, "missing X-User-Email header")
			return
		}
		uid := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if uid == "" {
			uid = "dev-" + auth.NormalizeEmail(email)
		}

		auth.SetIdentity(c, auth.Identity{
			UID:     uid,
			Email:   email,
			Name:    c.GetHeader("X-User-Name"),
			Picture: c.GetHeader("X-User-Photo"),
		})
		c.Next()
	}
}

// extractToken extracts the Bearer token from the Authorization header
func extractToken(c *gin.Context) string {
	bearerToken := c.GetHeader(HeaderAuthorization)
	if len(bearerToken) > 7 && strings.HasPrefix(bearerToken, "Bearer ") {
		return bearerToken[7:]
	}
	return ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"kind": "unauthenticated", "message": msg},
	})
}

// Credential headers inspected by Optional.
const (
	HeaderAuthorization = "Authorization"
	HeaderDevEmail      = "X-User-Email"
)

// Optional runs authenticate only when the request carries header, the one
// the configured authenticator reads, so public routes can still recognise
// signed-in callers.
func Optional(authenticate gin.HandlerFunc, header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(header) == "" {
			c.Next()
			return
		}
		authenticate(c)
	}
}
