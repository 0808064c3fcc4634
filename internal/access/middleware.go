package access

import (
	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/api/http/respond"
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

const CtxSession = "session"

// WithSession resolves the authenticated identity's role and attaches a Session.
// It must run after the authentication middleware.
func WithSession(resolver *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c)
		if !ok {
			respond.Abort(c, errs.Unauthenticated("user not authenticated"))
			return
		}

		res, err := resolver.Resolve(c.Request.Context(), id.Email)
		if err != nil {
			respond.Abort(c, errs.Internal(err, "resolve role"))
			return
		}

		c.Set(CtxSession, Session{Identity: id, Role: res.Role, Status: res.Status, Registered: res.Registered})
		c.Next()
	}
}

// SessionFrom returns the session attached by WithSession.
func SessionFrom(c *gin.Context) Session {
	if v, ok := c.Get(CtxSession); ok {
		if s, ok := v.(Session); ok {
			return s
		}
	}
	return Session{}
}

// Require rejects callers whose role lacks capability.
func Require(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := SessionFrom(c).Require(capability); err != nil {
			respond.Abort(c, err)
			return
		}
		c.Next()
	}
}

// OptionalSession attaches a Session when an identity is present and passes
// anonymous callers through untouched.
func OptionalSession(resolver *Resolver) gin.HandlerFunc {
	required := WithSession(resolver)
	return func(c *gin.Context) {
		if _, ok := auth.IdentityFrom(c); !ok {
			c.Next()
			return
		}
		required(c)
	}
}

// OptionalSessionFrom returns the session if one was attached.
func OptionalSessionFrom(c *gin.Context) *Session {
	v, ok := c.Get(CtxSession)
	if !ok {
		return nil
	}
	s, ok := v.(Session)
	if !ok {
		return nil
	}
	return &s
}
