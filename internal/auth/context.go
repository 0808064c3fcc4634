package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	CtxIdentity = "identity"
)

// Identity is what the identity provider vouches for. Email is the natural key
// joining identities to donor records.
type Identity struct {
	UID     string `json:"uid"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// SetIdentity stores the authenticated identity in the Gin context.
func SetIdentity(c *gin.Context, id Identity) {
	id.Email = NormalizeEmail(id.Email)
	c.Set(CtxIdentity, id)
}

// IdentityFrom returns the identity set by the authentication middleware.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(CtxIdentity)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok && id.Email != ""
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
