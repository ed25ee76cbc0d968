// Package identity resolves the calling user from the API Gateway authorizer context, or from
// X-User-* headers when the service runs locally.
package identity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/awslabs/aws-lambda-go-api-proxy/core"
	"github.com/gin-gonic/gin"
)

const RoleAdmin = "admin"

const ginKey = "identity"

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Role   string `json:"role,omitempty"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type ctxKey struct{}

// WithContext stores id in ctx.
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// FromGin is FromContext on the gin request.
func FromGin(c *gin.Context) (Identity, bool) {
	if v, ok := c.Get(ginKey); ok {
		if id, ok := v.(Identity); ok && id.UserID != "" {
			return id, true
		}
	}
	return FromContext(c.Request.Context())
}

// Middleware resolves the caller. trustHeaders enables the X-User-* fallback and must only be set
// when the service is not reachable from outside (local runs).
func Middleware(trustHeaders bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := fromAuthorizer(c.Request.Context())
		if !ok && trustHeaders {
			id, ok = fromHeaders(c.Request.Header)
		}
		if ok {
			c.Set(ginKey, id)
			c.Request = c.Request.WithContext(WithContext(c.Request.Context(), id))
		}
		c.Next()
	}
}

// RequireUser aborts with 401 when no caller was resolved.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromGin(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Next()
	}
}

// RequireAdmin aborts with 401/403 unless the caller has the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromGin(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func fromAuthorizer(ctx context.Context) (Identity, bool) {
	rc, ok := core.GetAPIGatewayContextFromContext(ctx)
	if !ok || len(rc.Authorizer) == 0 {
		return Identity{}, false
	}
	claims := rc.Authorizer
	if nested, ok := rc.Authorizer["claims"].(map[string]interface{}); ok {
		claims = nested
	}
	id := Identity{
		UserID: first(claims, "sub", "userId", "principalId"),
		Name:   first(claims, "name"),
		Email:  first(claims, "email"),
		Phone:  first(claims, "phone_number", "phone"),
		Role:   first(claims, "custom:role", "role"),
	}
	if id.UserID == "" {
		id.UserID = first(rc.Authorizer, "principalId")
	}
	return id, id.UserID != ""
}

func fromHeaders(h http.Header) (Identity, bool) {
	id := Identity{
		UserID: h.Get("X-User-Id"),
		Name:   h.Get("X-User-Name"),
		Email:  h.Get("X-User-Email"),
		Phone:  h.Get("X-User-Phone"),
		Role:   h.Get("X-User-Role"),
	}
	return id, id.UserID != ""
}

func first(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}
