// Package middleware provides HTTP middleware for tenant resolution.
package middleware

import (
	"context"
	"net/http"

	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/domain/task"
	"github.com/clearskaitechnologies-boop/skyscraper-v2-sub017/internal/port/database"
)

const (
	headerOrgID  = "X-Org-ID"
	headerUserID = "X-User-ID"
)

type tenantCtxKey struct{}

// TenantContext resolves the calling organization from request headers
// and membership, and stores a task.TenantContext on the request
// context. It never rejects: handlers read the status and route
// non-ok contexts into the validation short-circuit, keeping the
// rejection logic in one place.
func TenantContext(store database.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := resolve(r, store)
			ctx := context.WithValue(r.Context(), tenantCtxKey{}, tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(r *http.Request, store database.Store) task.TenantContext {
	orgID := r.Header.Get(headerOrgID)
	userID := r.Header.Get(headerUserID)
	if orgID == "" || userID == "" {
		return task.TenantContext{Status: task.TenantUnauthenticated}
	}

	ok, err := store.IsMember(r.Context(), orgID, userID)
	if err != nil {
		return task.TenantContext{Status: task.TenantError, OrgID: orgID, UserID: userID}
	}
	if !ok {
		return task.TenantContext{Status: task.TenantNoMembership, OrgID: orgID, UserID: userID}
	}
	return task.TenantContext{Status: task.TenantOK, OrgID: orgID, UserID: userID}
}

// TenantFromContext returns the tenant context stored in ctx. Absence
// reports an unauthenticated context.
func TenantFromContext(ctx context.Context) task.TenantContext {
	if tc, ok := ctx.Value(tenantCtxKey{}).(task.TenantContext); ok {
		return tc
	}
	return task.TenantContext{Status: task.TenantUnauthenticated}
}
