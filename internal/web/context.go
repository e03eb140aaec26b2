package web

import (
	"context"
	"net/http"
)

type contextKey string

const tenantKey contextKey = "tenant"

// TenantHeader identifies the caller's tenant on every API request.
const TenantHeader = "X-Tenant-ID"

// ActorHeader optionally identifies the acting user for audit trails.
const ActorHeader = "X-Actor"

// requireTenant rejects API requests without a tenant header and stores
// the tenant id in the request context.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(TenantHeader)
		if tenant == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing " + TenantHeader + " header"})
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantID(r *http.Request) string {
	tenant, _ := r.Context().Value(tenantKey).(string)
	return tenant
}

func actor(r *http.Request) string {
	return r.Header.Get(ActorHeader)
}
