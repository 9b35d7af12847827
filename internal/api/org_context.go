package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ignite/deliverability-engine/internal/domain"
	"github.com/ignite/deliverability-engine/internal/repository"
)

// orgContextKey is the context key the org-resolving middleware stores the
// resolved Organization under.
type orgContextKey struct{}

// OrgResolver injects the tenant into the request context. This module does
// not implement authentication (non-goal), so tenant selection is by the
// X-Organization-ID header — sending-platform webhooks trust the body and
// use this header as the tenant selector.
type OrgResolver struct {
	Organizations repository.OrganizationRepository
}

// Middleware resolves X-Organization-ID into a domain.Organization and
// stores it in the request context, or rejects the request if missing or
// unknown. Endpoints that don't need a resolved org (health, SSE catalog)
// should not be wrapped by this middleware.
func (o *OrgResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get("X-Organization-ID")
		if orgID == "" {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "X-Organization-ID header required"})
			return
		}
		org, err := o.Organizations.Get(r.Context(), orgID)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown organization"})
			return
		}
		ctx := context.WithValue(r.Context(), orgContextKey{}, org)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrgFromContext retrieves the resolved Organization, or nil if the
// OrgResolver middleware wasn't applied or resolution failed upstream.
func OrgFromContext(ctx context.Context) *domain.Organization {
	org, _ := ctx.Value(orgContextKey{}).(*domain.Organization)
	return org
}

// RequireOrg returns the organization OrgResolver.Middleware stored in ctx,
// or an error when none is present.
func RequireOrg(ctx context.Context) (*domain.Organization, error) {
	if org := OrgFromContext(ctx); org != nil {
		return org, nil
	}
	return nil, fmt.Errorf("no organization in request context")
}
