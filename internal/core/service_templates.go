package core

// service_templates.go manages named, reusable column mappings. Templates
// are tenant scoped and referenced by jobs without being owned by them.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateTemplate validates and stores a named mapping.
func (s *Service) CreateTemplate(ctx context.Context, tenantID, actor, name string, columns ColumnMapping) (*MappingTemplate, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: template name is empty", ErrBadRequest)
	}
	if _, err := NewResolver(columns); err != nil {
		return nil, err
	}

	tpl := &MappingTemplate{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      name,
		Columns:   columns,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.templates.CreateTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	s.recordAudit(ctx, AuditEvent{
		Type: AuditTemplateCreated, TenantID: tenantID, Actor: actor, Detail: name,
	})
	return tpl, nil
}

// ListTemplates returns the tenant's saved mappings.
func (s *Service) ListTemplates(ctx context.Context, tenantID string) ([]MappingTemplate, error) {
	return s.templates.ListTemplates(ctx, tenantID)
}

// DeleteTemplate removes a saved mapping. Jobs that referenced it keep
// their own copy of the merged mapping.
func (s *Service) DeleteTemplate(ctx context.Context, tenantID, actor, id string) error {
	if err := s.templates.DeleteTemplate(ctx, tenantID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, AuditEvent{
		Type: AuditTemplateDeleted, TenantID: tenantID, Actor: actor, Detail: id,
	})
	return nil
}
