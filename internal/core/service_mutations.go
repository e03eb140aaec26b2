package core

// service_mutations.go applies one declarative operation across an
// explicit id set. Before any write, every target id must resolve inside
// the caller's tenant or the whole call is rejected. Reversible variants
// snapshot prior values per id; each id is then mutated independently, and
// one id's failure never stops the rest. The persisted BulkMutation record
// permits exactly one later reversal.

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rejestr/bulkio/internal/logging"
	"github.com/rejestr/bulkio/internal/telemetry"
)

// ValidateOperation checks the tagged payload against its own tag.
func ValidateOperation(op BulkOperation) error {
	switch op.Type {
	case OpStatusChange:
		if !ValidClientStatus(op.NewStatus) {
			return fmt.Errorf("%w: invalid status %q", ErrBadRequest, op.NewStatus)
		}
	case OpAddTags, OpRemoveTags:
		if len(op.TagIDs) == 0 {
			return fmt.Errorf("%w: no tags given", ErrBadRequest)
		}
	case OpUpdateField:
		spec, ok := LookupField(op.FieldName)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, op.FieldName)
		}
		if op.Value == "" {
			// Blank clears text fields but has no meaning for an enum;
			// the status setter would silently ignore it.
			if spec.Type == FieldStatus {
				return fmt.Errorf("%w: %s requires a value", ErrBadRequest, op.FieldName)
			}
		} else if msg := formatError(spec.Type, op.Value); msg != "" {
			return fmt.Errorf("%w: %s", ErrBadRequest, msg)
		}
	case OpAssignManager:
		if op.ManagerID == "" {
			return fmt.Errorf("%w: no manager given", ErrBadRequest)
		}
	case OpBatchDelete:
		// Hard flag alone decides semantics.
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrBadRequest, op.Type)
	}
	return nil
}

// snapshotFields names the fields an operation touches, for the per-id
// before-state capture.
func snapshotFields(op BulkOperation) []string {
	switch op.Type {
	case OpStatusChange:
		return []string{"status"}
	case OpAddTags, OpRemoveTags:
		return []string{"tags"}
	case OpUpdateField:
		return []string{op.FieldName}
	case OpAssignManager:
		return []string{"managerId"}
	}
	return nil
}

// BulkMutationResult is the synchronous reply of execute-bulk-mutation.
type BulkMutationResult struct {
	MutationID string          `json:"mutationId"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Errors     []MutationError `json:"errors,omitempty"`
}

// ExecuteBulkMutation applies op across ids and persists the invocation
// record. Partial success is a first-class completed state, not an error.
func (s *Service) ExecuteBulkMutation(ctx context.Context, tenantID, actor string, ids []string, op BulkOperation) (*BulkMutationResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty target id list", ErrBadRequest)
	}
	if err := ValidateOperation(op); err != nil {
		return nil, err
	}

	ids = dedupe(ids)
	clients, err := s.clients.GetClients(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	if len(clients) != len(ids) {
		// At least one id is missing or belongs to another tenant; the
		// whole call fails before any mutation.
		return nil, fmt.Errorf("%w: %d of %d ids not found in tenant", ErrTenantScope, len(ids)-len(clients), len(ids))
	}
	byID := make(map[string]*Client, len(clients))
	for i := range clients {
		byID[clients[i].ID] = &clients[i]
	}

	mutation := &BulkMutation{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Actor:      actor,
		Operation:  op,
		TargetIDs:  ids,
		Reversible: op.Reversible(),
		CreatedAt:  time.Now().UTC(),
	}

	if mutation.Reversible {
		mutation.Snapshots = make(map[string]map[string]string, len(ids))
		fields := snapshotFields(op)
		for _, id := range ids {
			snap := make(map[string]string, len(fields)+1)
			for _, field := range fields {
				if spec, ok := LookupField(field); ok {
					snap[field] = spec.Get(byID[id])
				}
			}
			if op.Type == OpBatchDelete {
				snap["deleted"] = "false"
			}
			mutation.Snapshots[id] = snap
		}
	}

	for _, id := range ids {
		if err := s.applyOperation(ctx, tenantID, byID[id], op); err != nil {
			mutation.Failed++
			mutation.Errors = append(mutation.Errors, MutationError{ClientID: id, Message: err.Error()})
		} else {
			mutation.Successful++
		}
	}

	if err := s.mutations.CreateMutation(ctx, mutation); err != nil {
		return nil, fmt.Errorf("persist mutation record: %w", err)
	}
	telemetry.MutationsExecuted.WithLabelValues(string(op.Type)).Inc()
	s.recordAudit(ctx, AuditEvent{
		Type:         AuditMutationExecuted,
		TenantID:     tenantID,
		Actor:        actor,
		MutationID:   mutation.ID,
		Detail:       string(op.Type),
		RowsAffected: mutation.Successful,
	})
	logging.FromContext(ctx).Info("bulk mutation executed",
		"mutation_id", mutation.ID, "op", op.Type,
		"successful", mutation.Successful, "failed", mutation.Failed)

	return &BulkMutationResult{
		MutationID: mutation.ID,
		Successful: mutation.Successful,
		Failed:     mutation.Failed,
		Errors:     mutation.Errors,
	}, nil
}

// applyOperation mutates one record. A concurrent version conflict on one
// id surfaces as that id's individual failure; the store guarantees the
// record is then left untouched.
func (s *Service) applyOperation(ctx context.Context, tenantID string, client *Client, op BulkOperation) error {
	switch op.Type {
	case OpBatchDelete:
		return s.clients.DeleteClient(ctx, tenantID, client.ID, op.Hard)
	case OpStatusChange:
		client.Status = op.NewStatus
	case OpAddTags:
		client.Tags = addTags(client.Tags, op.TagIDs)
	case OpRemoveTags:
		client.Tags = removeTags(client.Tags, op.TagIDs)
	case OpUpdateField:
		spec, _ := LookupField(op.FieldName)
		if err := spec.Set(client, op.Value); err != nil {
			return err
		}
	case OpAssignManager:
		client.ManagerID = op.ManagerID
	}
	return s.clients.UpdateClient(ctx, client)
}

// ReverseBulkMutation restores every snapshotted id to its captured prior
// state. A mutation reverses at most once; anything else is ErrReversal.
func (s *Service) ReverseBulkMutation(ctx context.Context, tenantID, actor, mutationID string) error {
	mutation, err := s.mutations.GetMutation(ctx, tenantID, mutationID)
	if err != nil {
		return err
	}
	if !mutation.Reversible {
		return fmt.Errorf("%w: operation %s is not reversible", ErrReversal, mutation.Operation.Type)
	}
	if mutation.ReversedAt != nil {
		return fmt.Errorf("%w: already reversed at %s", ErrReversal, mutation.ReversedAt.Format(time.RFC3339))
	}

	// Claim the reversal first so a concurrent attempt loses cleanly.
	now := time.Now().UTC()
	if err := s.mutations.MarkReversed(ctx, tenantID, mutationID, actor, now); err != nil {
		return err
	}

	log := logging.WithFields(ctx, "mutation_id", mutationID, "tenant", tenantID)
	restored := 0
	for id, snap := range mutation.Snapshots {
		if err := s.restoreSnapshot(ctx, tenantID, id, mutation.Operation, snap); err != nil {
			log.Warn("restore failed", "client_id", id, "error", err)
			continue
		}
		restored++
	}

	s.recordAudit(ctx, AuditEvent{
		Type:         AuditMutationReversed,
		TenantID:     tenantID,
		Actor:        actor,
		MutationID:   mutationID,
		RowsAffected: restored,
	})
	log.Info("bulk mutation reversed", "restored", restored)
	return nil
}

func (s *Service) restoreSnapshot(ctx context.Context, tenantID, id string, op BulkOperation, snap map[string]string) error {
	if op.Type == OpBatchDelete {
		return s.clients.RestoreClient(ctx, tenantID, id)
	}

	clients, err := s.clients.GetClients(ctx, tenantID, []string{id})
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		return fmt.Errorf("record %s no longer exists", id)
	}
	client := clients[0]
	for field, prior := range snap {
		spec, ok := LookupField(field)
		if !ok {
			continue
		}
		if err := spec.Set(&client, prior); err != nil {
			return err
		}
	}
	return s.clients.UpdateClient(ctx, &client)
}

// GetMutation returns one persisted mutation record.
func (s *Service) GetMutation(ctx context.Context, tenantID, id string) (*BulkMutation, error) {
	return s.mutations.GetMutation(ctx, tenantID, id)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func addTags(tags, add []string) []string {
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		seen[t] = true
	}
	for _, t := range add {
		if !seen[t] {
			tags = append(tags, t)
			seen[t] = true
		}
	}
	return tags
}

func removeTags(tags, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	var out []string
	for _, t := range tags {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}
