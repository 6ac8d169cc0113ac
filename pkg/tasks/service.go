package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/tenancy"
	"github.com/platinummonkey/keystone/pkg/users"
)

// Service applies ownership and validation rules on top of the store
type Service struct {
	store    *Store
	recorder audit.Recorder
	scope    *tenancy.Scope[*Task]
	log      *logrus.Logger
}

// NewService creates a task service
func NewService(store *Store, recorder audit.Recorder, log *logrus.Logger) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		store:    store,
		recorder: recorder,
		scope:    tenancy.NewScope(func(t *Task) *int64 { return &t.OrganizationID }),
		log:      log,
	}
}

// Create adds a task owned by the caller inside the given organization
func (s *Service) Create(ctx context.Context, profile *users.Profile, organizationID int64, req CreateTaskRequest, meta audit.RequestMeta) (*Task, error) {
	if req.Title == "" {
		return nil, apierror.Invalid("title is required")
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if !req.Status.Valid() {
		return nil, apierror.Invalid(fmt.Sprintf("unknown task status %q", req.Status))
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, apierror.Invalid(fmt.Sprintf("unknown task priority %q", req.Priority))
	}

	task := &Task{
		OrganizationID: organizationID,
		OwnerID:        profile.UserID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		DueDate:        req.DueDate,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, apierror.ServiceFailure(err)
	}

	s.audit(ctx, profile, organizationID, audit.ActionCreate, task.ID, map[string]any{"title": task.Title}, meta)
	return task, nil
}

// Get returns a task visible to the caller's tenant
func (s *Service) Get(ctx context.Context, organizationID, taskID int64) (*Task, error) {
	task, err := s.store.Get(ctx, organizationID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("Task")
	}
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	return task, nil
}

// List returns the organization's tasks, newest first
func (s *Service) List(ctx context.Context, organizationID int64, filter ListTasksFilter) ([]*Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apierror.Invalid(fmt.Sprintf("unknown task status %q", filter.Status))
	}
	listed, err := s.store.List(ctx, organizationID, filter)
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	// The store query is already org-keyed; the scope pass is the contract.
	return s.scope.ForTenant(&organizationID, listed), nil
}

// Update applies a partial update. Only the task's owner, an admin, or a
// superadmin may modify it.
func (s *Service) Update(ctx context.Context, profile *users.Profile, organizationID, taskID int64, req UpdateTaskRequest, meta audit.RequestMeta) (*Task, error) {
	current, err := s.Get(ctx, organizationID, taskID)
	if err != nil {
		return nil, err
	}
	if !authz.IsOwnerOrAdminOrAbove(profile.Role, profile.UserID, current.OwnerID) {
		return nil, apierror.PermissionDenied("edit_task")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, apierror.Invalid(fmt.Sprintf("unknown task status %q", *req.Status))
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, apierror.Invalid(fmt.Sprintf("unknown task priority %q", *req.Priority))
	}
	if req.Title != nil && *req.Title == "" {
		return nil, apierror.Invalid("title cannot be empty")
	}

	task, err := s.store.Update(ctx, organizationID, taskID, req)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("Task")
	}
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}

	s.audit(ctx, profile, organizationID, audit.ActionUpdate, taskID, changedFields(req), meta)
	return task, nil
}

// Delete removes a task under the same ownership rule as Update
func (s *Service) Delete(ctx context.Context, profile *users.Profile, organizationID, taskID int64, meta audit.RequestMeta) error {
	current, err := s.Get(ctx, organizationID, taskID)
	if err != nil {
		return err
	}
	if !authz.IsOwnerOrAdminOrAbove(profile.Role, profile.UserID, current.OwnerID) {
		return apierror.PermissionDenied("delete_task")
	}

	if err := s.store.Delete(ctx, organizationID, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apierror.NotFound("Task")
		}
		return apierror.ServiceFailure(err)
	}

	s.audit(ctx, profile, organizationID, audit.ActionDelete, taskID, nil, meta)
	return nil
}

func (s *Service) audit(ctx context.Context, profile *users.Profile, organizationID int64, action audit.Action, taskID int64, changes map[string]any, meta audit.RequestMeta) {
	entry := &audit.Entry{
		UserID:         &profile.UserID,
		OrganizationID: &organizationID,
		Action:         action,
		TargetModel:    "Task",
		TargetID:       fmt.Sprintf("%d", taskID),
		Changes:        changes,
	}
	s.recorder.Record(ctx, entry.WithMeta(meta))
}

func changedFields(req UpdateTaskRequest) map[string]any {
	changes := map[string]any{}
	if req.Title != nil {
		changes["title"] = *req.Title
	}
	if req.Description != nil {
		changes["description"] = *req.Description
	}
	if req.Status != nil {
		changes["status"] = string(*req.Status)
	}
	if req.Priority != nil {
		changes["priority"] = string(*req.Priority)
	}
	if req.DueDate != nil {
		changes["due_date"] = req.DueDate.Format("2006-01-02T15:04:05Z07:00")
	}
	return changes
}
