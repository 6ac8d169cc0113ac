package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
)

// Service creates and queries notifications. All reads are scoped to the
// requesting user; there is no cross-user listing.
type Service struct {
	store     *Store
	publisher Publisher
	log       *logrus.Logger
}

// NewService creates a notification service
func NewService(store *Store, publisher Publisher, log *logrus.Logger) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{store: store, publisher: publisher, log: log}
}

// Create persists a notification and fans it out
func (s *Service) Create(ctx context.Context, n *Notification) error {
	if n.Title == "" {
		return apierror.Invalid("notification title is required")
	}
	if n.Kind == "" {
		n.Kind = KindInfo
	}
	if !n.Kind.Valid() {
		return apierror.Invalid(fmt.Sprintf("unknown notification kind %q", n.Kind))
	}

	if err := s.store.Create(ctx, n); err != nil {
		return apierror.ServiceFailure(err)
	}
	s.publisher.Publish(ctx, n)
	return nil
}

// CreateBulk sends the same notification to multiple users
func (s *Service) CreateBulk(ctx context.Context, userIDs []int64, template *Notification) ([]*Notification, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if template.Title == "" {
		return nil, apierror.Invalid("notification title is required")
	}
	if template.Kind == "" {
		template.Kind = KindInfo
	}
	if !template.Kind.Valid() {
		return nil, apierror.Invalid(fmt.Sprintf("unknown notification kind %q", template.Kind))
	}

	created, err := s.store.CreateBulk(ctx, userIDs, template)
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	for _, n := range created {
		s.publisher.Publish(ctx, n)
	}
	return created, nil
}

// MarkRead marks one of the requester's notifications read
func (s *Service) MarkRead(ctx context.Context, notificationID, userID int64) error {
	err := s.store.MarkRead(ctx, notificationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NotFound("Notification")
	}
	if err != nil {
		return apierror.ServiceFailure(err)
	}
	return nil
}

// MarkAllRead marks all of the requester's notifications read
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	count, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apierror.ServiceFailure(err)
	}
	return count, nil
}

// UnreadCount returns the requester's unread count
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apierror.ServiceFailure(err)
	}
	return count, nil
}

// ListForUser returns the requester's notifications, newest first
func (s *Service) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Notification, error) {
	out, err := s.store.ListForUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	return out, nil
}
