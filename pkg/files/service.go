package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/keystone/pkg/apierror"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/tenancy"
	"github.com/platinummonkey/keystone/pkg/users"
)

// DefaultPresignExpiry bounds how long a download URL stays valid
const DefaultPresignExpiry = 15 * time.Minute

// Service uploads, lists and deletes tenant-owned files. The object store
// holds the bytes; metadata rows carry the tenant scope.
type Service struct {
	store    *Store
	objects  ObjectStore
	bucket   string
	recorder audit.Recorder
	scope    *tenancy.Scope[*StoredFile]
	log      *logrus.Logger
}

// NewService creates a file service
func NewService(store *Store, objects ObjectStore, bucket string, recorder audit.Recorder, log *logrus.Logger) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		store:    store,
		objects:  objects,
		bucket:   bucket,
		recorder: recorder,
		scope:    tenancy.NewScope(func(f *StoredFile) *int64 { return f.OrganizationID }),
		log:      log,
	}
}

// Upload stores the content and records its metadata under the uploader's
// organization. Storage keys are random, never derived from the client
// filename.
func (s *Service) Upload(ctx context.Context, profile *users.Profile, originalFilename string, content io.Reader, size int64, mimeType string, meta audit.RequestMeta) (*StoredFile, error) {
	if originalFilename == "" {
		return nil, apierror.Invalid("filename is required")
	}

	key := storageKey(profile.OrganizationID, originalFilename)
	if err := s.objects.Put(ctx, key, content, mimeType); err != nil {
		return nil, apierror.ServiceFailure(fmt.Errorf("failed to store object: %w", err))
	}

	f := &StoredFile{
		UserID:           profile.UserID,
		OrganizationID:   profile.OrganizationID,
		Filename:         path.Base(key),
		OriginalFilename: originalFilename,
		Size:             size,
		MimeType:         mimeType,
		StorageKey:       key,
		Bucket:           s.bucket,
		Category:         CategoryForMime(mimeType),
	}
	if err := s.store.Create(ctx, f); err != nil {
		// metadata failed; drop the orphaned object, best effort
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			s.log.WithError(delErr).WithField("key", key).Warn("failed to clean up orphaned object")
		}
		return nil, apierror.ServiceFailure(err)
	}

	entry := &audit.Entry{
		UserID:         &profile.UserID,
		OrganizationID: profile.OrganizationID,
		Action:         audit.ActionCreate,
		TargetModel:    "File",
		TargetID:       fmt.Sprintf("%d", f.ID),
		Changes:        map[string]any{"filename": originalFilename, "size": size},
	}
	s.recorder.Record(ctx, entry.WithMeta(meta))

	return f, nil
}

// Get returns a file if the requester's tenant may see it
func (s *Service) Get(ctx context.Context, profile *users.Profile, fileID int64) (*StoredFile, error) {
	f, err := s.store.Get(ctx, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NotFound("File")
	}
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	if !s.scope.IsAccessibleBy(profile, f) {
		// cross-tenant reads look like absence, not denial
		return nil, apierror.NotFound("File")
	}
	return f, nil
}

// DownloadURL returns a presigned URL for a file the requester may access
func (s *Service) DownloadURL(ctx context.Context, profile *users.Profile, fileID int64) (string, error) {
	f, err := s.Get(ctx, profile, fileID)
	if err != nil {
		return "", err
	}
	url, err := s.objects.PresignURL(ctx, f.StorageKey, DefaultPresignExpiry)
	if err != nil {
		return "", apierror.ServiceFailure(err)
	}
	return url, nil
}

// ListForTenant returns the organization's files filtered through the scope
func (s *Service) ListForTenant(ctx context.Context, profile *users.Profile, organizationID int64, limit int) ([]*StoredFile, error) {
	listed, err := s.store.ListForOrganization(ctx, organizationID, limit)
	if err != nil {
		return nil, apierror.ServiceFailure(err)
	}
	return s.scope.AccessibleBy(profile, listed), nil
}

// Delete removes a file's metadata and bytes. Owners may delete their own
// files; admins and superadmins may delete any file they can see.
func (s *Service) Delete(ctx context.Context, profile *users.Profile, fileID int64, meta audit.RequestMeta) error {
	f, err := s.Get(ctx, profile, fileID)
	if err != nil {
		return err
	}
	if !authz.IsOwnerOrAdminOrAbove(profile.Role, profile.UserID, f.UserID) {
		return apierror.PermissionDenied("delete_file")
	}

	if err := s.store.Delete(ctx, fileID); err != nil {
		return apierror.ServiceFailure(err)
	}
	if err := s.objects.Delete(ctx, f.StorageKey); err != nil {
		// metadata row is gone; losing the object costs storage, not safety
		s.log.WithError(err).WithField("key", f.StorageKey).Warn("failed to delete stored object")
	}

	entry := &audit.Entry{
		UserID:         &profile.UserID,
		OrganizationID: f.OrganizationID,
		Action:         audit.ActionDelete,
		TargetModel:    "File",
		TargetID:       fmt.Sprintf("%d", fileID),
	}
	s.recorder.Record(ctx, entry.WithMeta(meta))

	return nil
}

// storageKey builds a collision-free object key. The client filename only
// contributes its extension.
func storageKey(organizationID *int64, originalFilename string) string {
	orgPart := "shared"
	if organizationID != nil {
		orgPart = fmt.Sprintf("org-%d", *organizationID)
	}
	name := uuid.NewString()
	if ext := path.Ext(originalFilename); ext != "" {
		name += ext
	}
	return fmt.Sprintf("%s/%s", orgPart, name)
}
