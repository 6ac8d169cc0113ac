package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authn"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/files"
	"github.com/platinummonkey/keystone/pkg/notifications"
	"github.com/platinummonkey/keystone/pkg/orgs"
	"github.com/platinummonkey/keystone/pkg/tasks"
	"github.com/platinummonkey/keystone/pkg/users"
)

// memObjectStore keeps uploaded bytes in memory for handler tests
type memObjectStore struct {
	objects map[string][]byte
}

func (m *memObjectStore) Put(_ context.Context, key string, content io.Reader, _ string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memObjectStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memObjectStore) PresignURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func setupAPIDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_subject TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			email TEXT NOT NULL,
			full_name TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL UNIQUE REFERENCES users(id),
			organization_id INTEGER,
			role TEXT NOT NULL DEFAULT 'user',
			bio TEXT,
			avatar_url TEXT,
			phone TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE role_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(role, permission_id)
		);

		CREATE TABLE user_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			granted INTEGER NOT NULL DEFAULT 1,
			granted_by INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(profile_id, permission_id)
		);

		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			subscription_status TEXT NOT NULL DEFAULT 'active',
			subscription_tier TEXT NOT NULL DEFAULT 'basic',
			max_users INTEGER NOT NULL DEFAULT 10,
			settings TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id BIGINT NOT NULL,
			owner_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT 'medium',
			due_date TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id BIGINT NOT NULL,
			organization_id BIGINT,
			title TEXT NOT NULL,
			message TEXT,
			kind TEXT NOT NULL DEFAULT 'info',
			is_read INTEGER NOT NULL DEFAULT 0,
			read_at TIMESTAMP,
			related_model TEXT,
			related_id TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id BIGINT NOT NULL,
			organization_id BIGINT,
			filename TEXT NOT NULL,
			original_filename TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT,
			storage_key TEXT NOT NULL,
			bucket TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'other',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id BIGINT,
			organization_id BIGINT,
			action TEXT NOT NULL,
			target_model TEXT NOT NULL,
			target_id TEXT,
			changes TEXT NOT NULL DEFAULT '{}',
			ip_address TEXT,
			user_agent TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)
	return db
}

type apiEnv struct {
	db      *sql.DB
	handler http.Handler
	objects *memObjectStore
}

// seeded principals; token -> subject mapping lives in the static verifier
const (
	tokenSuper = "tok-super"
	tokenAlice = "tok-alice" // admin of acme (org 1)
	tokenBob   = "tok-bob"   // plain user in acme
	tokenCarol = "tok-carol" // plain user in globex (org 2)
	tokenFresh = "tok-fresh" // no pre-provisioned rows at all
)

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	db := setupAPIDB(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	authzStore := authz.NewStore(db)
	_, err := authz.Seed(context.Background(), authzStore, log)
	require.NoError(t, err)

	// two tenants
	_, err = db.Exec(`INSERT INTO organizations (id, name, slug) VALUES (1, 'Acme', 'acme'), (2, 'Globex', 'globex')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO organizations (id, name, slug, is_active) VALUES (3, 'Initech', 'initech', 0)`)
	require.NoError(t, err)

	// pre-provisioned principals keyed by external subject
	_, err = db.Exec(`
		INSERT INTO users (id, external_subject, username, email) VALUES
			(1, 'sub-super', 'root', 'root@example.com'),
			(2, 'sub-alice', 'alice', 'alice@acme.com'),
			(3, 'sub-bob', 'bob', 'bob@acme.com'),
			(4, 'sub-carol', 'carol', 'carol@globex.com');
		INSERT INTO profiles (id, user_id, organization_id, role) VALUES
			(1, 1, NULL, 'superadmin'),
			(2, 2, 1, 'admin'),
			(3, 3, 1, 'user'),
			(4, 4, 2, 'user');
	`)
	require.NoError(t, err)

	verifier := authn.NewStaticVerifier(map[string]authn.Identity{
		tokenSuper: {Subject: "sub-super", Name: "root", Email: "root@example.com"},
		tokenAlice: {Subject: "sub-alice", Name: "alice", Email: "alice@acme.com"},
		tokenBob:   {Subject: "sub-bob", Name: "bob", Email: "bob@acme.com"},
		tokenCarol: {Subject: "sub-carol", Name: "carol", Email: "carol@globex.com"},
		tokenFresh: {Subject: "sub-fresh", Name: "fresh", Email: "fresh@example.com"},
	})

	recorder := audit.NewDBRecorder(db, nil, log)
	resolver := authz.NewResolver(authzStore, time.Minute, nil, log)

	orgService := orgs.NewPostgresService(db, recorder, log)
	userService := users.NewService(users.NewStore(db), resolver, recorder, orgService, log)
	taskService := tasks.NewService(tasks.NewStore(db), recorder, log)

	objects := &memObjectStore{objects: map[string][]byte{}}
	fileService := files.NewService(files.NewStore(db), objects, "test-bucket", recorder, log)
	notificationService := notifications.NewService(notifications.NewStore(db), nil, log)

	server := NewServer(Dependencies{
		Users:         userService,
		Orgs:          orgService,
		Tasks:         taskService,
		Files:         fileService,
		Notifications: notificationService,
		Audit:         recorder,
		AuthzStore:    authzStore,
		Resolver:      resolver,
		Verifier:      verifier,
		Log:           log,
	})

	return &apiEnv{db: db, handler: server.Handler(), objects: objects}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthWithoutCredentials(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "GET", "/api/health/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMe(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "GET", "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_required", decodeBody(t, w)["code"])

	w = env.do(t, "GET", "/api/auth/me", tokenAlice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	profile := body["profile"].(map[string]interface{})
	assert.Equal(t, "admin", profile["role"])
	facts := body["role_facts"].(map[string]interface{})
	assert.Equal(t, true, facts["is_admin_or_above"])
}

func TestFirstLoginProvisionsProfile(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "GET", "/api/auth/me", tokenFresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decodeBody(t, w)["profile"].(map[string]interface{})
	assert.Equal(t, "user", profile["role"])

	var count int
	require.NoError(t, env.db.QueryRow(`SELECT COUNT(*) FROM profiles p JOIN users u ON u.id = p.user_id WHERE u.external_subject = 'sub-fresh'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAuthMePermissions(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "GET", "/api/auth/me/permissions", tokenBob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	perms := decodeBody(t, w)["permissions"].([]interface{})
	assert.Contains(t, perms, "create_tasks")
	assert.NotContains(t, perms, "view_users")
}

func TestOrganizationRoutesAreSuperadminOnly(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "POST", "/api/organizations", tokenAlice, map[string]string{"name": "Umbrella"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "POST", "/api/organizations", tokenSuper, map[string]string{"name": "Umbrella Corp"})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "umbrella-corp", body["slug"])
	assert.Equal(t, "active", body["subscription_status"])
	assert.Equal(t, float64(10), body["max_users"])

	w = env.do(t, "GET", "/api/organizations", tokenSuper, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decodeBody(t, w)["count"])
}

func TestUnknownTenantIs404(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "GET", "/api/org/no-such-org/tasks", tokenAlice, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "tenant_not_found", decodeBody(t, w)["code"])

	// inactive tenants are indistinguishable from absent ones
	w = env.do(t, "GET", "/api/org/initech/tasks", tokenAlice, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenantRequiredUnderOrgPrefix(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "GET", "/api/org/", tokenAlice, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tenant_required", decodeBody(t, w)["code"])
}

func TestCrossTenantAccessIsDenied(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "GET", "/api/org/acme/tasks", tokenCarol, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "cross_tenant_access", decodeBody(t, w)["code"])

	// superadmin crosses freely
	w = env.do(t, "GET", "/api/org/acme/tasks", tokenSuper, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "POST", "/api/org/acme/tasks", tokenBob, map[string]string{"title": "Write the report"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	assert.Equal(t, "pending", created["status"])
	taskID := int64(created["id"].(float64))

	w = env.do(t, "GET", "/api/org/acme/tasks", tokenBob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	// carol's tenant never sees it
	w = env.do(t, "GET", "/api/org/globex/tasks", tokenCarol, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeBody(t, w)["count"])

	w = env.do(t, "PATCH", fmt.Sprintf("/api/org/acme/tasks/%d", taskID), tokenBob, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decodeBody(t, w)["status"])

	w = env.do(t, "DELETE", fmt.Sprintf("/api/org/acme/tasks/%d", taskID), tokenBob, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestMemberRoutes(t *testing.T) {
	env := setupAPI(t)

	// bob lacks view_users
	w := env.do(t, "GET", "/api/org/acme/users", tokenBob, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "permission_denied", decodeBody(t, w)["code"])

	w = env.do(t, "GET", "/api/org/acme/users", tokenAlice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["count"])

	w = env.do(t, "GET", "/api/org/acme/member-limit", tokenAlice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["current_count"])
	assert.Equal(t, float64(10), body["max_users"])
}

func TestRoleChangeIsPinnedToSuperadmin(t *testing.T) {
	env := setupAPI(t)

	// alice holds manage_roles through the admin binding but still may not
	// reassign roles
	w := env.do(t, "POST", "/api/org/acme/users/3/role", tokenAlice, map[string]string{"role": "manager"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "role_denied", decodeBody(t, w)["code"])

	w = env.do(t, "POST", "/api/org/acme/users/3/role", tokenSuper, map[string]string{"role": "manager"})
	require.Equal(t, http.StatusOK, w.Code)

	var role string
	require.NoError(t, env.db.QueryRow(`SELECT role FROM profiles WHERE id = 3`).Scan(&role))
	assert.Equal(t, "manager", role)
}

func TestPermissionOverrideOverHTTP(t *testing.T) {
	env := setupAPI(t)

	// bob cannot see users
	w := env.do(t, "GET", "/api/org/acme/users", tokenBob, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "PUT", "/api/org/acme/users/3/permissions", tokenSuper, map[string]interface{}{
		"permission": "view_users",
		"granted":    true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/org/acme/users", tokenBob, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuditTrailOverHTTP(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "POST", "/api/org/acme/tasks", tokenBob, map[string]string{"title": "Audited"})
	require.Equal(t, http.StatusCreated, w.Code)

	// plain users may not read the trail
	w = env.do(t, "GET", "/api/org/acme/audit", tokenBob, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "GET", "/api/org/acme/audit", tokenAlice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.GreaterOrEqual(t, body["count"].(float64), float64(1))
	entry := body["entries"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "create", entry["action"])
	assert.Equal(t, "Task", entry["target_model"])
}

func TestAuditHistoryIsTenantScoped(t *testing.T) {
	env := setupAPI(t)

	w := env.do(t, "POST", "/api/org/acme/tasks", tokenBob, map[string]string{"title": "Audited"})
	require.Equal(t, http.StatusCreated, w.Code)
	taskID := fmt.Sprintf("%.0f", decodeBody(t, w)["id"].(float64))

	// another organization recorded activity against the same global id
	_, err := env.db.Exec(`
		INSERT INTO audit_log (user_id, organization_id, action, target_model, target_id, changes)
		VALUES (4, 2, 'delete', 'Task', $1, '{}')
	`, taskID)
	require.NoError(t, err)

	w = env.do(t, "GET", "/api/org/acme/audit/Task/"+taskID, tokenAlice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, float64(1), body["count"])
	entry := body["entries"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "create", entry["action"])
	assert.Equal(t, float64(1), entry["organization_id"])
}

func TestNotificationsOverHTTP(t *testing.T) {
	env := setupAPI(t)

	_, err := env.db.Exec(`
		INSERT INTO notifications (user_id, organization_id, title, kind) VALUES
			(3, 1, 'Welcome aboard', 'info'),
			(3, 1, 'Task assigned', 'task'),
			(4, 2, 'Other tenant', 'info')
	`)
	require.NoError(t, err)

	w := env.do(t, "GET", "/api/org/acme/notifications", tokenBob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["count"])

	w = env.do(t, "GET", "/api/org/acme/notifications/unread-count", tokenBob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["unread_count"])

	w = env.do(t, "POST", "/api/org/acme/notifications/read-all", tokenBob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["marked_read"])
}

func TestFileUploadOverHTTP(t *testing.T) {
	env := setupAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/org/acme/files", &buf)
	req.Header.Set("Authorization", "Bearer "+tokenBob)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "notes.txt", body["original_filename"])
	// storage keys stay server-side
	_, exposed := body["storage_key"]
	assert.False(t, exposed)
	require.Len(t, env.objects.objects, 1)

	fileID := int64(body["id"].(float64))
	w2 := env.do(t, "GET", fmt.Sprintf("/api/org/acme/files/%d/download", fileID), tokenBob, nil)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.True(t, strings.HasPrefix(decodeBody(t, w2)["url"].(string), "https://objects.test/"))
}

func TestInactiveUserIsRejected(t *testing.T) {
	env := setupAPI(t)

	_, err := env.db.Exec(`UPDATE users SET is_active = 0 WHERE id = 3`)
	require.NoError(t, err)

	w := env.do(t, "GET", "/api/auth/me", tokenBob, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
