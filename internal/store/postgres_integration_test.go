package store

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"taskhub/api/internal/rbac"
)

func openTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TASKHUB_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TASKHUB_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDatabase(t)
	ctx := context.Background()

	downs, err := migrationFiles(Migrations(), ".down.sql")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	for i := len(downs) - 1; i >= 0; i-- {
		contents, err := fs.ReadFile(Migrations(), downs[i])
		if err != nil {
			t.Fatalf("read %s: %v", downs[i], err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			t.Fatalf("apply %s: %v", downs[i], err)
		}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func seedPostgres(t *testing.T, s *PostgresStore) {
	t.Helper()
	now := time.Now().UTC()
	err := s.WithTx(context.Background(), func(q Queries) error {
		ctx := context.Background()
		if err := q.InsertOrganization(ctx, Organization{ID: "org_1", Name: "Acme", CreatedAt: now}); err != nil {
			return err
		}
		for _, u := range []User{
			{ID: "usr_1", OrganizationID: "org_1", Name: "Ada", Email: "ada@acme.test", Role: rbac.RoleMember, CreatedAt: now},
			{ID: "usr_2", OrganizationID: "org_1", Name: "Bob", Email: "bob@acme.test", Role: rbac.RoleMember, CreatedAt: now},
		} {
			if err := q.InsertUser(ctx, u); err != nil {
				return err
			}
		}
		if err := q.InsertSpace(ctx, Space{ID: "spc_1", OrganizationID: "org_1", Name: "Eng", CreatedByID: "usr_1", CreatedAt: now}); err != nil {
			return err
		}
		if err := q.InsertSpaceMembership(ctx, SpaceMembership{SpaceID: "spc_1", UserID: "usr_1", Role: rbac.RoleOwner, CreatedAt: now}); err != nil {
			return err
		}
		return q.InsertSpaceMembership(ctx, SpaceMembership{SpaceID: "spc_1", UserID: "usr_2", Role: rbac.RoleMember, CreatedAt: now})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestPostgresDuplicateMembershipIsConflict(t *testing.T) {
	s := NewPostgresStore(openTestDatabase(t))
	seedPostgres(t, s)

	err := s.WithTx(context.Background(), func(q Queries) error {
		return q.InsertSpaceMembership(context.Background(), SpaceMembership{SpaceID: "spc_1", UserID: "usr_2", Role: rbac.RoleAdmin, CreatedAt: time.Now()})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPostgresDeleteMembershipsExceptOwner(t *testing.T) {
	s := NewPostgresStore(openTestDatabase(t))
	seedPostgres(t, s)

	var removed []SpaceMembership
	err := s.WithTx(context.Background(), func(q Queries) error {
		var err error
		removed, err = q.DeleteSpaceMembershipsExcept(context.Background(), "spc_1", rbac.RoleOwner)
		return err
	})
	if err != nil {
		t.Fatalf("delete memberships: %v", err)
	}
	if len(removed) != 1 || removed[0].UserID != "usr_2" {
		t.Fatalf("unexpected removed memberships: %+v", removed)
	}
}

func TestAuditLogBlocksUpdate(t *testing.T) {
	db := openTestDatabase(t)
	s := NewPostgresStore(db)
	seedPostgres(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(q Queries) error {
		if err := q.InsertProject(ctx, Project{ID: "prj_1", SpaceID: "spc_1", OrganizationID: "org_1", Name: "API", WorkflowTemplateID: "default", CreatedByID: "usr_1", CreatedAt: now}); err != nil {
			return err
		}
		if err := q.InsertTask(ctx, Task{ID: "tsk_1", ProjectID: "prj_1", Title: "A", Status: "TODO", CreatedByID: "usr_1", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return q.InsertAuditLogEntries(ctx, []AuditLogEntry{{ID: "aud_1", TaskID: "tsk_1", UserID: "usr_1", Field: "title", OldValue: "A", NewValue: "B", Action: "UPDATE", CreatedAt: now}})
	})
	if err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	_, err = db.ExecContext(ctx, `UPDATE audit_log_entries SET new_value='C' WHERE id='aud_1'`)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}
