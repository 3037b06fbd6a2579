// Package testutil provides sqlite-backed fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"teamspace/db"
	"teamspace/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewDB opens a migrated sqlite database in a per-test temp dir.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.CloseDB(gdb) })
	return gdb
}

func CreateUser(t *testing.T, gdb *gorm.DB, name string) types.User {
	t.Helper()

	u := types.User{Email: name + "-" + uuid.NewString()[:8] + "@example.com", Name: name}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

// CreateOrg creates an organization owned by owner, including the owner membership.
func CreateOrg(t *testing.T, gdb *gorm.DB, owner types.User, name string) types.Organization {
	t.Helper()

	suffix := uuid.NewString()[:8]
	org := types.Organization{
		Name:             name,
		Slug:             name + "-" + suffix,
		JoinCode:         "J" + suffix,
		RegistrationCode: "R" + suffix,
		OwnerID:          owner.ID,
	}
	if err := gdb.Create(&org).Error; err != nil {
		t.Fatalf("create org: %v", err)
	}
	AddMember(t, gdb, org.ID, owner.ID, types.RoleOwner)
	return org
}

func AddMember(t *testing.T, gdb *gorm.DB, orgID, userID, role string) {
	t.Helper()

	m := types.Membership{UserID: userID, OrgID: orgID, Role: role}
	if err := gdb.Create(&m).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func Connect(t *testing.T, gdb *gorm.DB, userID, friendID, status string) types.Connection {
	t.Helper()

	conn := types.Connection{UserID: userID, FriendID: friendID, Status: status}
	if err := gdb.Create(&conn).Error; err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}
