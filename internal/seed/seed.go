// Package seed inserts demo accounts for local development.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	identitydomain "schoolhub/backend/internal/identity/domain"
	identityrepo "schoolhub/backend/internal/identity/repository"
	"schoolhub/backend/internal/security"
	userdomain "schoolhub/backend/internal/user/domain"
	userrepo "schoolhub/backend/internal/user/repository"
)

// DemoPassword is the password of every demo account.
const DemoPassword = "password123"

// Account is one demo login.
type Account struct {
	Email string
	Name  string
	Role  userdomain.Role
	Phone string
}

// DemoAccounts is one account per school role. Phones are stored as unverified contacts.
var DemoAccounts = []Account{
	{Email: "admin@school.test", Name: "Ada Admin", Role: userdomain.RoleAdmin, Phone: "+919800000001"},
	{Email: "teacher@school.test", Name: "Tom Teacher", Role: userdomain.RoleTeacher, Phone: "+919800000002"},
	{Email: "parent@school.test", Name: "Pat Parent", Role: userdomain.RoleParent},
	{Email: "student@school.test", Name: "Sam Student", Role: userdomain.RoleStudent},
}

// Stores are the repositories the seeder writes to.
type Stores struct {
	Users      userrepo.Repository
	Contacts   userrepo.ContactRepository
	Identities identityrepo.Repository
}

// Demo creates every account in DemoAccounts that does not exist yet and returns how many
// were created.
func Demo(ctx context.Context, stores Stores, hasher *security.Hasher) (int, error) {
	hash, err := hasher.Hash(DemoPassword)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	created := 0
	for _, a := range DemoAccounts {
		existing, err := stores.Users.GetByEmail(ctx, a.Email)
		if err != nil {
			return created, fmt.Errorf("lookup %s: %w", a.Email, err)
		}
		if existing != nil {
			continue
		}
		u := &userdomain.User{
			ID:        uuid.New().String(),
			Email:     a.Email,
			Name:      a.Name,
			Role:      a.Role,
			Status:    userdomain.UserStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := stores.Users.Create(ctx, u); err != nil {
			return created, fmt.Errorf("create user %s: %w", a.Email, err)
		}
		if err := stores.Identities.Create(ctx, &identitydomain.Identity{
			ID:           uuid.New().String(),
			UserID:       u.ID,
			PasswordHash: hash,
			CreatedAt:    now,
		}); err != nil {
			return created, fmt.Errorf("create identity %s: %w", a.Email, err)
		}
		if a.Phone != "" && stores.Contacts != nil {
			if err := stores.Contacts.CreateContact(ctx, &userdomain.Contact{
				ID:        uuid.New().String(),
				UserID:    u.ID,
				Kind:      userdomain.ContactPhone,
				Value:     a.Phone,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return created, fmt.Errorf("create contact %s: %w", a.Email, err)
			}
		}
		created++
	}
	return created, nil
}
