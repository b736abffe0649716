package seed

import (
	"context"
	"testing"

	identityrepo "schoolhub/backend/internal/identity/repository"
	"schoolhub/backend/internal/security"
	userdomain "schoolhub/backend/internal/user/domain"
	userrepo "schoolhub/backend/internal/user/repository"
)

func TestDemo_Idempotent(t *testing.T) {
	ctx := context.Background()
	users := userrepo.NewMemoryRepository()
	idents := identityrepo.NewMemoryRepository()
	stores := Stores{Users: users, Contacts: users, Identities: idents}
	hasher := security.NewHasher(4)

	n, err := Demo(ctx, stores, hasher)
	if err != nil {
		t.Fatalf("Demo: %v", err)
	}
	if n != len(DemoAccounts) {
		t.Errorf("created = %d, want %d", n, len(DemoAccounts))
	}
	n, err = Demo(ctx, stores, hasher)
	if err != nil {
		t.Fatalf("second Demo: %v", err)
	}
	if n != 0 {
		t.Errorf("second run created = %d, want 0", n)
	}

	admin, err := users.GetByEmail(ctx, "admin@school.test")
	if err != nil || admin == nil {
		t.Fatalf("admin not created: %v", err)
	}
	if admin.Role != userdomain.RoleAdmin {
		t.Errorf("Role = %q, want admin", admin.Role)
	}
	ident, err := idents.GetByUserID(ctx, admin.ID)
	if err != nil || ident == nil {
		t.Fatalf("identity not created: %v", err)
	}
	if !hasher.Matches(ident.PasswordHash, DemoPassword) {
		t.Error("password hash does not match DemoPassword")
	}
	phone, err := users.GetContact(ctx, admin.ID, userdomain.ContactPhone)
	if err != nil || phone == nil || phone.Value != "+919800000001" {
		t.Errorf("phone contact = %+v, %v", phone, err)
	}
}
