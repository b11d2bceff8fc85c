package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"openinvoice/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := newAdminStore()

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", store.updates)
	}
}

func TestCreateMemberStoresPasswordHash(t *testing.T) {
	store := newAdminStore()

	manager := NewAuthManager("test-secret", time.Hour, store)
	member, err := manager.CreateMember(context.Background(), domain.MemberCreateRequest{
		Username: "Billing.Clerk",
		Password: "pass12345",
	})
	if err != nil {
		t.Fatalf("create member failed: %v", err)
	}
	if member.Username != "billing.clerk" || member.Role != domain.RoleMember {
		t.Fatalf("unexpected member %+v", member)
	}

	found, ok := store.users["billing.clerk"]
	if !ok {
		t.Fatalf("expected member to be saved")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "billing.clerk",
		Password: "pass12345",
	})
	if err != nil {
		t.Fatalf("login with hashed member failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "billing.clerk" || actor.Role != domain.RoleMember {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestCreateMemberRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newAdminStore())

	if _, err := manager.CreateMember(context.Background(), domain.MemberCreateRequest{Username: "admin", Password: "long-enough"}); err == nil {
		t.Fatalf("expected duplicate username to fail")
	}
	if _, err := manager.CreateMember(context.Background(), domain.MemberCreateRequest{Username: "someone", Password: "short"}); err == nil {
		t.Fatalf("expected short password to fail")
	}
}

func TestParseTokenRejectsOtherSecret(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, newAdminStore())
	verifier := NewAuthManager("secret-b", time.Hour, nil)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}
