package service

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/repository"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type stubUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (s *stubUsers) Create(_ context.Context, u *domain.User) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]*domain.User)
	}
	if _, ok := s.users[u.Email]; ok {
		return primitive.NilObjectID, repository.ErrDuplicate
	}
	cp := *u
	cp.ID = primitive.NewObjectID()
	s.users[u.Email] = &cp
	return cp.ID, nil
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUsers) GetByID(_ context.Context, id primitive.ObjectID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func TestAuthRegisterLoginParse(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(&stubUsers{}, "test-secret", time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Sam", "Sam@Example.com", "hunter22", domain.RoleCoach)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.PasswordHash != "" || user.Email != "sam@example.com" {
		t.Errorf("unexpected user %+v", user)
	}

	if _, err := svc.Register(ctx, "Sam", "sam@example.com", "other", domain.RoleCoach); !errors.Is(err, ErrUserAlreadyExists) {
		t.Errorf("expected ErrUserAlreadyExists, got %v", err)
	}

	token, _, err := svc.Login(ctx, "sam@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id, err := claims.UserObjectID()
	if err != nil || id != user.ID || claims.Role != domain.RoleCoach {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestAuthRejections(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(&stubUsers{}, "test-secret", time.Hour)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Kim", "kim@example.com", "pw", domain.Role("admin")); !errors.Is(err, ErrInvalidRegistration) {
		t.Errorf("expected ErrInvalidRegistration, got %v", err)
	}
	if _, err := svc.Register(ctx, "Kim", "kim@example.com", "pw", domain.RoleClient); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Login(ctx, "kim@example.com", "wrong"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "pw"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}

	other := NewAuthService(&stubUsers{}, "another-secret", time.Hour)
	token, _, err := svc.Login(ctx, "kim@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := other.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed with another secret must be rejected, got %v", err)
	}
}
