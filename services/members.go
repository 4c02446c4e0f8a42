package services

import (
	"context"
	"errors"
	"strings"

	"sknet/auth"
	"sknet/models"
	"sknet/store"
)

// Login checks credentials by email or username. Only active members may
// sign in.
func (n *Network) Login(ctx context.Context, login, password string) (*models.Member, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || password == "" {
		return nil, validationErr("login and password are required")
	}
	m, err := n.store.FindMemberByLogin(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, n.fail("load member", err)
	}
	if !auth.CheckPassword(m.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if m.Status != models.MemberActive {
		return nil, ErrAccountSuspended
	}
	now := n.now()
	if err := n.store.TouchLogin(ctx, m.ID, now); err != nil {
		return nil, n.fail("record login", err)
	}
	m.LastLoginAt = &now
	return m, nil
}

type ChangePasswordRequest struct {
	Current string `validate:"required"`
	New     string `validate:"required,password"`
}

func (n *Network) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error {
	if err := check(req); err != nil {
		return err
	}
	m, err := n.Member(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(m.PasswordHash, req.Current) {
		return ErrInvalidCredentials
	}
	hash, err := auth.HashPassword(req.New)
	if err != nil {
		return n.fail("hash password", err)
	}
	if err := n.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return n.fail("update password", err)
	}
	return nil
}

func (n *Network) Member(ctx context.Context, userID string) (*models.Member, error) {
	m, err := n.store.GetMember(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, n.fail("load member", err)
	}
	return m, nil
}

func (n *Network) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	s, err := n.store.GetStats(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, n.fail("load stats", err)
	}
	return s, nil
}

type ListMembersRequest struct {
	Status models.MemberStatus
	Limit  int
	Offset int
}

func (n *Network) ListMembers(ctx context.Context, actor Actor, req ListMembersRequest) ([]models.Member, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	members, err := n.store.ListMembers(ctx, store.MemberFilter{Status: req.Status, Limit: req.Limit, Offset: req.Offset})
	if err != nil {
		return nil, n.fail("list members", err)
	}
	return members, nil
}

func (n *Network) SetMemberStatus(ctx context.Context, actor Actor, userID string, status models.MemberStatus) error {
	if !actor.Admin {
		return ErrForbidden
	}
	if !status.Valid() {
		return validationErr("unknown member status " + string(status))
	}
	err := n.store.UpdateMemberStatus(ctx, userID, status)
	if errors.Is(err, store.ErrNotFound) {
		return ErrMemberNotFound
	}
	if err != nil {
		return n.fail("update member status", err)
	}
	return nil
}

type PushSubscriptionRequest struct {
	Endpoint string `validate:"required,url"`
	P256dh   string `validate:"required"`
	Auth     string `validate:"required"`
}

func (n *Network) SavePushSubscription(ctx context.Context, userID string, req PushSubscriptionRequest) error {
	if err := check(req); err != nil {
		return err
	}
	err := n.store.SavePushSubscription(ctx, &models.PushSubscription{
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		CreatedAt: n.now(),
	})
	if err != nil {
		return n.fail("save push subscription", err)
	}
	return nil
}
