package push

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/menteman/internal/model"
)

// --- モック定義 ---

// mockSubscriptionRepo はPushSubscriptionRepositoryのモック。
type mockSubscriptionRepo struct {
	createFunc        func(ctx context.Context, sub *model.PushSubscription) error
	findByIDFunc      func(ctx context.Context, id string) (*model.PushSubscription, error)
	listByUserIDFunc  func(ctx context.Context, userID string) ([]*model.PushSubscription, error)
	countByUserIDFunc func(ctx context.Context, userID string) (int, error)
	deleteFunc        func(ctx context.Context, id string) error
}

func (m *mockSubscriptionRepo) Create(ctx context.Context, sub *model.PushSubscription) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, sub)
	}
	return nil
}

func (m *mockSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.PushSubscription, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	if m.listByUserIDFunc != nil {
		return m.listByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockSubscriptionRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	if m.countByUserIDFunc != nil {
		return m.countByUserIDFunc(ctx, userID)
	}
	return 0, nil
}

func (m *mockSubscriptionRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

func (m *mockSubscriptionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return nil
}

// mockEndpointValidator はEndpointValidatorのモック。
type mockEndpointValidator struct {
	validateFunc func(rawURL string) error
}

func (m *mockEndpointValidator) ValidateEndpoint(rawURL string) error {
	if m.validateFunc != nil {
		return m.validateFunc(rawURL)
	}
	return nil
}

func newSubscriptionTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestSubscriptionService(repo *mockSubscriptionRepo, validator *mockEndpointValidator) *SubscriptionService {
	var buf bytes.Buffer
	svc := NewSubscriptionService(repo, validator, newSubscriptionTestLogger(&buf), 10)
	svc.now = func() time.Time {
		return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	}
	return svc
}

// --- Register のテスト ---

// TestSubscriptionService_Register_CreatesSubscription は正常な購読登録を検証する。
func TestSubscriptionService_Register_CreatesSubscription(t *testing.T) {
	var created *model.PushSubscription
	repo := &mockSubscriptionRepo{
		createFunc: func(ctx context.Context, sub *model.PushSubscription) error {
			created = sub
			return nil
		},
	}
	svc := newTestSubscriptionService(repo, &mockEndpointValidator{})

	sub, err := svc.Register(context.Background(), "user-1",
		"https://fcm.googleapis.com/fcm/send/abc123", "p256dh-key", "auth-key")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if sub.ID == "" {
		t.Error("subscription ID should be generated")
	}
	if sub.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", sub.UserID, "user-1")
	}
	if created == nil {
		t.Fatal("expected subscription to be persisted")
	}
	if created.Endpoint != "https://fcm.googleapis.com/fcm/send/abc123" {
		t.Errorf("Endpoint = %q", created.Endpoint)
	}
}

// TestSubscriptionService_Register_EmptyEndpoint は空エンドポイントが拒否されることを検証する。
func TestSubscriptionService_Register_EmptyEndpoint(t *testing.T) {
	svc := newTestSubscriptionService(&mockSubscriptionRepo{}, &mockEndpointValidator{})

	_, err := svc.Register(context.Background(), "user-1", "  ", "p256dh", "auth")
	if err == nil {
		t.Fatal("expected error for empty endpoint")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidEndpoint {
		t.Errorf("error = %v, want code %s", err, model.ErrCodeInvalidEndpoint)
	}
}

// TestSubscriptionService_Register_MissingKeys は鍵パラメータ欠落が拒否されることを検証する。
func TestSubscriptionService_Register_MissingKeys(t *testing.T) {
	svc := newTestSubscriptionService(&mockSubscriptionRepo{}, &mockEndpointValidator{})

	_, err := svc.Register(context.Background(), "user-1",
		"https://fcm.googleapis.com/fcm/send/abc", "", "auth")
	if err == nil {
		t.Fatal("expected error for missing p256dh key")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidEndpoint {
		t.Errorf("error = %v, want code %s", err, model.ErrCodeInvalidEndpoint)
	}
}

// TestSubscriptionService_Register_BlockedEndpoint はSSRF検証に失敗した
// エンドポイントがブロックされることを検証する。
func TestSubscriptionService_Register_BlockedEndpoint(t *testing.T) {
	validator := &mockEndpointValidator{
		validateFunc: func(rawURL string) error {
			return errors.New("blocked IP address")
		},
	}
	repo := &mockSubscriptionRepo{
		createFunc: func(ctx context.Context, sub *model.PushSubscription) error {
			t.Fatal("blocked endpoint should not be persisted")
			return nil
		},
	}
	svc := newTestSubscriptionService(repo, validator)

	_, err := svc.Register(context.Background(), "user-1",
		"https://192.168.1.1/push", "p256dh", "auth")
	if err == nil {
		t.Fatal("expected error for blocked endpoint")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEndpointBlocked {
		t.Errorf("error = %v, want code %s", err, model.ErrCodeEndpointBlocked)
	}
}

// TestSubscriptionService_Register_LimitExceeded はデバイス上限超過が拒否されることを検証する。
func TestSubscriptionService_Register_LimitExceeded(t *testing.T) {
	repo := &mockSubscriptionRepo{
		countByUserIDFunc: func(ctx context.Context, userID string) (int, error) {
			return 10, nil
		},
	}
	svc := newTestSubscriptionService(repo, &mockEndpointValidator{})

	_, err := svc.Register(context.Background(), "user-1",
		"https://fcm.googleapis.com/fcm/send/abc", "p256dh", "auth")
	if err == nil {
		t.Fatal("expected error when subscription limit reached")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSubscriptionLimit {
		t.Errorf("error = %v, want code %s", err, model.ErrCodeSubscriptionLimit)
	}
}

// --- Remove のテスト ---

// TestSubscriptionService_Remove_DeletesOwnedSubscription は自分の購読を削除できることを検証する。
func TestSubscriptionService_Remove_DeletesOwnedSubscription(t *testing.T) {
	deleted := ""
	repo := &mockSubscriptionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.PushSubscription, error) {
			return &model.PushSubscription{ID: id, UserID: "user-1"}, nil
		},
		deleteFunc: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := newTestSubscriptionService(repo, &mockEndpointValidator{})

	if err := svc.Remove(context.Background(), "user-1", "sub-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if deleted != "sub-1" {
		t.Errorf("deleted = %q, want %q", deleted, "sub-1")
	}
}

// TestSubscriptionService_Remove_OtherUsersSubscription は他ユーザーの購読が
// 存在しないものとして扱われることを検証する。
func TestSubscriptionService_Remove_OtherUsersSubscription(t *testing.T) {
	repo := &mockSubscriptionRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.PushSubscription, error) {
			return &model.PushSubscription{ID: id, UserID: "user-other"}, nil
		},
		deleteFunc: func(ctx context.Context, id string) error {
			t.Fatal("other user's subscription should not be deleted")
			return nil
		},
	}
	svc := newTestSubscriptionService(repo, &mockEndpointValidator{})

	err := svc.Remove(context.Background(), "user-1", "sub-1")
	if err == nil {
		t.Fatal("expected error for other user's subscription")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSubscriptionNotFound {
		t.Errorf("error = %v, want code %s", err, model.ErrCodeSubscriptionNotFound)
	}
}
