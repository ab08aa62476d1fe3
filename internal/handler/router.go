package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/menteman/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック
	HealthChecker HealthChecker

	// メトリクス（nilの場合は/metricsを公開しない）
	MetricsHandler http.Handler

	// ドメインサービス
	ApplianceService ApplianceServiceInterface
	ScheduleService  ScheduleServiceInterface
	PushService      PushSubscriptionServiceInterface
	DispatchRunner   DispatchRunner
	AccountPurger    AccountPurger

	Logger *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Identity → RateLimit(General)
//
// /health、/metrics、/internal/* は認証チェーンの外に配置する
// （BFFの後段で稼働するため外部には公開されない前提）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	applianceHandler := NewApplianceHandler(deps.ApplianceService)
	scheduleHandler := NewScheduleHandler(deps.ScheduleService)
	pushHandler := NewPushHandler(deps.PushService)

	// --- 認証不要のルート ---

	// ヘルスチェック（Dockerのhealthcheckサブコマンドから叩かれる）
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheusメトリクス
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// 内部ディスパッチ起動
	if deps.DispatchRunner != nil {
		dispatchHandler := NewDispatchHandler(deps.DispatchRunner, deps.Logger)
		r.Post("/internal/dispatch/run", dispatchHandler.RunDispatch)
	}

	// 内部ユーザーデータ破棄（BFFのアカウント削除から呼ばれる）
	if deps.AccountPurger != nil {
		accountHandler := NewAccountHandler(deps.AccountPurger, deps.Logger)
		r.Delete("/internal/users/{userID}", accountHandler.PurgeUser)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 家電管理
		r.Route("/api/appliances", func(r chi.Router) {
			// POST /api/appliances - 家電登録（登録専用レート制限を追加）
			r.With(deps.RateLimiter.RegistrationMiddleware()).Post("/", applianceHandler.RegisterAppliance)
			r.Get("/", applianceHandler.ListAppliances)

			r.Delete("/{id}", applianceHandler.DeleteAppliance)
		})

		// メンテナンス予定管理
		r.Route("/api/schedules", func(r chi.Router) {
			r.Get("/", scheduleHandler.ListSchedules)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/complete", scheduleHandler.CompleteSchedule)
				r.Put("/override", scheduleHandler.OverrideSchedule)
				r.Put("/due", scheduleHandler.SetScheduleDue)
			})
		})

		// プッシュ購読管理
		r.Route("/api/push-subscriptions", func(r chi.Router) {
			r.Post("/", pushHandler.RegisterSubscription)
			r.Get("/", pushHandler.ListSubscriptions)
			r.Delete("/{id}", pushHandler.DeleteSubscription)
		})
	})

	return r
}
