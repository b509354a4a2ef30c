// cmd/rentbot/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/bootstrap"
	"rentbot/internal/pkg/database"
	"rentbot/internal/pkg/httpclient"
	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/mq"
	"rentbot/internal/pkg/redis"
	"rentbot/internal/pkg/tracing"
	"rentbot/internal/service/marketplace/application"
	"rentbot/internal/service/marketplace/domain"
	"rentbot/internal/service/marketplace/domain/port"
	"rentbot/internal/service/marketplace/infrastructure"
	"rentbot/internal/service/marketplace/infrastructure/adapter"
	"rentbot/internal/service/marketplace/infrastructure/memstore"
	"rentbot/internal/service/marketplace/interfaces"
	"rentbot/internal/zookeeper"
)

const serviceName = "rentbot"

// main 是应用的组装根：读取配置，创建所有依赖项，然后启动 bot 与定时任务。
func main() {
	cfg, err := bootstrap.Load(getEnv("CONFIG_PATH", "configs/rentbot.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Log.Level, serviceName)

	if err := run(bootstrap.NewHolder(cfg)); err != nil {
		logger.L().Fatal().Err(err).Msg("rentbot stopped with error")
	}
}

func run(holder *bootstrap.Holder) error {
	ctx := context.Background()
	app := bootstrap.NewApp(serviceName, holder)
	if nc := bootstrap.ConnectConfigCenter(holder); nc != nil {
		app.OnShutdown("nacos client", func(context.Context) error { nc.Close(); return nil })
	}
	cfg := holder.Current()

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}
	app.OnShutdown("tracer provider", tp.Shutdown)
	tracer := otel.Tracer(serviceName)

	store, err := openStore(ctx, app, cfg)
	if err != nil {
		return err
	}
	sessions, limiter, err := openSessions(ctx, app, cfg)
	if err != nil {
		return err
	}

	api, err := newBotAPI(cfg, tracer)
	if err != nil {
		return err
	}
	deliverer := newDeliverer(app, cfg, api)

	priority, err := infrastructure.NewCELPriorityPolicy(cfg.Moderation.PriorityRules)
	if err != nil {
		return errors.Wrap(err, "compile priority rules")
	}
	priority.Watch(holder)

	lock, err := newSweepLock(app, cfg)
	if err != nil {
		return err
	}

	// 以下配置都通过函数读取，配置中心下发后立即生效
	adLimits := func() application.AdLimits {
		c := holder.Current()
		return application.AdLimits{
			MaxPerUser: c.Ads.MaxPerUser,
			Price:      domain.PriceRange{Min: c.Ads.MinPrice, Max: c.Ads.MaxPrice},
		}
	}
	messageLimit := func() application.MessageLimit {
		c := holder.Current()
		return application.MessageLimit{Count: c.Messaging.RateLimit, Window: c.Messaging.RateWindow}
	}
	sweepSettings := func() application.SweepSettings {
		c := holder.Current()
		return application.SweepSettings{
			NotificationWindow: c.NotificationWindow(),
			StaleAfter:         c.Moderation.StaleAfter,
			AlertThreshold:     c.Moderation.AlertThreshold,
			WarnThreshold:      c.Moderation.WarnThreshold,
			ArchiveAfter:       days(c.Ads.ArchiveAfterDays),
			ReadRetention:      days(c.Cleanup.ReadNotificationsDays),
			QueryRetention:     days(c.Cleanup.StaleQueriesDays),
			AdminTelegramIDs:   c.Bot.AdminIDs,
		}
	}

	dispatcher := application.NewDispatcher(store, deliverer, tracer, application.DispatcherOptions{
		Pace:        func() time.Duration { return holder.Current().Notifications.Pace },
		UnreadLimit: cfg.Notifications.UnreadLimit,
	})
	search := application.NewSearchService(store, dispatcher, tracer, nil)
	svc := interfaces.Services{
		Users:      application.NewUserService(store, tracer, func(id int64) bool { return holder.Current().IsAdminTelegramID(id) }, nil),
		Ads:        application.NewAdService(store, priority, tracer, adLimits, nil),
		Search:     search,
		Moderation: application.NewModerationService(store, dispatcher, search, tracer, nil),
		Messages:   application.NewMessageService(store, dispatcher, limiter, tracer, messageLimit, nil),
		Feedback:   application.NewFeedbackService(store, tracer, nil),
		Dispatcher: dispatcher,
	}
	sweeps := application.NewSweepService(store, dispatcher, search, tracer, sweepSettings, nil)

	bot := interfaces.NewBot(api, svc, sessions, tracer, interfaces.BotOptions{
		Workers:     cfg.Bot.Workers,
		PollTimeout: cfg.Bot.PollTimeout,
		Limits:      adLimits,
	})

	scheduler := interfaces.NewScheduler(lock, tracer)
	jobs := interfaces.SweepJobs(sweeps, interfaces.SweepSchedules{
		NotifyInterval:  time.Duration(cfg.Notifications.CheckIntervalMinutes) * time.Minute,
		ModeratorAlerts: cfg.Moderation.AlertSchedule,
		Cleanup:         cfg.Cleanup.Schedule,
		DailyStats:      cfg.Cleanup.StatsSchedule,
		Health:          cfg.Cleanup.HealthSchedule,
	})
	for _, job := range jobs {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}
	interfaces.NewAdminHandler(sweeps, scheduler).RegisterRoutes(app.Mux)

	app.Ready(store.Ping)
	app.Go(bot.Run)
	app.Go(scheduler.Run)

	logger.L().Info().
		Str("store", cfg.Store.Driver).
		Str("transport", cfg.Notifications.Transport).
		Int("admins", len(cfg.Bot.AdminIDs)).
		Msg("✅ rentbot assembled")
	return app.Run(ctx)
}

func openStore(ctx context.Context, app *bootstrap.App, cfg *bootstrap.Config) (domain.Store, error) {
	if cfg.Store.Driver == "memory" {
		logger.L().Warn().Msg("using the in-memory store, all data is lost on restart")
		s := memstore.New()
		s.SeedCategories(cfg.Ads.Categories)
		return s, nil
	}

	db, err := database.Open(ctx, cfg.Store.DSN, database.Options{
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		LogLevel:        cfg.Log.Level,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	app.OnShutdown("mysql", func(context.Context) error { return sqlDB.Close() })

	if cfg.Store.AutoMigrate {
		if err := infrastructure.AutoMigrate(db); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
	}
	if err := infrastructure.SeedCategories(ctx, db, cfg.Ads.Categories); err != nil {
		return nil, errors.Wrap(err, "seed categories")
	}
	return infrastructure.NewGormStore(db), nil
}

// openSessions 配置了 Redis 时草稿和限流计数放在 Redis，多副本共享
func openSessions(ctx context.Context, app *bootstrap.App, cfg *bootstrap.Config) (port.SessionStore, port.RateLimiter, error) {
	if cfg.Redis.URL == "" {
		return adapter.NewMemorySessionStore(cfg.Redis.SessionTTL), adapter.NewMemoryRateLimiter(), nil
	}
	client, err := redis.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect redis")
	}
	app.OnShutdown("redis", func(context.Context) error { return client.Close() })
	app.Ready(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	return adapter.NewRedisSessionStore(client, cfg.Redis.SessionTTL), adapter.NewRedisRateLimiter(client), nil
}

func newBotAPI(cfg *bootstrap.Config, tracer trace.Tracer) (*tgbotapi.BotAPI, error) {
	if cfg.Bot.Token == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}
	if err := tgbotapi.SetLogger(botLogger{}); err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Bot.Token, tgbotapi.APIEndpoint, httpclient.NewClient(tracer, "telegram"))
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram")
	}
	api.Debug = cfg.Bot.Debug
	logger.L().Info().Str("username", api.Self.UserName).Msg("✅ Authorized on Telegram")
	return api, nil
}

// newDeliverer 选择通知的投递方式：直接调用 Bot API，或写入 Kafka 交给 notification-service
func newDeliverer(app *bootstrap.App, cfg *bootstrap.Config, api *tgbotapi.BotAPI) port.Deliverer {
	if cfg.Notifications.Transport != "kafka" {
		return adapter.NewTelegramDeliverer(api)
	}
	writer := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
	app.OnShutdown("kafka writer", func(context.Context) error { return writer.Close() })
	return adapter.NewKafkaDeliverer(writer)
}

func newSweepLock(app *bootstrap.App, cfg *bootstrap.Config) (port.SweepLock, error) {
	servers := cfg.Infra.Zookeeper.Servers
	if len(servers) == 0 {
		return port.NoopLock{}, nil
	}
	conn, err := zookeeper.Connect(servers, 10*time.Second)
	if err != nil {
		return nil, err
	}
	app.OnShutdown("zookeeper", func(context.Context) error { conn.Close(); return nil })
	return adapter.NewZKSweepLock(conn), nil
}

// botLogger 把 tgbotapi 的日志接到 zerolog
type botLogger struct{}

func (botLogger) Println(v ...interface{}) {
	logger.L().Debug().Str("component", "tgbotapi").Msg(fmt.Sprint(v...))
}

func (botLogger) Printf(format string, v ...interface{}) {
	logger.L().Debug().Str("component", "tgbotapi").Msgf(format, v...)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
