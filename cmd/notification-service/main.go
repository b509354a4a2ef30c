// cmd/notification-service/main.go
package main

import (
	"context"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"rentbot/internal/pkg/bootstrap"
	"rentbot/internal/pkg/httpclient"
	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/mq"
	"rentbot/internal/pkg/tracing"
	"rentbot/internal/service/marketplace/infrastructure/adapter"
	"rentbot/internal/service/marketplace/interfaces"
)

const serviceName = "notification-service"

// notification-service 消费 bot 写入 Kafka 的投递请求并发送到 Telegram。
// bot 以 kafka 方式投递通知时部署，发送速率和重试与 bot 的更新处理隔离。
func main() {
	cfg, err := bootstrap.Load(getEnv("CONFIG_PATH", "configs/notification-service.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Log.Level, serviceName)

	if err := run(bootstrap.NewHolder(cfg)); err != nil {
		logger.L().Fatal().Err(err).Msg("notification-service stopped with error")
	}
}

func run(holder *bootstrap.Holder) error {
	cfg := holder.Current()
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if cfg.Bot.Token == "" {
		return errors.New("BOT_TOKEN is required")
	}
	app := bootstrap.NewApp(serviceName, holder)
	if nc := bootstrap.ConnectConfigCenter(holder); nc != nil {
		app.OnShutdown("nacos client", func(context.Context) error { nc.Close(); return nil })
	}

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}
	app.OnShutdown("tracer provider", tp.Shutdown)
	tracer := otel.Tracer(serviceName)

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Bot.Token, tgbotapi.APIEndpoint, httpclient.NewClient(tracer, "telegram"))
	if err != nil {
		return errors.Wrap(err, "connect telegram")
	}

	reader := mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic, cfg.Kafka.ConsumerGroup)
	app.OnShutdown("notification reader", func(context.Context) error { return reader.Close() })

	var dltWriter mq.MessageWriter
	if topic := cfg.Kafka.DeadLetterTopic; topic != "" {
		writer := mq.NewKafkaWriter(cfg.Kafka.Brokers, topic)
		app.OnShutdown("dead letter writer", func(context.Context) error { return writer.Close() })
		dltWriter = writer

		dltReader := mq.NewKafkaReader(cfg.Kafka.Brokers, topic, cfg.Kafka.ConsumerGroup+"-dlt")
		app.OnShutdown("dead letter reader", func(context.Context) error { return dltReader.Close() })
		app.Go(interfaces.NewDeadLetterLogger(dltReader, topic).Run)
	}

	consumer := interfaces.NewNotificationConsumer(reader, adapter.NewTelegramDeliverer(api), dltWriter, tracer, cfg.Kafka.NotificationTopic).
		WithPace(func() time.Duration { return holder.Current().Notifications.Pace })
	app.Go(consumer.Run)

	return app.Run(context.Background())
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
