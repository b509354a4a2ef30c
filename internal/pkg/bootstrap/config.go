// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Service       ServiceConfig      `yaml:"service"`
	Log           LogConfig          `yaml:"log"`
	Bot           BotConfig          `yaml:"bot"`
	Store         StoreConfig        `yaml:"store"`
	Redis         RedisConfig        `yaml:"redis"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	Notifications NotificationConfig `yaml:"notifications"`
	Ads           AdsConfig          `yaml:"ads"`
	Moderation    ModerationConfig   `yaml:"moderation"`
	Cleanup       CleanupConfig      `yaml:"cleanup"`
	Messaging     MessagingConfig    `yaml:"messaging"`
	Infra         InfraConfig        `yaml:"infra"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	HTTPPort int    `yaml:"http_port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type BotConfig struct {
	Token       string  `yaml:"token"`
	AdminIDs    []int64 `yaml:"admin_ids"`
	Debug       bool    `yaml:"debug"`
	PollTimeout int     `yaml:"poll_timeout"`
	// Workers 并行处理更新的 goroutine 数，同一用户的更新总是串行
	Workers int `yaml:"workers"`
}

type StoreConfig struct {
	// Driver 取值 mysql 或 memory
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	URL        string        `yaml:"url"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	NotificationTopic string   `yaml:"notification_topic"`
	DeadLetterTopic   string   `yaml:"dead_letter_topic"`
	ConsumerGroup     string   `yaml:"consumer_group"`
}

type NotificationConfig struct {
	// Transport 取值 telegram（直接发送）或 kafka（交给 notification-service）
	Transport            string        `yaml:"transport"`
	CheckIntervalMinutes int           `yaml:"check_interval_minutes"`
	Pace                 time.Duration `yaml:"pace"`
	UnreadLimit          int           `yaml:"unread_limit"`
}

type AdsConfig struct {
	MaxPerUser       int     `yaml:"max_per_user"`
	MinPrice         float64 `yaml:"min_price"`
	MaxPrice         float64 `yaml:"max_price"`
	ArchiveAfterDays int     `yaml:"archive_after_days"`
	// Categories 在分类表为空时写入
	Categories []string `yaml:"categories"`
}

type PriorityRule struct {
	Name     string `yaml:"name"`
	When     string `yaml:"when"`
	Priority int    `yaml:"priority"`
}

type ModerationConfig struct {
	AlertSchedule  string         `yaml:"alert_schedule"`
	StaleAfter     time.Duration  `yaml:"stale_after"`
	AlertThreshold int            `yaml:"alert_threshold"`
	WarnThreshold  int            `yaml:"warn_threshold"`
	PriorityRules  []PriorityRule `yaml:"priority_rules"`
}

type CleanupConfig struct {
	Schedule              string `yaml:"schedule"`
	StatsSchedule         string `yaml:"stats_schedule"`
	HealthSchedule        string `yaml:"health_schedule"`
	ReadNotificationsDays int    `yaml:"read_notifications_days"`
	StaleQueriesDays      int    `yaml:"stale_queries_days"`
}

type MessagingConfig struct {
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Zookeeper struct {
		Servers []string `yaml:"servers"`
	} `yaml:"zookeeper"`
	Nacos NacosConfig `yaml:"nacos"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"data_id"`
}

// Default 返回内置默认值
func Default() *Config {
	cfg := &Config{}
	cfg.Service = ServiceConfig{Name: "rentbot", HTTPPort: 8080}
	cfg.Log.Level = "info"
	cfg.Bot = BotConfig{PollTimeout: 60, Workers: 8}
	cfg.Store = StoreConfig{Driver: "mysql", MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute, AutoMigrate: true}
	cfg.Redis = RedisConfig{SessionTTL: time.Hour}
	cfg.Kafka = KafkaConfig{NotificationTopic: "rentbot-notifications", DeadLetterTopic: "rentbot-notifications-dlt", ConsumerGroup: "rentbot-notification-service"}
	cfg.Notifications = NotificationConfig{Transport: "telegram", CheckIntervalMinutes: 10, Pace: 100 * time.Millisecond, UnreadLimit: 50}
	cfg.Ads = AdsConfig{
		MaxPerUser:       10,
		MinPrice:         0,
		MaxPrice:         1000000,
		ArchiveAfterDays: 30,
		Categories:       []string{"Apartments", "Rooms", "Houses", "Vehicles", "Bikes", "Tools", "Electronics", "Sports", "Other"},
	}
	cfg.Moderation = ModerationConfig{
		AlertSchedule:  "0 */6 * * *",
		StaleAfter:     24 * time.Hour,
		AlertThreshold: 5,
		WarnThreshold:  20,
	}
	cfg.Cleanup = CleanupConfig{
		Schedule:              "0 3 * * *",
		StatsSchedule:         "0 9 * * *",
		HealthSchedule:        "@every 5m",
		ReadNotificationsDays: 7,
		StaleQueriesDays:      30,
	}
	cfg.Messaging = MessagingConfig{RateLimit: 10, RateWindow: time.Minute}
	cfg.Infra.Nacos = NacosConfig{Group: "DEFAULT_GROUP", DataID: "rentbot.yaml"}
	return cfg
}

// Load 按 默认值 → yaml 文件 → .env → 环境变量 的顺序叠加配置
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.MergeYAML(data); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MergeYAML 把 YAML 文档叠加到当前配置上，未出现的字段保持不变
func (c *Config) MergeYAML(data []byte) error {
	return yaml.Unmarshal(data, c)
}

// Clone 返回深拷贝，用于热更新时替换
func (c *Config) Clone() *Config {
	out := *c
	out.Bot.AdminIDs = append([]int64(nil), c.Bot.AdminIDs...)
	out.Kafka.Brokers = append([]string(nil), c.Kafka.Brokers...)
	out.Infra.Zookeeper.Servers = append([]string(nil), c.Infra.Zookeeper.Servers...)
	out.Moderation.PriorityRules = append([]PriorityRule(nil), c.Moderation.PriorityRules...)
	out.Ads.Categories = append([]string(nil), c.Ads.Categories...)
	return &out
}

func (c *Config) Validate() error {
	if c.Ads.MinPrice < 0 {
		return errors.New("ads.min_price must not be negative")
	}
	if c.Ads.MaxPrice > 0 && c.Ads.MinPrice > c.Ads.MaxPrice {
		return errors.New("ads.min_price must not exceed ads.max_price")
	}
	if c.Notifications.CheckIntervalMinutes <= 0 {
		return errors.New("notifications.check_interval_minutes must be positive")
	}
	switch c.Store.Driver {
	case "mysql":
		if c.Store.DSN == "" {
			return errors.New("DATABASE_URL is required for the mysql store")
		}
	case "memory":
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Notifications.Transport {
	case "telegram":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS is required for the kafka transport")
		}
	default:
		return errors.Errorf("unknown notification transport %q", c.Notifications.Transport)
	}
	return nil
}

// NotificationWindow 是新广告扫描的回溯窗口，取两个周期以容忍一次错过
func (c *Config) NotificationWindow() time.Duration {
	return 2 * time.Duration(c.Notifications.CheckIntervalMinutes) * time.Minute
}

func (c *Config) IsAdminTelegramID(id int64) bool {
	for _, a := range c.Bot.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

func (c *Config) applyEnv() error {
	setString(&c.Bot.Token, "BOT_TOKEN")
	setString(&c.Store.DSN, "DATABASE_URL")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Notifications.Transport, "NOTIFICATION_TRANSPORT")
	setString(&c.Infra.Jaeger.Endpoint, "JAEGER_ENDPOINT")
	setString(&c.Infra.Nacos.ServerAddrs, "NACOS_SERVER_ADDRS")
	setString(&c.Infra.Nacos.Namespace, "NACOS_NAMESPACE")
	setString(&c.Infra.Nacos.Group, "NACOS_GROUP")
	setString(&c.Kafka.NotificationTopic, "KAFKA_NOTIFICATION_TOPIC")
	setList(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setList(&c.Infra.Zookeeper.Servers, "ZOOKEEPER_SERVERS")

	if v, ok := os.LookupEnv("ADMIN_IDS"); ok {
		ids, err := ParseIDList(v)
		if err != nil {
			return errors.Wrap(err, "ADMIN_IDS")
		}
		c.Bot.AdminIDs = ids
	}
	for key, dst := range map[string]*int{
		"NOTIFICATION_CHECK_INTERVAL": &c.Notifications.CheckIntervalMinutes,
		"MAX_ADS_PER_USER":            &c.Ads.MaxPerUser,
		"HTTP_PORT":                   &c.Service.HTTPPort,
	} {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "%s", key)
			}
			*dst = n
		}
	}
	for key, dst := range map[string]*float64{
		"MIN_PRICE": &c.Ads.MinPrice,
		"MAX_PRICE": &c.Ads.MaxPrice,
	} {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return errors.Wrapf(err, "%s", key)
			}
			*dst = f
		}
	}
	return nil
}

// ParseIDList 解析逗号分隔的 Telegram ID 列表
func ParseIDList(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

// Holder 持有当前生效的配置，并把热更新通知给订阅者
type Holder struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
}

func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg}
}

func (h *Holder) Current() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// OnChange 注册配置变更回调
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// ApplyYAML 在当前配置的副本上叠加远程下发的 YAML，校验通过后替换
func (h *Holder) ApplyYAML(data []byte) error {
	h.mu.RLock()
	next := h.cfg.Clone()
	h.mu.RUnlock()

	if err := next.MergeYAML(data); err != nil {
		return errors.Wrap(err, "parse remote config")
	}
	if err := next.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	h.cfg = next
	listeners := append(([]func(*Config))(nil), h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return nil
}
