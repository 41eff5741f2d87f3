// Package app собирает процесс сервиса: конфигурацию, подключения, Outbox Relay,
// подписки с цепочкой повторов, обработку dead letter, HTTP API и метрики.
// Сервис регистрирует свои подписки, маршруты и фоновые задачи, затем вызывает Run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"example.com/fulfillment/pkg/circuitbreaker"
	"example.com/fulfillment/pkg/config"
	dbpkg "example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/deadletter"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/healthcheck"
	"example.com/fulfillment/pkg/idempotency"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/leader"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/middleware"
	"example.com/fulfillment/pkg/outbox"
	"example.com/fulfillment/pkg/retry"
	"example.com/fulfillment/pkg/tracing"
)

// shutdownTimeout — сколько ждём остановки HTTP серверов и экспорта трасс.
const shutdownTimeout = 10 * time.Second

// Task — фоновая задача сервиса. Работает до отмены ctx.
type Task func(ctx context.Context) error

// taskRestart — паузы между перезапусками упавшей фоновой задачи.
var taskRestart = retry.Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}

// supervise выполняет задачу и перезапускает её после ошибки или паники.
// Задача, вернувшая nil, считается завершённой. Постоянная ошибка (retry.Permanent)
// останавливает задачу без перезапуска.
func supervise(ctx context.Context, log zerolog.Logger, name string, run Task, backoff retry.Policy) {
	err := retry.Until(ctx, backoff, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("паника в фоновой задаче: %v", r)
			}
		}()
		err = run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}, func(try int, err error) {
		metrics.TaskRestarts.WithLabelValues(name).Inc()
		log.Error().Err(err).Str("task", name).Int("restart", try).Msg("Фоновая задача упала, перезапуск")
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("task", name).Msg("Фоновая задача остановлена с ошибкой")
	}
}

type subscription struct {
	topic   string
	handler kafka.MessageHandler
}

type task struct {
	name string
	run  Task
}

// App — собранный процесс одного сервиса.
type App struct {
	Name     string
	Cfg      *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Tx       dbpkg.Transactor
	Producer *kafka.Producer
	Outbox   outbox.Repository
	Guard    *idempotency.Guard
	Registry *events.Registry
	Log      zerolog.Logger

	deadLetters     deadletter.Repository
	shutdownTracing tracing.ShutdownFunc

	subs   []subscription
	tasks  []task
	routes []func(g *gin.RouterGroup)
}

// New загружает конфигурацию и открывает подключения сервиса name.
// models — таблицы сервиса, мигрируются вместе с outbox, ledger и dead letter.
func New(name string, models ...any) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: name,
	})
	log := logger.With().Str("service", name).Logger()
	log.Info().Str("env", cfg.App.Env).Msg("Запуск сервиса")

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    name,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Environment:    cfg.App.Env,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if cfg.MySQL.AutoMigrate {
		all := append([]any{&outbox.Model{}, &idempotency.Model{}, &deadletter.Model{}}, models...)
		if err := dbpkg.Migrate(db, all...); err != nil {
			dbpkg.Close(db)
			return nil, err
		}
	}

	rdb, err := dbpkg.ConnectRedis(cfg.Redis)
	if err != nil {
		dbpkg.Close(db)
		return nil, err
	}
	log.Info().Msg("Подключение к Redis установлено")

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		_ = rdb.Close()
		dbpkg.Close(db)
		return nil, err
	}

	tx := dbpkg.NewTransactor(db)
	return &App{
		Name:            name,
		Cfg:             cfg,
		DB:              db,
		Redis:           rdb,
		Tx:              tx,
		Producer:        producer,
		Outbox:          outbox.NewRepository(db),
		Guard:           idempotency.NewGuard(tx, idempotency.NewRepository(db), name),
		Registry:        events.Default(),
		Log:             log,
		deadLetters:     deadletter.NewRepository(db),
		shutdownTracing: shutdownTracing,
	}, nil
}

// Subscribe подписывает обработчик на топик события.
// Неудачная обработка уходит по цепочке {topic}-retry-N → {topic}-dlt.
func (a *App) Subscribe(topic string, handler kafka.MessageHandler) {
	a.subs = append(a.subs, subscription{topic: topic, handler: handler})
}

// Go регистрирует фоновую задачу.
func (a *App) Go(name string, run Task) {
	a.tasks = append(a.tasks, task{name: name, run: run})
}

// Routes регистрирует маршруты API сервиса в группе /api/v1.
func (a *App) Routes(register func(g *gin.RouterGroup)) {
	a.routes = append(a.routes, register)
}

// RetryPolicy возвращает политику повторов из конфигурации.
func (a *App) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts:   a.Cfg.Retry.Attempts,
		BaseDelay:  a.Cfg.Retry.BaseDelay,
		Multiplier: a.Cfg.Retry.Multiplier,
		MaxDelay:   a.Cfg.Retry.MaxDelay,
	}
}

// SubscribedTypes возвращает типы событий, на которые подписан сервис.
func (a *App) SubscribedTypes() []string {
	out := make([]string, 0, len(a.subs))
	for _, s := range a.subs {
		out = append(out, s.topic)
	}
	return out
}

// Topics возвращает все топики, нужные сервису: топики событий и цепочки повторов подписок.
func (a *App) Topics() []string {
	seen := make(map[string]struct{})
	add := func(t string) { seen[t] = struct{}{} }

	for _, t := range events.AllTypes() {
		add(t)
	}
	for _, s := range a.subs {
		add(s.topic)
		for _, t := range retry.NewChain(s.topic, a.RetryPolicy()).Topics() {
			add(t)
		}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Run запускает все компоненты и блокирует выполнение до SIGINT/SIGTERM.
func (a *App) Run() error {
	if err := a.Registry.Validate(a.SubscribedTypes()...); err != nil {
		return err
	}

	if a.Cfg.Kafka.EnsureTopics {
		specs := kafka.Specs(a.Topics(), a.Cfg.Kafka.Partitions, a.Cfg.Kafka.ReplicationFactor)
		if err := kafka.EnsureTopics(a.Cfg.Kafka.Brokers, specs); err != nil {
			a.Log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, a.Log)

	var wg sync.WaitGroup
	start := func(name string, run Task) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			supervise(ctx, a.Log, name, run, taskRestart)
		}()
	}

	start("outbox-relay", func(ctx context.Context) error {
		a.relay().Run(ctx)
		return nil
	})

	router := retry.NewRouter(a.Producer, a.RetryPolicy())
	dlt := deadletter.NewHandler(a.deadLetters, a.Name)
	for _, s := range a.subs {
		runner := retry.NewRunner(s.topic, s.handler, router)
		start("consumer:"+s.topic, func(ctx context.Context) error {
			return runner.Run(ctx, a.openSource)
		})

		dltTopic := router.Chain(s.topic).DeadLetter
		start("dead-letter:"+dltTopic, func(ctx context.Context) error {
			src, err := a.openSource(dltTopic)
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()
			return src.Consume(ctx, dlt.Handle)
		})
	}

	for _, t := range a.tasks {
		start(t.name, t.run)
	}

	servers := a.servers()
	for _, srv := range servers {
		srv := srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.start(); err != nil {
				a.Log.Error().Err(err).Str("addr", srv.addr).Msg("Ошибка HTTP сервера")
			}
		}()
	}

	a.Log.Info().
		Int("subscriptions", len(a.subs)).
		Int("tasks", len(a.tasks)).
		Msg("Сервис запущен")

	<-ctx.Done()
	a.Log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.shutdown(shutdownCtx); err != nil {
			a.Log.Error().Err(err).Str("addr", srv.addr).Msg("Ошибка остановки HTTP сервера")
		}
	}

	wg.Wait()
	a.close(shutdownCtx)
	a.Log.Info().Msg("Сервис остановлен")
	return nil
}

// Leader возвращает блокировку лидерства фоновой задачи task среди реплик сервиса.
func (a *App) Leader(task string) *leader.Lock {
	return leader.New(a.Redis, task+":"+a.Name, a.Cfg.Relay.LockTTL)
}

func (a *App) relay() *outbox.Relay {
	opts := []outbox.RelayOption{outbox.WithBreaker(circuitbreaker.New(a.Name + "-relay"))}
	if a.Cfg.Relay.LeaderLock {
		opts = append(opts, outbox.WithLeadership(a.Leader("outbox-relay")))
	}
	return outbox.NewRelay(a.Tx, a.Outbox, a.Producer, outbox.RelayConfig{
		Service:        a.Name,
		Interval:       a.Cfg.Relay.Interval,
		BatchSize:      a.Cfg.Relay.BatchSize,
		PublishTimeout: a.Cfg.Relay.PublishTimeout,
		LockBudget:     a.Cfg.Relay.LockBudget,
	}, opts...)
}

// openSource открывает подписку группы сервиса на топик.
func (a *App) openSource(topic string) (retry.Source, error) {
	return kafka.NewConsumer(
		kafka.Config{Brokers: a.Cfg.Kafka.Brokers, ConsumerGroup: a.Cfg.Kafka.ConsumerGroup},
		topic,
		fmt.Sprintf("%s.%s", a.Cfg.Kafka.ConsumerGroup, a.Name),
	)
}

type server struct {
	addr     string
	start    func() error
	shutdown func(ctx context.Context) error
}

func (a *App) servers() []server {
	var out []server

	if a.Cfg.Metrics.Enabled {
		ms := metrics.NewServer(a.Cfg.Metrics.Addr(), a.Name, metrics.WithReadinessCheck(healthcheck.Composite(
			healthcheck.MySQL(a.DB),
			healthcheck.Redis(a.Redis),
			healthcheck.Kafka(a.Cfg.Kafka.Brokers),
		)))
		out = append(out, server{addr: a.Cfg.Metrics.Addr(), start: ms.Start, shutdown: ms.Shutdown})
	}

	if a.Cfg.Admin.Enabled {
		limit := middleware.RateLimit(a.Redis, middleware.RateLimitConfig{
			Prefix: a.Name,
			Limit:  a.Cfg.Admin.RateLimit,
			Window: a.Cfg.Admin.RateWindow,
		})
		engine := deadletter.NewRouter(a.Name, deadletter.NewService(a.deadLetters, a.Producer), a.Cfg.IsDevelopment(), limit)
		api := engine.Group("/api/v1")
		for _, register := range a.routes {
			register(api)
		}

		hs := &http.Server{
			Addr:              a.Cfg.Admin.Addr(),
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		}
		out = append(out, server{
			addr: hs.Addr,
			start: func() error {
				a.Log.Info().Str("addr", hs.Addr).Msg("HTTP API запущен")
				if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			shutdown: hs.Shutdown,
		})
	}

	return out
}

func (a *App) close(ctx context.Context) {
	if err := a.Producer.Close(); err != nil {
		a.Log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.Log.Error().Err(err).Msg("Ошибка остановки tracing")
		}
	}
	if err := a.Redis.Close(); err != nil {
		a.Log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}
	dbpkg.Close(a.DB)
}
