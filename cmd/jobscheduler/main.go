package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	glogger "gorm.io/gorm/logger"

	"jobscheduler/config"
	"jobscheduler/internal/event"
	"jobscheduler/internal/jobs"
	"jobscheduler/internal/model"
	"jobscheduler/internal/router"
	"jobscheduler/internal/scheduler"
	"jobscheduler/internal/service"
	"jobscheduler/internal/store/mysql"
	"jobscheduler/pkg/job"
	"jobscheduler/pkg/job/gormstore"
	"jobscheduler/pkg/lockx"
	"jobscheduler/pkg/logger"
	"jobscheduler/pkg/logger/gormx"
	metrics "jobscheduler/pkg/prometheus"
	"jobscheduler/pkg/routine"
	"jobscheduler/pkg/storage"
	"jobscheduler/pkg/validator"
)

var configFile = flag.String("f", "./config/jobscheduler.yaml", "the config file")

func main() {
	flag.Parse()
	// 初始化配置
	if err := config.LoadConfig(*configFile); err != nil {
		log.Fatal(err)
	}
	if mode := strings.ToLower(viper.GetString("mode")); mode != "" {
		gin.SetMode(mode)
	}
	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func run() error {
	l := logger.New(
		logger.WithServerName(viper.GetString("service.name")),
		logger.WithLevel(viper.GetString("log.level")),
		logger.WithFormat(viper.GetString("log.format")),
		logger.WithWriter(logger.NewWriter(viper.GetBool("log.console"), viper.GetString("log.path"), logger.Rotation{
			MaxSize:    viper.GetInt("log.max_size"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAge:     viper.GetInt("log.max_age"),
		})))
	ctx := logger.With(context.Background(), l)
	defer l.Sync()

	// 初始化数据库
	db, err := newDB(ctx, l)
	if err != nil {
		return err
	}
	defer db.Close()
	if err = db.AutoMigrate(append(model.Models(), gormstore.Models()...)...); err != nil {
		return errors.WithStack(err)
	}

	engineOpts := []job.Option{
		job.WithThreadCount(viper.GetInt("scheduler.thread_count")),
		job.WithBatchSize(viper.GetInt("scheduler.batch_size")),
		job.WithBatchTimeWindow(viper.GetDuration("scheduler.batch_time_window")),
		job.WithIdleWait(viper.GetDuration("scheduler.idle_wait")),
		job.WithMisfireThreshold(viper.GetDuration("scheduler.misfire_threshold")),
	}
	if viper.GetBool("redis.enabled") {
		client := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		defer client.Close()
		// 多实例部署时串行获取触发器
		engineOpts = append(engineOpts, job.WithLocker(lockx.NewRedisLocker(client), time.Minute))
	}
	engine := job.NewEngine(gormstore.New(db.DB), engineOpts...)

	events := event.NewService(event.WithLogger(l))
	defer events.Close()

	registry := scheduler.NewRegistry()
	if err = jobs.Register(registry, jobs.WithRetention(viper.GetDuration("scheduler.job_log_retention"))); err != nil {
		return err
	}
	stores := mysql.NewFactory(db.DB)
	sched := scheduler.NewService(engine, stores, storage.NewTxManager(db.DB),
		scheduler.WithRegistry(registry),
		scheduler.WithEvents(events),
		scheduler.WithLogger(l),
		scheduler.WithMetrics(prometheus.DefaultRegisterer),
		scheduler.WithRetryDelay(viper.GetDuration("scheduler.retry_delay")),
	)

	if err = metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if err = validator.Setup(); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:    viper.GetString("http.addr"),
		Handler: router.New(service.NewService(stores, sched), l),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g := routine.NewGroup(ctx)
	// 服务启动流程
	g.Go(func(ctx context.Context) error {
		return startAction(ctx, srv, sched)
	})
	// 服务关闭流程
	g.Go(func(ctx context.Context) error {
		return shutdownAction(ctx, srv, sched)
	})
	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("server run with error", zap.Error(err))
		return err
	}
	return nil
}

func newDB(ctx context.Context, l *zap.Logger) (*storage.DB, error) {
	level := glogger.Warn
	if viper.GetString("mode") != gin.ReleaseMode {
		level = glogger.Info
	}
	return storage.New(ctx,
		storage.WithUser(viper.GetString("mysql.user")),
		storage.WithPassword(viper.GetString("mysql.password")),
		storage.WithIP(viper.GetString("mysql.ip")),
		storage.WithPort(viper.GetString("mysql.port")),
		storage.WithDatabase(viper.GetString("mysql.name")),
		storage.WithCharset(viper.GetString("mysql.charset")),
		storage.WithMaxOpenConn(viper.GetInt("mysql.max_open_conns")),
		storage.WithMaxIdleConn(viper.GetInt("mysql.max_idle_conns")),
		storage.WithMaxLifetime(time.Duration(viper.GetInt("mysql.conn_max_lifetime"))*time.Second),
		storage.WithLogger(gormx.NewLog(l, glogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		})),
	)
}

func startAction(ctx context.Context, srv *http.Server, sched *scheduler.Service) error {
	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.From(ctx).Sugar().Infof("%s run on %s, listen on %s",
		viper.GetString("service.name"), gin.Mode(), srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

const DefaultStopTime = 15 * time.Second

func shutdownAction(ctx context.Context, srv *http.Server, sched *scheduler.Service) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-quit:
	}
	newCtx, cancel := context.WithTimeout(context.Background(), DefaultStopTime)
	defer cancel()
	logger.From(ctx).Info("shutting down server...")
	err = multierr.Append(err, srv.Shutdown(newCtx))
	if sched.IsStarted() {
		// 等待执行中的任务结束
		err = multierr.Append(err, sched.Stop(newCtx))
	}
	return err
}
