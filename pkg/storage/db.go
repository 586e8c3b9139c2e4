package storage

import (
	"context"
	"database/sql"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type option struct {
	maxOpenConn int
	maxIdleConn int

	user     string
	password string
	ip       string
	port     string
	database string
	charset  string

	timeout         time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	connMaxLifetime time.Duration
	logger          glogger.Interface
}

type Option func(*option)

func WithMaxOpenConn(maxOpenConn int) Option {
	return func(o *option) {
		o.maxOpenConn = maxOpenConn
	}
}

func WithMaxIdleConn(maxIdleConn int) Option {
	return func(o *option) {
		o.maxIdleConn = maxIdleConn
	}
}

func WithUser(user string) Option {
	return func(o *option) {
		o.user = user
	}
}

func WithPassword(password string) Option {
	return func(o *option) {
		o.password = password
	}
}

func WithIP(ip string) Option {
	return func(o *option) {
		o.ip = ip
	}
}

func WithPort(port string) Option {
	return func(o *option) {
		o.port = port
	}
}

func WithDatabase(db string) Option {
	return func(o *option) {
		o.database = db
	}
}

func WithCharset(charset string) Option {
	return func(o *option) {
		o.charset = charset
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *option) {
		o.timeout = timeout
	}
}

func WithReadTimeout(readTimeout time.Duration) Option {
	return func(o *option) {
		o.readTimeout = readTimeout
	}
}

func WithWriteTimeout(writeTimeout time.Duration) Option {
	return func(o *option) {
		o.writeTimeout = writeTimeout
	}
}

func WithMaxLifetime(connMaxLifetime time.Duration) Option {
	return func(o *option) {
		o.connMaxLifetime = connMaxLifetime
	}
}

func WithLogger(logger glogger.Interface) Option {
	return func(o *option) {
		o.logger = logger
	}
}

// New opens the mysql DB described by opts
func New(ctx context.Context, opts ...Option) (*DB, error) {
	o := newOption(opts...)
	return Open(ctx, &mysql.Dialector{Config: &mysql.Config{
		DSN:                  o.dsn(),
		DisableWithReturning: true,
	}}, opts...)
}

// Open init DB with any dialector and checks the connection
func Open(ctx context.Context, dialector gorm.Dialector, opts ...Option) (*DB, error) {
	o := newOption(opts...)
	client, err := gorm.Open(
		dialector,
		&gorm.Config{
			NamingStrategy: schema.NamingStrategy{
				SingularTable: true, // 不考虑表名单复数变化
			},
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
			Logger: o.logger,
		},
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	// 注入context
	client = client.WithContext(ctx)

	var sqlDB *sql.DB
	if sqlDB, err = client.DB(); err != nil {
		return nil, errors.WithStack(err)
	}
	// 连接池配置
	sqlDB.SetMaxOpenConns(o.maxOpenConn)
	sqlDB.SetMaxIdleConns(o.maxIdleConn)
	sqlDB.SetConnMaxLifetime(o.connMaxLifetime) // 0 永不过期
	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &DB{DB: client}, nil
}

func newOption(opts ...Option) *option {
	o := &option{
		maxOpenConn: 100,
		maxIdleConn: 80,
		ip:          "127.0.0.1",
		port:        "3306",
		charset:     "utf8mb4",
		logger:      glogger.Discard,
	}
	for _, f := range opts {
		f(o)
	}
	return o
}

// dsn 时间统一按 UTC 解析
func (o *option) dsn() string {
	cfg := mysqldriver.NewConfig()
	cfg.User = o.user
	cfg.Passwd = o.password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(o.ip, o.port)
	cfg.DBName = o.database
	cfg.Params = map[string]string{"charset": o.charset}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = o.timeout
	cfg.ReadTimeout = o.readTimeout
	cfg.WriteTimeout = o.writeTimeout
	return cfg.FormatDSN()
}

type DB struct {
	*gorm.DB
}

func (d *DB) Close() error {
	s, err := d.DB.DB()
	if err != nil {
		return err
	}
	return s.Close()
}
