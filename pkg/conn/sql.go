package conn

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"strategykit/pkg/exception"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"

	defaultConnMaxLifetime = time.Hour
)

// Dialect names a relational backend family.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Option defines connection options for a relational database.
//
// ConnString takes precedence over the individual fields. Its scheme selects
// the dialect: postgres:// and postgresql:// open PostgreSQL, sqlite:// and
// file: open SQLite.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config

	// ConnMaxLifetime recycles pooled connections. Zero means one hour for
	// PostgreSQL; SQLite connections are never recycled.
	ConnMaxLifetime time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
}

// Client wraps a relational connection pool.
type Client struct {
	opt     Option
	dialect Dialect
	db      *gorm.DB
}

// New creates a relational client from the provided options and pings it.
func New(option Option) (*Client, error) {
	dialect, connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		}
	}

	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(connString)
	default:
		dialector = postgres.Open(connString)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectSQLite:
		// one connection keeps in-memory databases alive and serializes
		// writers the way SQLite expects.
		sqlDB.SetMaxOpenConns(1)
	default:
		lifetime := option.ConnMaxLifetime
		if lifetime == 0 {
			lifetime = defaultConnMaxLifetime
		}
		sqlDB.SetConnMaxLifetime(lifetime)
		if option.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(option.MaxOpenConns)
		}
		if option.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(option.MaxIdleConns)
		}
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Client{opt: option, dialect: dialect, db: db}, nil
}

// FromURL creates a relational client from a connection url.
func FromURL(rawURL string) (*Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, exception.ErrEmptyURL
	}
	return New(Option{ConnString: rawURL})
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Dialect returns the backend family of the client.
func (c *Client) Dialect() Dialect {
	if c == nil {
		return ""
	}
	return c.dialect
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (Dialect, string, error) {
	if opt.ConnString != "" {
		return parseConnString(opt.ConnString)
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return DialectPostgres, u.String(), nil
}

func parseConnString(connString string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(connString, "postgres://"), strings.HasPrefix(connString, "postgresql://"):
		return DialectPostgres, connString, nil
	case strings.HasPrefix(connString, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(connString, "sqlite://"), nil
	case strings.HasPrefix(connString, "file:"):
		return DialectSQLite, connString, nil
	default:
		scheme, _, _ := strings.Cut(connString, "://")
		return "", "", fmt.Errorf("%w: %q", exception.ErrUnsupportedScheme, scheme)
	}
}
