package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/thisisjab/logsieve/entity"
)

const (
	defaultClickHouseTable       = "parsed_logs"
	defaultClickHouseDialTimeout = 5 * time.Second
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type ClickHouseStorageConfig struct {
	Addr        []string      `yaml:"addr"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Table       string        `yaml:"table"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type ClickHouseStorage struct {
	conn driver.Conn
	cfg  ClickHouseStorageConfig
}

func NewClickHouseStorage(cfg ClickHouseStorageConfig) (*ClickHouseStorage, error) {
	if len(cfg.Addr) == 0 {
		return nil, errors.New("at least one clickhouse address is required")
	}

	if cfg.Table == "" {
		cfg.Table = defaultClickHouseTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse table name: %q", cfg.Table)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultClickHouseDialTimeout
	}

	return &ClickHouseStorage{cfg: cfg}, nil
}

func setupClickHouseTable(ctx context.Context, conn driver.Conn, table string) error {
	return conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			id UUID,
			source LowCardinality(String),
			parser LowCardinality(String),
			timestamp DateTime64(3),
			level LowCardinality(String),
			service LowCardinality(String),
			message String,
			raw String
		)
		ENGINE = MergeTree
		ORDER BY (source, service, timestamp, id)
		PARTITION BY toYYYYMM(timestamp)
	`)
}

func (s *ClickHouseStorage) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: s.cfg.Addr,
		Auth: clickhouse.Auth{
			Database: s.cfg.Database,
			Username: s.cfg.Username,
			Password: s.cfg.Password,
		},
		DialTimeout: s.cfg.DialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close() //nolint:errcheck
		return fmt.Errorf("failed to ping the database: %w", err)
	}

	// Since we only have one table, for now we don't need to introduce go-migrate
	if err := setupClickHouseTable(ctx, conn, s.cfg.Table); err != nil {
		conn.Close() //nolint:errcheck
		return fmt.Errorf("failed to create table %s: %w", s.cfg.Table, err)
	}

	s.conn = conn
	return nil
}

func (s *ClickHouseStorage) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *ClickHouseStorage) StoreParsedLogs(ctx context.Context, logs ...entity.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}

	if s.conn == nil {
		return errors.New("clickhouse storage is not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.cfg.Table+" (id, source, parser, timestamp, level, service, message, raw)")
	if err != nil {
		return fmt.Errorf("couldn't prepare batch: %w", err)
	}

	for _, log := range logs {
		err = batch.Append(log.ID, log.Source, log.Parser, log.Timestamp, log.Level, log.Service, log.Message, log.Raw)
		if err != nil {
			batch.Abort() //nolint:errcheck
			return fmt.Errorf("couldn't append log to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("couldn't send batch: %w", err)
	}

	return nil
}
