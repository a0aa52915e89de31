package storage

import (
	"errors"

	"gopkg.in/natefinch/lumberjack.v2"
)

type FileStorageConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NewFileStorage writes JSON lines into a file that is rotated once it grows past MaxSizeMB.
func NewFileStorage(cfg FileStorageConfig) (*WriterStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("file path is required")
	}

	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}

	return NewWriterStorage(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,
	}), nil
}
