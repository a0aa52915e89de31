package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/thisisjab/logsieve/entity"
)

type FileLogSourceConfig struct {
	Name        string   `yaml:"-"`
	ParserNames []string `yaml:"-"`
	Path        string   `yaml:"path"`

	// ReadExisting emits the lines already in the file before following it.
	ReadExisting bool `yaml:"read_existing"`

	// Follow keeps watching the file for appended lines. When disabled the source stops at end of file.
	Follow bool `yaml:"follow"`
}

// FileLogSource works by watching a file for changes and reading new lines as they are written.
type FileLogSource struct {
	cfg    FileLogSourceConfig
	logger *slog.Logger
}

// NewFileLogSource creates a new FileLogSource instance.
func NewFileLogSource(logger *slog.Logger, cfg FileLogSourceConfig) (*FileLogSource, error) {
	if cfg.Name == "" {
		return nil, errors.New("source name is required")
	}

	if cfg.Path == "" {
		return nil, errors.New("file path is required")
	}

	if !cfg.ReadExisting && !cfg.Follow {
		return nil, errors.New("at least one of read_existing and follow must be enabled")
	}

	return &FileLogSource{
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (f *FileLogSource) Name() string {
	return f.cfg.Name
}

func (f *FileLogSource) ParserNames() []string {
	return f.cfg.ParserNames
}

func (f *FileLogSource) Provide(ctx context.Context, logChan chan<- entity.RawLogRecord) error {
	file, err := os.Open(f.cfg.Path)
	if err != nil {
		return fmt.Errorf("cannot open file: %w", err)
	}
	defer file.Close()

	if !f.cfg.ReadExisting {
		// Note that when file is read (when notified by fsnotify), the cursor will move to end of file
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}

	reader := bufio.NewReader(file)

	// pending holds a line that was only partially written when we reached end of file.
	var pending []byte

	readAvailable := func(flush bool) error {
		for {
			chunk, err := reader.ReadBytes('\n')
			pending = append(pending, chunk...)

			if err == io.EOF {
				if flush && len(pending) > 0 {
					if err := send(ctx, logChan, f.cfg.Name, pending); err != nil {
						return err
					}
					pending = pending[:0]
				}
				return nil
			}
			if err != nil {
				return err
			}

			if err := send(ctx, logChan, f.cfg.Name, pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}

	if !f.cfg.Follow {
		return readAvailable(true)
	}

	// The watcher is registered before reading existing content so no write is missed in between.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cannot create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(f.cfg.Path); err != nil {
		return fmt.Errorf("cannot add file to watcher: %w", err)
	}

	if err := readAvailable(false); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				f.logger.Debug("fsnotify watcher channel is closed.")
				return nil
			}
			if !event.Has(fsnotify.Write) {
				// TODO: reopen the file on rename/remove so rotated logs keep being followed.
				// Editors like vim, create a new file and rewrite all changes, when even a single line is appended.
				// This creates a new inode and file watcher will not be notified about the change, since it tracks files
				// based on the inode.
				f.logger.Debug("Received unhandled event from fsnotify.", "event", event.String())
				continue
			}

			if err := readAvailable(false); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
