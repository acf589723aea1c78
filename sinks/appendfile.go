package sinks

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// syncFile is the part of *os.File an appendFile writes through
type syncFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Close() error
	Name() string
}

// appendFile buffers appends to a file. Data only counts once Sync returns;
// when a write or sync fails the file is cut back to the last synced size
// and the buffer is reset, so the records of a failed run leave nothing
// behind and the next run starts clean.
type appendFile struct {
	file    syncFile
	w       *bufio.Writer
	synced  int64
	pending int64
	logger  zerolog.Logger
}

// openAppend opens path for appending, creating it and its parent
// directories when needed
func openAppend(path string, logger zerolog.Logger) (*appendFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Err(err).Str("directory", dir).Msg("Failed to create parent directories")
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Err(err).Str("file_path", path).Msg("Failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	logger.Trace().Str("file_path", path).Int64("size", info.Size()).Msg("Opened file for appending")
	return &appendFile{file: file, w: bufio.NewWriter(file), synced: info.Size(), logger: logger}, nil
}

// Size is the number of bytes known to be on disk
func (a *appendFile) Size() int64 { return a.synced }

func (a *appendFile) Write(p []byte) (int, error) {
	n, err := a.w.Write(p)
	a.pending += int64(n)
	if err != nil {
		a.rollback(err)
	}
	return n, err
}

func (a *appendFile) WriteString(s string) (int, error) {
	return a.Write([]byte(s))
}

// Sync writes out the buffer and fsyncs the file
func (a *appendFile) Sync() error {
	if err := a.w.Flush(); err != nil {
		a.rollback(err)
		return err
	}
	if err := a.file.Sync(); err != nil {
		a.rollback(err)
		return err
	}
	a.synced += a.pending
	a.pending = 0
	return nil
}

func (a *appendFile) rollback(cause error) {
	a.logger.Warn().Err(cause).Str("file_path", a.file.Name()).Int64("size", a.synced).
		Msg("Discarding unsynced writes")
	a.w.Reset(a.file)
	a.pending = 0
	if err := a.file.Truncate(a.synced); err != nil {
		a.logger.Err(err).Str("file_path", a.file.Name()).Msg("Failed to truncate file")
	}
}

func (a *appendFile) Close() error {
	a.logger.Debug().Str("file_path", a.file.Name()).Msg("Closing file sink")
	if err := a.Sync(); err != nil {
		a.file.Close()
		return err
	}
	if err := a.file.Close(); err != nil {
		a.logger.Err(err).Msg("Failed to close file")
		return err
	}
	return nil
}
