// Package universe supplies the ordered list of tickers the update jobs work through.
package universe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ErrSourceUnavailable is returned when the ticker list cannot be read.
// A job that gets it must not fetch anything.
var ErrSourceUnavailable = errors.New("identifier source unavailable")

// Source loads the ticker universe
type Source interface {
	Load(ctx context.Context) ([]string, error)
}

// FileSource reads a newline-separated ticker file, one ticker per line
type FileSource struct {
	path string
	log  zerolog.Logger
}

// NewFileSource creates a source backed by the file at path
func NewFileSource(path string, log zerolog.Logger) *FileSource {
	return &FileSource{
		path: path,
		log:  log.With().Str("component", "universe").Logger(),
	}
}

// Path returns the backing file path
func (s *FileSource) Path() string {
	return s.path
}

// Load reads the file on every call. Order and duplicates are preserved;
// blank lines are dropped.
func (s *FileSource) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.path, err)
	}

	tickers, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, s.path, err)
	}

	s.log.Debug().Str("path", s.path).Int("tickers", len(tickers)).Msg("Loaded ticker universe")
	return tickers, nil
}

// Parse splits raw file content into tickers
func Parse(data []byte) ([]string, error) {
	tickers := make([]string, 0, bytes.Count(data, []byte("\n"))+1)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		ticker := strings.TrimSpace(scanner.Text())
		if ticker == "" {
			continue
		}
		tickers = append(tickers, ticker)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return tickers, nil
}

// Static is a fixed in-memory universe
type Static []string

// Load returns a copy of the list
func (s Static) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string(nil), s...), nil
}
