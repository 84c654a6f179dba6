package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/manut/conan/internal/config"
	"github.com/manut/conan/internal/constants"
	"github.com/manut/conan/internal/logger"
	"github.com/manut/conan/internal/requester"
	"github.com/manut/conan/internal/telemetry"
)

// Static error definitions for better error handling.
var (
	// ErrUnexpectedStatus indicates that the remote answered with a non-success status code.
	ErrUnexpectedStatus = errors.New("remote returned an unexpected status")
	// ErrNoOutputFilename indicates that no file name could be derived from the URL.
	ErrNoOutputFilename = errors.New("cannot derive an output file name from the URL")
)

// overwriteFileOptions are the open flags for files that are always rewritten.
const overwriteFileOptions = os.O_CREATE | os.O_TRUNC | os.O_WRONLY

// Service implements the repository file operations on top of the shared requester.
type Service struct {
	// cfg contains the application configuration.
	cfg *config.Config
	// requester dispatches the HTTP calls.
	requester requester.Requester
	// fs is the filesystem used for local reads and writes.
	fs afero.Fs
}

// ServiceOption customizes the construction of a service.
type ServiceOption func(*Service)

// WithRequester injects a requester, skipping default construction entirely.
func WithRequester(r requester.Requester) ServiceOption {
	return func(s *Service) {
		s.requester = r
	}
}

// WithFs injects the filesystem used for local file operations.
func WithFs(fs afero.Fs) ServiceOption {
	return func(s *Service) {
		s.fs = fs
	}
}

// NewService creates the application service from the configuration.
// When a trace file is configured, every call is appended to it as a JSON
// line; otherwise call records go to the debug log.
func NewService(ctx context.Context, cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		cfg: cfg,
		fs:  afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.requester == nil {
		var recorder telemetry.Recorder
		if cfg.TraceFile != "" {
			recorder = telemetry.NewFileRecorder(s.fs, cfg.TraceFile)
		} else {
			recorder = telemetry.NewLogRecorder()
		}

		r, err := requester.New(ctx, cfg,
			requester.WithRecorder(recorder),
			requester.WithFs(s.fs))
		if err != nil {
			return nil, err
		}

		s.requester = r
	}

	return s, nil
}

// Download fetches a file from the remote repository and saves it under the
// output path. The file is written to a temporary .part file first and
// renamed only after the whole body arrived.
func (s *Service) Download(ctx context.Context, rawURL, outputPath string, verify bool) error {
	targetPath, err := s.resolveTargetPath(rawURL, outputPath)
	if err != nil {
		return err
	}

	resp, err := s.requester.Get(ctx, rawURL, &requester.RequestOptions{Verify: verify})
	if err != nil {
		return fmt.Errorf("failed to fetch '%s': %w", rawURL, err)
	}

	defer resp.Body.Close() //nolint:errcheck // Error on close is not critical here.

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s for '%s'", ErrUnexpectedStatus, resp.Status, rawURL)
	}

	if err = s.fs.MkdirAll(filepath.Dir(targetPath), constants.DefaultFolderPermissions); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Download to a temporary .part file first for atomic operation.
	tempFilePath := targetPath + ".part"

	f, err := s.fs.OpenFile(filepath.Clean(tempFilePath), overwriteFileOptions, constants.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	var downloadSucceeded bool

	defer func() {
		closeErr := f.Close()

		if !downloadSucceeded {
			if removeErr := s.fs.Remove(tempFilePath); removeErr != nil && !os.IsNotExist(removeErr) {
				logger.Warnf(ctx, "Failed to clean up temporary file '%s': %v (close error: %v)",
					tempFilePath, removeErr, closeErr)
			}
		}
	}()

	startTime := time.Now()

	bytesWritten, err := io.Copy(s.progressWriter(f, resp.ContentLength), resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to flush file: %w", err)
	}

	downloadSucceeded = true

	if err = s.fs.Rename(tempFilePath, targetPath); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	logger.Infof(ctx, "Downloaded '%s' (%s in %s)",
		targetPath,
		humanize.Bytes(uint64(bytesWritten)), //nolint:gosec // io.Copy never returns a negative count.
		time.Since(startTime).Round(time.Millisecond))

	return nil
}

// Upload sends a local file to the remote repository with a PUT request.
func (s *Service) Upload(ctx context.Context, rawURL, filePath string, verify bool) error {
	f, err := s.fs.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", filePath, err)
	}

	defer f.Close() //nolint:errcheck // Error on close is not critical here.

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat '%s': %w", filePath, err)
	}

	resp, err := s.requester.Put(ctx, rawURL, &requester.RequestOptions{
		Verify: verify,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload '%s': %w", filePath, err)
	}

	defer resp.Body.Close() //nolint:errcheck // Error on close is not critical here.

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s for '%s'", ErrUnexpectedStatus, resp.Status, rawURL)
	}

	logger.Infof(ctx, "Uploaded '%s' (%s) to '%s'",
		filePath,
		humanize.Bytes(uint64(info.Size())), //nolint:gosec // File sizes are never negative.
		rawURL)

	return nil
}

// Remove deletes a file from the remote repository.
// A missing remote file is not an error.
func (s *Service) Remove(ctx context.Context, rawURL string, verify bool) error {
	resp, err := s.requester.Delete(ctx, rawURL, &requester.RequestOptions{Verify: verify})
	if err != nil {
		return fmt.Errorf("failed to remove '%s': %w", rawURL, err)
	}

	defer resp.Body.Close() //nolint:errcheck // Error on close is not critical here.

	if resp.StatusCode == http.StatusNotFound {
		logger.Warnf(ctx, "'%s' does not exist on the remote, nothing to remove", rawURL)

		return nil
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s for '%s'", ErrUnexpectedStatus, resp.Status, rawURL)
	}

	logger.Infof(ctx, "Removed '%s'", rawURL)

	return nil
}

// resolveTargetPath decides where a downloaded file lands. An explicit output
// path wins, then the configured output directory joined with the name taken
// from the URL path, then the current directory.
func (s *Service) resolveTargetPath(rawURL, outputPath string) (string, error) {
	if outputPath != "" {
		return outputPath, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL '%s': %w", rawURL, err)
	}

	filename := path.Base(parsed.Path)
	if filename == "." || filename == "/" || filename == "" {
		return "", fmt.Errorf("%w: '%s'", ErrNoOutputFilename, rawURL)
	}

	return filepath.Join(s.cfg.OutputPath, filename), nil
}

// progressWriter wraps the destination with a byte progress bar when the log
// level makes terminal output useful and the size is known.
func (s *Service) progressWriter(f io.Writer, totalBytes int64) io.Writer {
	if logger.Level() > zap.InfoLevel || totalBytes <= 0 {
		return f
	}

	bar := progressbar.DefaultBytes(totalBytes, "Downloading")

	return io.MultiWriter(f, bar)
}
