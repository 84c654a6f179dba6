package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/manut/conan/internal/config"
	"github.com/manut/conan/internal/requester"
	mock_requester "github.com/manut/conan/internal/requester/mocks"
)

// newTestServiceConfig returns a minimal configuration for service tests.
func newTestServiceConfig() *config.Config {
	return &config.Config{
		LogLevel:   "info",
		CacertPath: "/conan/cacert.pem",
		OutputPath: "/downloads",
	}
}

// newTestService builds a service over a mocked requester and an in-memory filesystem.
func newTestService(t *testing.T, r requester.Requester) (*Service, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()

	service, err := NewService(context.Background(), newTestServiceConfig(),
		WithRequester(r),
		WithFs(fs))
	require.NoError(t, err)

	return service, fs
}

// response builds an HTTP response with the given status and body.
func response(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode:    statusCode,
		Status:        http.StatusText(statusCode),
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(strings.NewReader(body)),
	}
}

// TestService_Download tests fetching a file and saving it atomically.
func TestService_Download(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRequester := mock_requester.NewMockRequester(ctrl)
	mockRequester.EXPECT().
		Get(gomock.Any(), "https://remote.example/pkg/zlib-1.3.tgz", gomock.Any()).
		Do(func(_ context.Context, _ string, opts *requester.RequestOptions) {
			assert.True(t, opts.Verify)
		}).
		Return(response(http.StatusOK, "package bytes"), nil)

	service, fs := newTestService(t, mockRequester)

	err := service.Download(context.Background(), "https://remote.example/pkg/zlib-1.3.tgz", "", true)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/downloads/zlib-1.3.tgz")
	require.NoError(t, err)
	assert.Equal(t, "package bytes", string(content))

	// No leftover temporary file.
	exists, err := afero.Exists(fs, "/downloads/zlib-1.3.tgz.part")
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestService_Download_ExplicitOutputPath tests that an explicit output path wins.
func TestService_Download_ExplicitOutputPath(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRequester := mock_requester.NewMockRequester(ctrl)
	mockRequester.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(response(http.StatusOK, "data"), nil)

	service, fs := newTestService(t, mockRequester)

	err := service.Download(context.Background(), "https://remote.example/pkg/zlib-1.3.tgz", "/custom/target.tgz", false)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/custom/target.tgz")
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}

// TestService_Download_UnexpectedStatus tests that a non-success status fails the download.
func TestService_Download_UnexpectedStatus(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRequester := mock_requester.NewMockRequester(ctrl)
	mockRequester.EXPECT().
		Get(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(response(http.StatusNotFound, "not found"), nil)

	service, fs := newTestService(t, mockRequester)

	err := service.Download(context.Background(), "https://remote.example/pkg/missing.tgz", "", true)
	require.ErrorIs(t, err, ErrUnexpectedStatus)

	exists, err := afero.Exists(fs, "/downloads/missing.tgz")
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestService_Download_NoFilename tests that a bare host URL without an
// explicit output path fails before any request is made.
func TestService_Download_NoFilename(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No Get expectation: the download must fail before dispatch.
	mockRequester := mock_requester.NewMockRequester(ctrl)

	service, _ := newTestService(t, mockRequester)

	err := service.Download(context.Background(), "https://remote.example/", "", true)
	require.ErrorIs(t, err, ErrNoOutputFilename)
}

// TestService_Upload tests sending a local file with a PUT request.
func TestService_Upload(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var uploaded string

	mockRequester := mock_requester.NewMockRequester(ctrl)
	mockRequester.EXPECT().
		Put(gomock.Any(), "https://remote.example/pkg/zlib-1.3.tgz", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, opts *requester.RequestOptions) (*http.Response, error) {
			body, err := io.ReadAll(opts.Body)
			require.NoError(t, err)

			uploaded = string(body)

			return response(http.StatusCreated, ""), nil
		})

	service, fs := newTestService(t, mockRequester)
	require.NoError(t, afero.WriteFile(fs, "/local/zlib-1.3.tgz", []byte("package bytes"), 0o644))

	err := service.Upload(context.Background(), "https://remote.example/pkg/zlib-1.3.tgz", "/local/zlib-1.3.tgz", true)
	require.NoError(t, err)
	assert.Equal(t, "package bytes", uploaded)
}

// TestService_Upload_MissingFile tests that a missing local file fails before dispatch.
func TestService_Upload_MissingFile(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No Put expectation: the upload must fail before dispatch.
	mockRequester := mock_requester.NewMockRequester(ctrl)

	service, _ := newTestService(t, mockRequester)

	err := service.Upload(context.Background(), "https://remote.example/pkg/zlib-1.3.tgz", "/local/missing.tgz", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")
}

// TestService_Remove tests the remote delete operation.
func TestService_Remove(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{
			name:       "removed",
			statusCode: http.StatusOK,
		},
		{
			name:       "already gone",
			statusCode: http.StatusNotFound,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockRequester := mock_requester.NewMockRequester(ctrl)
			mockRequester.EXPECT().
				Delete(gomock.Any(), "https://remote.example/pkg/zlib-1.3.tgz", gomock.Any()).
				Return(response(tt.statusCode, ""), nil)

			service, _ := newTestService(t, mockRequester)

			err := service.Remove(context.Background(), "https://remote.example/pkg/zlib-1.3.tgz", true)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnexpectedStatus)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestNewService_DefaultWiring tests default construction over an in-memory filesystem.
func TestNewService_DefaultWiring(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg := newTestServiceConfig()
	cfg.TraceFile = "/conan/trace.log"

	service, err := NewService(context.Background(), cfg, WithFs(fs))
	require.NoError(t, err)
	assert.NotNil(t, service.requester)

	// Construction materializes the CA bundle.
	exists, err := afero.Exists(fs, cfg.CacertPath)
	require.NoError(t, err)
	assert.True(t, exists)
}
