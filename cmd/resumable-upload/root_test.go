package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/internal/testserver"
	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	var values []string
	for k, v := range repo.envVars {
		values = append(values, k+"="+v)
	}
	return values
}

func newTestApp(t *testing.T) (*app, *testserver.Server) {
	t.Helper()

	server := testserver.New()
	server.Token = "secret"
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	envRepo := fakeEnvRepo{envVars: map[string]string{
		"UPLOAD_API_URL":   httpServer.URL,
		"UPLOAD_API_TOKEN": "secret",
	}}
	a := &app{logger: log.NewLogger()}
	require.NoError(t, a.init(context.Background(), envRepo, rootFlags{chunkSize: "10"}))
	return a, server
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestApp_Init(t *testing.T) {
	a := &app{logger: log.NewLogger()}
	err := a.init(context.Background(), fakeEnvRepo{envVars: map[string]string{}}, rootFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPLOAD_API_URL")

	a = &app{logger: log.NewLogger()}
	err = a.init(context.Background(), fakeEnvRepo{envVars: map[string]string{}}, rootFlags{
		apiURL:    "http://localhost:3000",
		chunkSize: "8MiB",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8*1024*1024), a.chunkSize)
	assert.Equal(t, "http://localhost:3000", a.config.DownloadURL)
	assert.IsType(t, httpStore{}, a.store)
	assert.Nil(t, a.tracker)
}

func TestApp_UploadListDownload(t *testing.T) {
	a, server := newTestApp(t)
	ctx := context.Background()
	dir := t.TempDir()
	content := []byte("0123456789abcdefghijklmno")
	path := writeFile(t, dir, "data.bin", content)

	require.NoError(t, a.uploadFiles(ctx, []string{path}))

	finished, err := a.store.ListFinished(ctx)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	id := finished[0].ID
	assert.Equal(t, "data.bin", finished[0].FileName)
	assert.Equal(t, 3, server.Requests("chunk"))

	require.NoError(t, a.list(ctx, true, true))

	dest := filepath.Join(dir, "out.bin")
	require.NoError(t, a.download(ctx, id, downloadFlags{output: dest}))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestApp_ResumeWithReselect(t *testing.T) {
	a, server := newTestApp(t)
	ctx := context.Background()
	dir := t.TempDir()
	content := []byte("0123456789abcdefghijklmno")
	path := writeFile(t, dir, "data.bin", content)
	other := writeFile(t, dir, "other.bin", []byte("not it"))

	server.RejectChunk(1, 1)
	require.Error(t, a.uploadFiles(ctx, []string{path}))

	unfinished, err := a.store.ListUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	id := unfinished[0].ID
	assert.Equal(t, []int{0}, server.Chunks(id))

	err = a.resume(ctx, id, []string{other})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.bin")

	require.NoError(t, a.resume(ctx, id, []string{other, path}))

	stored, ok := server.Content(id)
	require.True(t, ok)
	assert.Equal(t, content, stored)
	// chunk 0 is never sent again
	assert.Equal(t, 4, server.Requests("chunk"))

	_, err = a.findUnfinished(ctx, id)
	require.Error(t, err)
}

// blockingBackend holds every PutChunk until release is closed.
type blockingBackend struct {
	putting chan struct{}
	release chan struct{}
}

func (b blockingBackend) InitSession(_ context.Context, fileName string, totalSize int64) (session.Session, error) {
	return session.New("other", fileName, totalSize)
}

func (b blockingBackend) UploadedChunks(context.Context, string) ([]int, error) {
	return []int{}, nil
}

func (b blockingBackend) PutChunk(context.Context, string, int, []byte) error {
	b.putting <- struct{}{}
	<-b.release
	return nil
}

func (b blockingBackend) CompleteSession(context.Context, string) error {
	return nil
}

func TestApp_ReselectReportsSelectionError(t *testing.T) {
	a := &app{logger: log.NewLogger()}
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "data.bin", []byte("0123456789abcdefghijklmno"))

	backend := blockingBackend{putting: make(chan struct{}), release: make(chan struct{})}
	controller := upload.NewController(backend, upload.Config{ChunkSize: 10}, a.logger)

	// stage the session with nothing selected
	s := session.Session{ID: "s1", FileName: "data.bin", TotalSize: 25}
	decision, err := controller.ResumeSession(ctx, s)
	require.NoError(t, err)
	require.Equal(t, upload.ActionAwaitReselect, decision.Action)

	// keep the controller busy with another transfer
	done := make(chan error, 1)
	go func() {
		done <- controller.Start(ctx, chunk.NewBytesSource("busy.bin", []byte("x")))
	}()
	<-backend.putting

	open := func(p string) (*chunk.FileSource, error) {
		source, err := chunk.OpenFile(p)
		if err == nil {
			t.Cleanup(func() { _ = source.Close() })
		}
		return source, err
	}
	err = a.reselect(ctx, controller, s, []string{path}, open, new(atomic.Bool))

	assert.ErrorIs(t, err, upload.ErrBusy)
	_, pending := controller.Reconciler().Pending()
	assert.True(t, pending)

	close(backend.release)
	require.NoError(t, <-done)
}
