package execution

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/klauspost/compress/gzip"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocker records calls and plays back a scripted container run.
type fakeDocker struct {
	mu sync.Mutex

	haveImage bool
	pulled    []string
	created   *container.Config
	host      *container.HostConfig
	archive   []byte
	started   bool
	removed   []string

	stdout   string
	stderr   string
	exitCode int64
	hang     bool
}

func (f *fakeDocker) ImageInspect(ctx context.Context, ref string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.haveImage {
		return image.InspectResponse{}, errdefs.NotFound(errors.New("no such image"))
	}
	return image.InspectResponse{ID: "sha256:abc"}, nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	f.haveImage = true
	return io.NopCloser(bytes.NewBufferString(`{"status":"done"}`)), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created, f.host = cfg, host
	return container.CreateResponse{ID: "0123456789abcdef0123"}, nil
}

func (f *fakeDocker) CopyToContainer(ctx context.Context, id, dst string, content io.Reader, _ container.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	f.mu.Lock()
	f.archive = data
	f.mu.Unlock()
	return err
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, id string, _ container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	io.WriteString(stdcopy.NewStdWriter(&buf, stdcopy.Stdout), f.stdout)
	io.WriteString(stdcopy.NewStdWriter(&buf, stdcopy.Stderr), f.stderr)
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if !f.hang {
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.Force {
		f.removed = append(f.removed, id)
	}
	return nil
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(body)
		assert.Equal(t, sandboxUID, hdr.Uid)
	}
	return files
}

func newContainerSandbox(t *testing.T, docker *fakeDocker, cfg ContainerConfig, opts Options) *Sandbox {
	t.Helper()
	sb, err := New(opts, Deps{Backends: []Backend{NewContainerBackend(docker, cfg, nil)}})
	require.NoError(t, err)
	t.Cleanup(sb.Close)
	return sb
}

func TestContainerRun(t *testing.T) {
	docker := &fakeDocker{haveImage: true, stdout: "42\n", stderr: "warn\n"}
	sb := newContainerSandbox(t, docker, ContainerConfig{MemoryMB: 128, CPUs: 0.5, PidsLimit: 32}, Options{})

	result, err := sb.Execute(context.Background(), Request{Language: "python", Source: "print(42)", Stdin: "x"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "42\n", result.Stdout)
	assert.Equal(t, "warn\n", result.Stderr)

	assert.Equal(t, "python:3.12-slim", docker.created.Image)
	assert.True(t, docker.created.NetworkDisabled)
	assert.Equal(t, "65534:65534", docker.created.User)
	assert.Contains(t, docker.created.Env, "SANDBOX_RUN='python3' '-u' '/sandbox/main.py'")

	assert.Equal(t, container.NetworkMode("none"), docker.host.NetworkMode)
	assert.Equal(t, []string{"ALL"}, []string(docker.host.CapDrop))
	assert.Contains(t, docker.host.SecurityOpt, "no-new-privileges")
	assert.Equal(t, int64(128<<20), docker.host.Resources.Memory)
	assert.Equal(t, int64(5e8), docker.host.Resources.NanoCPUs)
	require.NotNil(t, docker.host.Resources.PidsLimit)
	assert.Equal(t, int64(32), *docker.host.Resources.PidsLimit)
	assert.Equal(t, "json-file", docker.host.LogConfig.Type)
	assert.Equal(t, "1048576", docker.host.LogConfig.Config["max-size"])
	assert.Equal(t, "1", docker.host.LogConfig.Config["max-file"])

	files := readArchive(t, docker.archive)
	assert.Equal(t, "print(42)", files["sandbox/main.py"])
	assert.Equal(t, "x", files["sandbox/stdin"])

	assert.Equal(t, []string{"0123456789abcdef0123"}, docker.removed)
}

func TestContainerLogCapFollowsConfig(t *testing.T) {
	docker := &fakeDocker{haveImage: true, stdout: "ok\n"}
	sb := newContainerSandbox(t, docker, ContainerConfig{LogBytes: 256 << 10}, Options{})

	_, err := sb.Execute(context.Background(), Request{Language: "python", Source: "print('ok')"})
	require.NoError(t, err)
	assert.Equal(t, "262144", docker.host.LogConfig.Config["max-size"])
}

func TestContainerCompileSentinel(t *testing.T) {
	docker := &fakeDocker{haveImage: true, stderr: "main.cpp:1:1: error", exitCode: compileFailedCode}
	sb := newContainerSandbox(t, docker, ContainerConfig{}, Options{})

	result, err := sb.Execute(context.Background(), Request{Language: "cpp", Source: "int main( {"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompileError, result.Status)
	assert.Contains(t, docker.created.Env, "SANDBOX_COMPILE='g++' '-O2' '-std=c++17' '-o' '/sandbox/main' '/sandbox/main.cpp'")
}

func TestContainerRuntimeError(t *testing.T) {
	docker := &fakeDocker{haveImage: true, exitCode: 1}
	sb := newContainerSandbox(t, docker, ContainerConfig{}, Options{})

	result, err := sb.Execute(context.Background(), Request{Language: "java", Source: "class Main {}"})
	require.NoError(t, err)
	assert.Equal(t, StatusRuntimeError, result.Status)
	assert.Equal(t, 1, result.ExitCode)
}

func TestContainerTimeoutRemovesContainer(t *testing.T) {
	docker := &fakeDocker{haveImage: true, hang: true}
	sb := newContainerSandbox(t, docker, ContainerConfig{}, Options{Timeout: 50 * time.Millisecond})

	result, err := sb.Execute(context.Background(), Request{Language: "python", Source: "while True: pass"})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, result.Status)
	assert.Len(t, docker.removed, 1)
}

func TestContainerPullsMissingImage(t *testing.T) {
	docker := &fakeDocker{}
	sb := newContainerSandbox(t, docker, ContainerConfig{PullImages: true}, Options{})

	_, err := sb.Execute(context.Background(), Request{Language: "python", Source: "pass"})
	require.NoError(t, err)
	assert.Equal(t, []string{"python:3.12-slim"}, docker.pulled)
}

func TestContainerMissingImageWithoutPullIsPermanent(t *testing.T) {
	docker := &fakeDocker{}
	backend := NewContainerBackend(docker, ContainerConfig{PullImages: false}, nil)

	profile, _ := mustDefaultStore(t).Resolve("python")
	_, err := backend.Provision(context.Background(), profile, Request{Source: "pass"})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Nil(t, docker.created)
}

func TestShellJoin(t *testing.T) {
	assert.Equal(t, `'echo' 'it'\''s'`, shellJoin([]string{"echo", "it's"}))
	assert.Equal(t, `'a b' '$HOME'`, shellJoin([]string{"a b", "$HOME"}))
}

func mustDefaultStore(t *testing.T) *ProfileStore {
	t.Helper()
	store, err := NewProfileStore(DefaultProfiles())
	require.NoError(t, err)
	return store
}
