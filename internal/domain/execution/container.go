package execution

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/klauspost/compress/gzip"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const (
	sandboxDir = "/sandbox"
	sandboxUID = 65534

	// compileFailedCode is the exit status the driver uses when the compile
	// step fails. A program exiting with it on its own is reported as a
	// compile error.
	compileFailedCode = 97

	logDrainTimeout = 2 * time.Second

	defaultLogBytes = 1 << 20
)

// driverScript runs inside every container. The commands come from operator
// profiles through the environment; source and stdin are files.
const driverScript = `cd ` + sandboxDir + ` || exit 1
if [ -n "${SANDBOX_COMPILE:-}" ]; then
  sh -c "$SANDBOX_COMPILE" < /dev/null || exit 97
fi
exec sh -c "$SANDBOX_RUN" < ` + sandboxDir + `/stdin
`

// dockerAPI is the part of the Docker client the backend uses.
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// ContainerConfig holds the resource limits applied to every container
type ContainerConfig struct {
	MemoryMB   int64
	CPUs       float64
	PidsLimit  int64
	PullImages bool
	// LogBytes caps what the engine's json-file driver keeps for one
	// container; defaultLogBytes when zero.
	LogBytes int64
}

// ContainerBackend runs each request in a fresh Docker container with no
// network, capped resources and every capability dropped.
type ContainerBackend struct {
	docker dockerAPI
	cfg    ContainerConfig
	logger *zap.Logger
}

// NewDockerClient connects to the engine configured by the DOCKER_* env.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// NewContainerBackend creates a backend on top of a Docker client
func NewContainerBackend(docker dockerAPI, cfg ContainerConfig, logger *zap.Logger) *ContainerBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerBackend{docker: docker, cfg: cfg, logger: logger}
}

func (b *ContainerBackend) Name() string { return BackendContainer }

// Provision ensures the image exists, creates the container and copies the
// source and stdin into it. The container is not started.
func (b *ContainerBackend) Provision(ctx context.Context, profile Profile, req Request) (Environment, error) {
	if profile.Image == "" {
		return nil, Permanent(fmt.Errorf("profile %s has no image", profile.Language))
	}
	if err := b.ensureImage(ctx, profile.Image); err != nil {
		return nil, err
	}

	file := path.Join(sandboxDir, profile.FileName)
	env := []string{"SANDBOX_RUN=" + shellJoin(expand(profile.Run, sandboxDir, file))}
	if len(profile.Compile) > 0 {
		env = append(env, "SANDBOX_COMPILE="+shellJoin(expand(profile.Compile, sandboxDir, file)))
	}

	created, err := b.docker.ContainerCreate(ctx,
		&container.Config{
			Image:           profile.Image,
			Cmd:             []string{"sh", "-c", driverScript},
			Env:             env,
			WorkingDir:      "/tmp",
			User:            fmt.Sprintf("%d:%d", sandboxUID, sandboxUID),
			NetworkDisabled: true,
			Labels: map[string]string{
				"codesync.sandbox":  "true",
				"codesync.language": profile.Language,
			},
		},
		b.hostConfig(),
		nil, nil, "",
	)
	if err != nil {
		return nil, Transient(fmt.Errorf("create container: %w", err))
	}

	ce := &containerEnv{docker: b.docker, id: created.ID, logger: b.logger}

	archive, err := buildArchive(profile.FileName, req.Source, req.Stdin)
	if err == nil {
		err = b.docker.CopyToContainer(ctx, created.ID, "/", archive, container.CopyToContainerOptions{})
	}
	if err != nil {
		ce.Reclaim(context.WithoutCancel(ctx))
		return nil, Transient(fmt.Errorf("copy source: %w", err))
	}

	b.logger.Debug("Container provisioned",
		zap.String("container_id", shortID(created.ID)),
		zap.String("image", profile.Image),
	)
	return ce, nil
}

func (b *ContainerBackend) hostConfig() *container.HostConfig {
	logBytes := b.cfg.LogBytes
	if logBytes <= 0 {
		logBytes = defaultLogBytes
	}
	hc := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Tmpfs:       map[string]string{"/tmp": "rw,nosuid,size=16m"},
		LogConfig: container.LogConfig{
			Type: "json-file",
			Config: map[string]string{
				"max-size": strconv.FormatInt(logBytes, 10),
				"max-file": "1",
			},
		},
	}
	if b.cfg.MemoryMB > 0 {
		hc.Resources.Memory = b.cfg.MemoryMB << 20
		hc.Resources.MemorySwap = hc.Resources.Memory
	}
	if b.cfg.CPUs > 0 {
		hc.Resources.NanoCPUs = int64(b.cfg.CPUs * 1e9)
	}
	if b.cfg.PidsLimit > 0 {
		pids := b.cfg.PidsLimit
		hc.Resources.PidsLimit = &pids
	}
	return hc
}

func (b *ContainerBackend) ensureImage(ctx context.Context, ref string) error {
	_, err := b.docker.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return Transient(fmt.Errorf("inspect image %s: %w", ref, err))
	}
	if !b.cfg.PullImages {
		return Permanent(fmt.Errorf("image %s not present and pulls are disabled", ref))
	}

	b.logger.Info("Pulling sandbox image", zap.String("image", ref))
	rc, err := b.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return Permanent(fmt.Errorf("pull image %s: %w", ref, err))
		}
		return Transient(fmt.Errorf("pull image %s: %w", ref, err))
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return Transient(fmt.Errorf("pull image %s: %w", ref, err))
	}
	return nil
}

type containerEnv struct {
	docker dockerAPI
	id     string
	logger *zap.Logger
	logs   io.ReadCloser
}

func (e *containerEnv) Run(ctx context.Context, stdout, stderr io.Writer) (Outcome, error) {
	if err := e.docker.ContainerStart(ctx, e.id, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, fmt.Errorf("start container: %w", err)
	}

	logs, err := e.docker.ContainerLogs(ctx, e.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, fmt.Errorf("attach logs: %w", err)
	}
	e.logs = logs

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		stdcopy.StdCopy(stdout, stderr, logs)
	}()

	statusCh, errCh := e.docker.ContainerWait(ctx, e.id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, fmt.Errorf("wait container: %w", err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return Outcome{}, fmt.Errorf("wait container: %s", status.Error.Message)
		}

		select {
		case <-drained:
		case <-time.After(logDrainTimeout):
			e.logger.Warn("Log stream did not drain", zap.String("container_id", shortID(e.id)))
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}

		code := int(status.StatusCode)
		if code == compileFailedCode {
			return Outcome{ExitCode: 1, CompileFailed: true}, nil
		}
		return Outcome{ExitCode: code}, nil
	}
}

func (e *containerEnv) Reclaim(ctx context.Context) error {
	if e.logs != nil {
		e.logs.Close()
	}
	err := e.docker.ContainerRemove(ctx, e.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", shortID(e.id), err)
	}
	return nil
}

// buildArchive packs the sandbox directory as a gzip-compressed tar, which
// the engine extracts on copy.
func buildArchive(fileName, source, stdin string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	now := time.Now()

	dir := strings.TrimPrefix(sandboxDir, "/")
	headers := []struct {
		hdr  *tar.Header
		body string
	}{
		{&tar.Header{Name: dir + "/", Typeflag: tar.TypeDir, Mode: 0o755}, ""},
		{&tar.Header{Name: dir + "/" + fileName, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(source))}, source},
		{&tar.Header{Name: dir + "/stdin", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(stdin))}, stdin},
	}
	for _, h := range headers {
		h.hdr.Uid, h.hdr.Gid = sandboxUID, sandboxUID
		h.hdr.ModTime = now
		if err := tw.WriteHeader(h.hdr); err != nil {
			return nil, err
		}
		if h.body != "" {
			if _, err := io.WriteString(tw, h.body); err != nil {
				return nil, err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// shellJoin quotes argv for sh -c. Only operator templates reach it.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
