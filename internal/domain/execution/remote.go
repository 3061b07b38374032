package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/resilience"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/tracing"
)

// RemoteBackend delegates execution to a Piston-compatible runner.
type RemoteBackend struct {
	http    *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// RemoteConfig configures the remote runner client
type RemoteConfig struct {
	BaseURL string
	Retries int
	Timeout time.Duration
}

// NewRemoteBackend creates a client for the runner at cfg.BaseURL.
func NewRemoteBackend(cfg RemoteConfig, logger *zap.Logger) *RemoteBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "codesync-sandbox/1.0").
		SetHeader("Content-Type", "application/json")

	return &RemoteBackend{
		http: client,
		breaker: resilience.New("remote-runner", resilience.Settings{
			MaxRequests: 2,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
		}),
		logger: logger,
	}
}

func (b *RemoteBackend) Name() string { return BackendRemote }

// Provision only prepares the payload. The runner owns the environment for
// the duration of one HTTP call, so there is nothing to allocate here.
func (b *RemoteBackend) Provision(ctx context.Context, profile Profile, req Request) (Environment, error) {
	if b.breaker.State() == resilience.StateOpen {
		return nil, Transient(resilience.ErrCircuitOpen)
	}

	version := profile.Version
	if version == "" {
		version = "*"
	}
	name := profile.FileName
	if name == "" {
		name = "main"
	}

	return &remoteEnv{
		backend: b,
		payload: pistonRequest{
			Language: profile.RemoteName(),
			Version:  version,
			Files:    []pistonFile{{Name: name, Content: req.Source}},
			Stdin:    req.Stdin,
		},
	}, nil
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language       string       `json:"language"`
	Version        string       `json:"version"`
	Files          []pistonFile `json:"files"`
	Stdin          string       `json:"stdin,omitempty"`
	CompileTimeout int64        `json:"compile_timeout,omitempty"`
	RunTimeout     int64        `json:"run_timeout,omitempty"`
}

type pistonStage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type pistonResponse struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Compile  *pistonStage `json:"compile,omitempty"`
	Run      pistonStage  `json:"run"`
	Message  string       `json:"message,omitempty"`
}

type remoteEnv struct {
	backend *RemoteBackend
	payload pistonRequest
}

func (e *remoteEnv) Run(ctx context.Context, stdout, stderr io.Writer) (Outcome, error) {
	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		e.payload.CompileTimeout = ms
		e.payload.RunTimeout = ms
	}

	resp, err := resilience.Execute(e.backend.breaker, func() (*pistonResponse, error) {
		var out pistonResponse
		r := e.backend.http.R().
			SetContext(ctx).
			SetBody(e.payload).
			SetResult(&out)
		tracing.InjectTraceContext(ctx, func(k, v string) { r.SetHeader(k, v) })

		res, err := r.Post("/api/v2/execute")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("remote runner: %w", err)
		}
		if res.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("remote runner returned %d: %s", res.StatusCode(), strings.TrimSpace(res.String()))
		}
		return &out, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if c := resp.Compile; c != nil {
		io.WriteString(stdout, c.Stdout)
		io.WriteString(stderr, c.Stderr)
		if code := stageCode(c); code != 0 {
			return Outcome{ExitCode: code, CompileFailed: true}, nil
		}
	}

	io.WriteString(stdout, resp.Run.Stdout)
	io.WriteString(stderr, resp.Run.Stderr)
	if resp.Run.Signal != nil && *resp.Run.Signal == "SIGKILL" && ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	return Outcome{ExitCode: stageCode(&resp.Run)}, nil
}

var signalNumbers = map[string]int{"SIGABRT": 6, "SIGKILL": 9, "SIGSEGV": 11, "SIGTERM": 15}

// stageCode follows the shell convention of 128+n for signal deaths.
func stageCode(s *pistonStage) int {
	switch {
	case s.Code != nil:
		return *s.Code
	case s.Signal != nil:
		if n, ok := signalNumbers[*s.Signal]; ok {
			return 128 + n
		}
		return 128
	default:
		return 0
	}
}

func (e *remoteEnv) Reclaim(ctx context.Context) error { return nil }
