package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScriptSandbox(t *testing.T, opts Options) *Sandbox {
	t.Helper()
	sb, err := New(opts, Deps{Backends: []Backend{NewScriptBackend()}})
	require.NoError(t, err)
	t.Cleanup(sb.Close)
	return sb
}

func TestScriptPrograms(t *testing.T) {
	sb := newScriptSandbox(t, Options{})

	tests := []struct {
		name       string
		source     string
		stdin      string
		wantStatus Status
		wantStdout string
		wantCode   int
	}{
		{"print 42", "console.log(42)", "", StatusSuccess, "42\n", 0},
		{"print alias", "print('a', 1)", "", StatusSuccess, "a 1\n", 0},
		{"stdin lines", "let a = readline(); let b = readline(); console.log(Number(a) + Number(b)); console.log(readline() === undefined)", "2\n40\n", StatusSuccess, "42\ntrue\n", 0},
		{"whole input", "console.log(input.trim().split(' ').length)", "a b c", StatusSuccess, "3\n", 0},
		{"exit code", "console.log('bye'); exit(3); console.log('unreachable')", "", StatusRuntimeError, "bye\n", 3},
		{"uncaught throw", "throw new Error('boom')", "", StatusRuntimeError, "", 1},
		{"syntax error", "function (", "", StatusCompileError, "", 1},
		{"no require", "console.log(typeof require, typeof process)", "", StatusSuccess, "undefined undefined\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := sb.Execute(context.Background(), Request{
				Language: "javascript",
				Source:   tt.source,
				Stdin:    tt.stdin,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantStdout, result.Stdout)
			assert.Equal(t, tt.wantCode, result.ExitCode)
		})
	}
}

func TestScriptErrorsGoToStderr(t *testing.T) {
	sb := newScriptSandbox(t, Options{})

	result, err := sb.Execute(context.Background(), Request{
		Language: "js",
		Source:   "console.error('bad'); throw new Error('boom')",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stderr, "bad\n")
	assert.Contains(t, result.Stderr, "boom")
}

func TestScriptInfiniteLoopTimesOut(t *testing.T) {
	sb := newScriptSandbox(t, Options{Timeout: 200 * time.Millisecond})

	start := time.Now()
	result, err := sb.Execute(context.Background(), Request{Language: "js", Source: "for (;;) {}"})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, result.Status)
	assert.Less(t, time.Since(start), 200*time.Millisecond+2*time.Second)
}

func TestScriptRunawayRecursion(t *testing.T) {
	sb := newScriptSandbox(t, Options{})

	result, err := sb.Execute(context.Background(), Request{Language: "js", Source: "function f() { return f() } f()"})
	require.NoError(t, err)
	assert.Equal(t, StatusRuntimeError, result.Status)
}

func TestScriptNativeCallTimesOut(t *testing.T) {
	backend := NewScriptBackend()
	sb, err := New(Options{Timeout: 300 * time.Millisecond}, Deps{Backends: []Backend{backend}})
	require.NoError(t, err)
	t.Cleanup(sb.Close)

	// Catastrophic backtracking runs inside a single native regexp call.
	source := `console.log(/^(a+)+(?=b)b$/.test("` + strings.Repeat("a", 34) + `!"))`

	start := time.Now()
	result, err := sb.Execute(context.Background(), Request{Language: "js", Source: source})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, result.Status)
	assert.Less(t, time.Since(start), 300*time.Millisecond+2*time.Second)
	assert.Equal(t, int32(1), backend.abandoned.Load())
}

func TestScriptRefusesWorkWhileAbandonedRunsPile(t *testing.T) {
	backend := NewScriptBackend()
	backend.abandoned.Store(backend.maxAbandoned)

	_, err := backend.Provision(context.Background(), Profile{Language: "javascript"}, Request{Source: "1"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	backend.abandoned.Store(0)
	env, err := backend.Provision(context.Background(), Profile{Language: "javascript"}, Request{Source: "1"})
	require.NoError(t, err)
	require.NoError(t, env.Reclaim(context.Background()))
}

func TestScriptStringGrowthIsBounded(t *testing.T) {
	sb := newScriptSandbox(t, Options{})

	tests := []struct {
		name   string
		source string
	}{
		{"repeat", "'x'.repeat(1 << 30)"},
		{"repeat multibyte", "'abcdefgh'.repeat(1 << 28)"},
		{"padStart", "''.padStart(1 << 30, 'x')"},
		{"padEnd", "''.padEnd(1 << 30)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := sb.Execute(context.Background(), Request{Language: "js", Source: tt.source})
			require.NoError(t, err)
			assert.Equal(t, StatusRuntimeError, result.Status)
			assert.Contains(t, result.Stderr, "exceeds")
		})
	}

	result, err := sb.Execute(context.Background(), Request{
		Language: "js",
		Source:   "console.log('ab'.repeat(3), '7'.padStart(3, '0'), 'x'.padEnd(2, '.'))",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "ababab 007 x.\n", result.Stdout)
}

func TestScriptHeapGrowthIsInterrupted(t *testing.T) {
	backend := NewScriptBackend()
	backend.memoryLimit = 32 << 20
	sb, err := New(Options{Timeout: 10 * time.Second}, Deps{Backends: []Backend{backend}})
	require.NoError(t, err)
	t.Cleanup(sb.Close)

	result, err := sb.Execute(context.Background(), Request{
		Language: "js",
		Source:   "const keep = []; for (;;) { keep.push('chunk-' + keep.length + '-'.repeat(1024)) }",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRuntimeError, result.Status)
	assert.Contains(t, result.Stderr, "memory limit exceeded")
}
