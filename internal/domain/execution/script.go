package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/metrics"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

const (
	scriptMaxStringBytes = 16 << 20
	scriptMemoryLimit    = 256 << 20
	scriptMaxAbandoned   = 4
	scriptMemoryInterval = 20 * time.Millisecond
)

var errScriptMemory = errors.New("memory limit exceeded")

// ScriptBackend runs javascript inside an embedded goja VM. Each environment
// gets a fresh VM with no module loader, no process object and no timers.
//
// A program stuck inside a native call (a backtracking regexp, say) cannot
// be interrupted. Run returns on timeout anyway and the VM is abandoned to
// finish on its own; Provision refuses work while too many are still
// burning CPU.
type ScriptBackend struct {
	maxCallStack   int
	maxStringBytes int64
	memoryLimit    uint64
	maxAbandoned   int32

	abandoned atomic.Int32
}

// NewScriptBackend creates the in-process javascript backend
func NewScriptBackend() *ScriptBackend {
	return &ScriptBackend{
		maxCallStack:   1024,
		maxStringBytes: scriptMaxStringBytes,
		memoryLimit:    scriptMemoryLimit,
		maxAbandoned:   scriptMaxAbandoned,
	}
}

func (b *ScriptBackend) Name() string { return BackendScript }

// Provision compiles nothing yet; syntax errors surface from Run as
// compile errors so they reach the user like any other compiler output.
func (b *ScriptBackend) Provision(ctx context.Context, profile Profile, req Request) (Environment, error) {
	if n := b.abandoned.Load(); n >= b.maxAbandoned {
		return nil, Transient(fmt.Errorf("%d timed-out scripts still running", n))
	}
	name := profile.FileName
	if name == "" {
		name = "main.js"
	}
	return &scriptEnv{
		backend: b,
		name:    name,
		source:  req.Source,
		stdin:   req.Stdin,
	}, nil
}

const (
	scriptRunning int32 = iota
	scriptFinished
	scriptAbandoned
)

type scriptEnv struct {
	backend *ScriptBackend
	name    string
	source  string
	stdin   string
	vm      *goja.Runtime
	state   atomic.Int32
}

func (e *scriptEnv) Run(ctx context.Context, stdout, stderr io.Writer) (Outcome, error) {
	program, err := goja.Compile(e.name, e.source, false)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return Outcome{ExitCode: 1, CompileFailed: true}, nil
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(e.backend.maxCallStack)
	e.vm = vm
	if err := e.setupGlobals(vm, stdout, stderr); err != nil {
		return Outcome{}, err
	}

	done := make(chan error, 1)
	go func() {
		_, err := vm.RunProgram(program)
		if !e.state.CompareAndSwap(scriptRunning, scriptFinished) {
			e.backend.abandoned.Add(-1)
		}
		done <- err
	}()

	ticker := time.NewTicker(scriptMemoryInterval)
	defer ticker.Stop()
	baseline := heapBytes()

	for {
		select {
		case err := <-done:
			return e.outcome(ctx, err, stderr)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
			if e.state.CompareAndSwap(scriptRunning, scriptAbandoned) {
				e.backend.abandoned.Add(1)
			}
			return Outcome{}, ctx.Err()
		case <-ticker.C:
			if heap := heapBytes(); heap > baseline && heap-baseline > e.backend.memoryLimit {
				vm.Interrupt(errScriptMemory)
			}
		}
	}
}

func (e *scriptEnv) outcome(ctx context.Context, err error, stderr io.Writer) (Outcome, error) {
	if err == nil {
		return Outcome{ExitCode: 0}, nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case *scriptExit:
			return Outcome{ExitCode: v.code}, nil
		case error:
			if errors.Is(v, errScriptMemory) {
				fmt.Fprintln(stderr, "RangeError: "+errScriptMemory.Error())
				return Outcome{ExitCode: 1}, nil
			}
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, err
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		fmt.Fprintln(stderr, exception.String())
		return Outcome{ExitCode: 1}, nil
	}
	fmt.Fprintln(stderr, err.Error())
	return Outcome{ExitCode: 1}, nil
}

// heapBytes reads the live heap of the whole process. Concurrent scripts
// share it, so the limit is a ceiling on growth during a run, not an exact
// per-program account.
func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// scriptExit is the interrupt value used by exit() to stop the program.
type scriptExit struct{ code int }

func (e *scriptEnv) setupGlobals(vm *goja.Runtime, stdout, stderr io.Writer) error {
	for _, name := range []string{"require", "process", "module", "exports", "setTimeout", "setInterval"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	_ = console.Set("log", printer(stdout))
	_ = console.Set("info", printer(stdout))
	_ = console.Set("warn", printer(stderr))
	_ = console.Set("error", printer(stderr))
	if err := vm.Set("console", console); err != nil {
		return err
	}
	if err := vm.Set("print", printer(stdout)); err != nil {
		return err
	}
	if err := e.limitStrings(vm); err != nil {
		return err
	}

	lines := strings.Split(e.stdin, "\n")
	next := 0
	if err := vm.Set("input", e.stdin); err != nil {
		return err
	}
	if err := vm.Set("readline", func() goja.Value {
		if next >= len(lines) || (next == len(lines)-1 && lines[next] == "") {
			return goja.Undefined()
		}
		line := strings.TrimSuffix(lines[next], "\r")
		next++
		return vm.ToValue(line)
	}); err != nil {
		return err
	}

	return vm.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := 0
		if len(call.Arguments) > 0 {
			code = int(call.Argument(0).ToInteger())
		}
		vm.Interrupt(&scriptExit{code: code})
		return goja.Undefined()
	})
}

// limitStrings wraps the String methods that build a large result from a
// small input in one native call, where neither the interrupt nor the heap
// check can reach them.
func (e *scriptEnv) limitStrings(vm *goja.Runtime) error {
	proto := vm.Get("String").ToObject(vm).Get("prototype").ToObject(vm)
	limit := e.backend.maxStringBytes

	guard := func(method string, size func(this goja.Value, args []goja.Value) int64) error {
		original, ok := goja.AssertFunction(proto.Get(method))
		if !ok {
			return fmt.Errorf("String.prototype.%s is not a function", method)
		}
		return proto.Set(method, func(call goja.FunctionCall) goja.Value {
			if size(call.This, call.Arguments) > limit {
				panic(vm.NewGoError(fmt.Errorf("String.prototype.%s: result exceeds %d bytes", method, limit)))
			}
			v, err := original(call.This, call.Arguments...)
			if err != nil {
				panic(err)
			}
			return v
		})
	}

	repeated := func(this goja.Value, args []goja.Value) int64 {
		if len(args) == 0 {
			return 0
		}
		count := args[0].ToInteger()
		n := int64(len(this.String()))
		if n == 0 || count <= 0 {
			return 0
		}
		if count > limit/n+1 {
			return limit + 1
		}
		return n * count
	}
	padded := func(this goja.Value, args []goja.Value) int64 {
		if len(args) == 0 {
			return 0
		}
		return args[0].ToInteger()
	}

	for method, size := range map[string]func(goja.Value, []goja.Value) int64{
		"repeat":   repeated,
		"padStart": padded,
		"padEnd":   padded,
	} {
		if err := guard(method, size); err != nil {
			return err
		}
	}
	return nil
}

func printer(w io.Writer) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		io.WriteString(w, strings.Join(parts, " ")+"\n")
		return goja.Undefined()
	}
}

// Reclaim drops the VM. An abandoned VM keeps its interrupt set so it stops
// at the next instruction it reaches.
func (e *scriptEnv) Reclaim(ctx context.Context) error {
	e.vm = nil
	return nil
}
