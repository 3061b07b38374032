/*
Package execution runs untrusted code snippets in isolated, throwaway
environments.

# Lifecycle

Every request moves through

	Received -> Provisioning -> Running -> {Completed, TimedOut, Failed} -> Reclaimed

Validation and language resolution happen before any resource is touched.
Provisioning goes through a circuit breaker per backend and is retried once
when the backend marks the failure as transient. Running is bounded by one
wall-clock timeout covering compile and run, and output is capped across
stdout and stderr. Reclaim always runs, on a context detached from the
caller, whatever happened before it.

# Backends

  - container: one Docker container per request (no network, resource
    limits, all capabilities dropped)
  - process: a child process group in a temporary directory
  - script: javascript in an embedded goja VM
  - remote: a Piston-compatible runner reached over HTTP

Languages are described by Profiles. The built-in set can be extended or
overridden with a YAML or TOML file, optionally reloaded on change.

# Usage

	sb, err := execution.New(execution.OptionsFromConfig(cfg.Sandbox), execution.Deps{
		Profiles: store,
		Backends: []execution.Backend{containers, execution.NewScriptBackend()},
		Logger:   log,
	})
	result, err := sb.Execute(ctx, execution.Request{Language: "python", Source: "print(42)"})
*/
package execution
