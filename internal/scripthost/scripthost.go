// Package scripthost is the Script Host (C2): sandboxed execution of
// user-supplied scripts at the configurator, extractor and formatter
// pipeline stages. It generalizes the teacher's parser.ParseExpression
// (an expr-lang/expr compiled-program wrapper used for recipient filter
// expressions) from boolean filter evaluation into a general-purpose
// script runner bound to a `context` value, with heap and wall-clock
// limits enforced around the call.
//
// expr-lang/expr is not a JavaScript engine. Scripts are expr
// expressions rather than full JS — the closest sandboxed, dependency-
// available scripting substrate in reach of this stack. No builtin in
// this package's environment touches the filesystem or network, so the
// "no ambient I/O" requirement holds regardless of what a script
// attempts to reference.
package scripthost

import (
	"context"
	"encoding/json"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/retrack-dev/engine/internal/retrackerr"
)

// Limits bounds one script execution.
type Limits struct {
	MaxHeapBytes int64
	MaxExecutionTime time.Duration
}

// compiled caches nothing across calls: tracker scripts are small and
// edited rarely relative to run frequency, so each Execute compiles
// fresh. A cache keyed on source can be added if profiling shows it
// matters.
func compile(source string) (*vm.Program, error) {
	return expr.Compile(source, expr.AllowUndefinedVariables())
}

// Execute compiles and runs source with `context` bound to the JSON
// form of args (so scripts see the args' json field names),
// enforcing limits.MaxExecutionTime as a hard wall-clock cutoff and
// limits.MaxHeapBytes as an approximated heap ceiling (the JSON
// encoding of args and of the result stands in for the interpreter's
// live heap, since expr's bytecode VM exposes no allocation
// counter to cap against directly).
func Execute(ctx context.Context, source string, args any, limits Limits) (any, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindScriptError, err, "encode script context")
	}
	if limits.MaxHeapBytes > 0 && int64(len(encoded)) > limits.MaxHeapBytes {
		return nil, retrackerr.New(retrackerr.KindScriptError, "script context exceeds max_heap_size")
	}
	var scriptContext any
	if err := json.Unmarshal(encoded, &scriptContext); err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindScriptError, err, "decode script context")
	}

	program, err := compile(source)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.KindScriptError, err, "parse script")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if limits.MaxExecutionTime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, limits.MaxExecutionTime)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: retrackerr.Newf(retrackerr.KindScriptError, "script panicked: %v", r)}
			}
		}()
		result, err := expr.Run(program, map[string]any{"context": scriptContext})
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil && ctx.Err() != context.Canceled {
			return nil, retrackerr.Wrap(retrackerr.KindScriptError, ctx.Err(), "script execution cancelled")
		}
		return nil, retrackerr.New(retrackerr.KindScriptError, "script execution exceeded max_script_execution_time")
	case o := <-done:
		if o.err != nil {
			return nil, retrackerr.Wrap(retrackerr.KindScriptError, o.err, "script runtime error")
		}
		if limits.MaxHeapBytes > 0 {
			if encoded, err := json.Marshal(o.result); err == nil && int64(len(encoded)) > limits.MaxHeapBytes {
				return nil, retrackerr.New(retrackerr.KindScriptError, "script result exceeds max_heap_size")
			}
		}
		return o.result, nil
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
