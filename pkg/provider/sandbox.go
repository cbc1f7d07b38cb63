// SPDX-License-Identifier: Apache-2.0

// Package provider executes operator-supplied credential scripts in an
// embedded JavaScript sandbox. A script defines a provider class whose
// constructor must call commit(ok, extras?) exactly once; the host reads
// the result and a fixed set of getters afterwards.
//
// The sandbox exposes nothing of the host besides commit and console.log:
// no network, no filesystem, no shared state. Every execution runs in a
// fresh interpreter that is discarded afterwards.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Class names a provider script may define.
const (
	// LoginClassName validates credentials and resolves the user profile.
	LoginClassName = "UserLoginProvider"

	// ValidationClassName answers whether a known subject is still valid.
	ValidationClassName = "UserValidationProvider"
)

// DefaultTimeout caps a single script execution.
const DefaultTimeout = 30 * time.Second

// Sandbox errors.
var (
	// ErrTimeout is returned when the script exceeds its wall-clock cap.
	ErrTimeout = errors.New("script timed out")

	// ErrScript is returned for evaluation failures, a missing provider
	// class, or a commit contract violation.
	ErrScript = errors.New("script error")
)

// Input is the object handed to the provider constructor, e.g.
// {username, password} for login or {username} for validation.
type Input map[string]any

// Result is the outcome of one provider execution.
type Result struct {
	// Committed reports whether the constructor called commit at all.
	Committed bool

	// OK is the first argument of the commit call.
	OK bool

	// Extras is the optional second argument of the commit call.
	Extras map[string]any

	// CanLogin, IsValid, Profile and Role mirror the getters of the
	// provider instance. Getters the script does not define stay zero.
	CanLogin bool
	IsValid  bool
	Profile  map[string]any
	Role     string
}

// Run evaluates the script, constructs the named provider class with the
// given input and collects the commit outcome plus getters. A zero timeout
// uses DefaultTimeout.
func Run(ctx context.Context, script, className string, input Input, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	vm := goja.New()
	result := &Result{}

	err := vm.Set("commit", func(call goja.FunctionCall) goja.Value {
		if result.Committed {
			panic(vm.ToValue("commit called twice"))
		}
		result.Committed = true
		result.OK = call.Argument(0).ToBoolean()
		if extras := call.Argument(1); !goja.IsUndefined(extras) && !goja.IsNull(extras) {
			if m, ok := extras.Export().(map[string]any); ok {
				result.Extras = m
			}
		}
		return goja.Undefined()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScript, err)
	}

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		logger.Debugw("provider script", "console", fmt.Sprint(args...))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	// Hard wall-clock cap plus request-scoped cancellation.
	timer := time.AfterFunc(timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	if _, err := vm.RunString(script); err != nil {
		return nil, interpretError(err)
	}

	classValue := vm.Get(className)
	if classValue == nil || goja.IsUndefined(classValue) {
		return nil, fmt.Errorf("%w: class %s not defined", ErrScript, className)
	}
	ctor, ok := goja.AssertConstructor(classValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a constructor", ErrScript, className)
	}

	instance, err := ctor(nil, vm.ToValue(map[string]any(input)))
	if err != nil {
		return nil, interpretError(err)
	}

	result.CanLogin = boolProp(instance, "canLogin")
	result.IsValid = boolProp(instance, "isValid")
	result.Role = stringProp(instance, "role")
	if v := instance.Get("userProfile"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		if m, ok := v.Export().(map[string]any); ok {
			result.Profile = m
		}
	}

	return result, nil
}

// HasClass reports whether the script defines the given provider class.
// Used to route a script to the right phase without constructing it.
func HasClass(ctx context.Context, script, className string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	vm := goja.New()
	_ = vm.Set("commit", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	console := vm.NewObject()
	_ = console.Set("log", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = vm.Set("console", console)

	timer := time.AfterFunc(timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	if _, err := vm.RunString(script); err != nil {
		return false
	}
	v := vm.Get(className)
	if v == nil || goja.IsUndefined(v) {
		return false
	}
	_, ok := goja.AssertConstructor(v)
	return ok
}

func interpretError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, ErrTimeout) {
			return ErrTimeout
		}
		return fmt.Errorf("%w: interrupted: %v", ErrScript, interrupted.Value())
	}
	return fmt.Errorf("%w: %w", ErrScript, err)
}

func boolProp(obj *goja.Object, name string) bool {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	return v.ToBoolean()
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
