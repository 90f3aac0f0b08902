// Package failfast holds precondition checks for constructors. A violated
// precondition is a programming error, so these panic instead of returning.
package failfast

import (
	"fmt"
	"reflect"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// If panics if condition is false
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(&core.Error{Code: core.CodeInvalidInput, Err: fmt.Errorf("fail-fast: "+message, args...)})
	}
}

// NotNil panics if v is nil, including typed nil pointers, maps, funcs and interfaces
func NotNil(v interface{}, name string) {
	if v == nil {
		panic(&core.Error{Code: core.CodeInvalidInput, Op: name, Err: fmt.Errorf("fail-fast: %s is nil", name)})
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Interface, reflect.Chan, reflect.Slice:
		if rv.IsNil() {
			panic(&core.Error{Code: core.CodeInvalidInput, Op: name, Err: fmt.Errorf("fail-fast: %s is nil", name)})
		}
	}
}
