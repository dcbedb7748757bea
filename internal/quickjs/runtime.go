//go:build !v8

package quickjs

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cryguy/nexo/internal/core"
	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// qjsRuntime implements core.JSRuntime for a single QuickJS VM.
type qjsRuntime struct {
	vm *quickjs.VM

	// Cached from VM internals for direct C API access. Zero when the
	// wrapper's unexported layout could not be read.
	tls      *libc.TLS
	cRuntime uintptr
}

var _ core.JSRuntime = (*qjsRuntime)(nil)

func newRuntime(vm *quickjs.VM) *qjsRuntime {
	r := &qjsRuntime{vm: vm}
	if err := r.tryExtractVMInternals(); err != nil {
		r.tls, r.cRuntime = nil, 0
	}
	return r
}

// Eval evaluates JavaScript and discards the result.
func (r *qjsRuntime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *qjsRuntime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Multi-value Go returns (T, error) are unwrapped: on success returns T,
// on error throws a TypeError. The QuickJS Go wrapper returns multi-value
// results as JS arrays.
func (r *qjsRuntime) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, name, rawName)
	return r.Eval(wrapJS)
}

// SetGlobal sets a global property on the VM's global object.
func (r *qjsRuntime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// MemoryUsed reports the bytes currently allocated by the VM's runtime,
// or zero when the C runtime pointer is unavailable. The usage struct is
// written by C code, so it lives in C memory rather than on the Go stack.
func (r *qjsRuntime) MemoryUsed() (used uint64) {
	if r.tls == nil || r.cRuntime == 0 {
		return 0
	}
	defer func() {
		if p := recover(); p != nil {
			used = 0
		}
	}()
	size := unsafe.Sizeof(lib.TJSMemoryUsage{})
	buf := libc.Xcalloc(r.tls, 1, libc.Tsize_t(size))
	if buf == 0 {
		return 0
	}
	defer libc.Xfree(r.tls, buf)

	lib.XJS_ComputeMemoryUsage(r.tls, r.cRuntime, buf)
	n := (*lib.TJSMemoryUsage)(unsafe.Pointer(buf)).Fmemory_used_size
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// tryExtractVMInternals uses reflect+unsafe to cache the VM's tls and
// JSRuntime pointer.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func (r *qjsRuntime) tryExtractVMInternals() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic extracting VM internals: %v", p)
		}
	}()

	rtField, ok := reflect.TypeOf(r.vm).Elem().FieldByName("runtime")
	if !ok {
		return fmt.Errorf("quickjs.VM missing 'runtime' field")
	}
	rt := *(*unsafe.Pointer)(unsafe.Add(unsafe.Pointer(r.vm), rtField.Offset))
	if rt == nil {
		return fmt.Errorf("runtime pointer is nil")
	}

	r.cRuntime = *(*uintptr)(rt)
	if r.cRuntime == 0 {
		return fmt.Errorf("JSRuntime is nil")
	}
	r.tls = *(**libc.TLS)(unsafe.Add(rt, unsafe.Sizeof(uintptr(0))))
	if r.tls == nil {
		return fmt.Errorf("TLS is nil")
	}
	return nil
}
