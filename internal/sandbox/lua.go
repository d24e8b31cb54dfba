package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"offline-contest/internal/domain"

	lua "github.com/yuin/gopher-lua"
)

const maxNormalizeDepth = 32

// LuaRuntime runs every program on a fresh gopher-lua state so nothing a
// run writes, through globals, _G or the library tables, is visible to the
// next one. Only the base, table, string and math libraries are opened and
// file loading helpers are removed. Load must succeed once before use.
type LuaRuntime struct {
	ready  atomic.Bool
	loadMu sync.Mutex
}

func NewLuaRuntime() *LuaRuntime {
	return &LuaRuntime{}
}

func (*LuaRuntime) Language() domain.Language { return domain.LanguageLua }

func (r *LuaRuntime) Ready() bool { return r.ready.Load() }

// Load verifies the interpreter can be built. It is idempotent; a failed
// load can be retried.
func (r *LuaRuntime) Load(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.ready.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	L, err := newLuaState()
	if err != nil {
		return err
	}
	L.Close()
	r.ready.Store(true)
	return nil
}

// Close marks the runtime unavailable.
func (r *LuaRuntime) Close() {
	r.ready.Store(false)
}

func newLuaState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open lua library %q: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L, nil
}

func (r *LuaRuntime) Run(ctx context.Context, code, input string) (Outcome, error) {
	if !r.ready.Load() {
		return Outcome{}, domain.ErrRuntimeUnavailable
	}
	L, err := newLuaState()
	if err != nil {
		return Outcome{}, err
	}
	defer L.Close()

	stdout := &strings.Builder{}
	bindLuaIO(L, stdout, input)
	L.SetGlobal("input", lua.LString(input))
	L.SetContext(ctx)

	fn, err := L.LoadString(code)
	if err != nil {
		return Outcome{}, fmt.Errorf("syntax error: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if ctx.Err() != nil {
			return Outcome{Stdout: stdout.String()}, domain.ErrTimeLimitExceeded
		}
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) && apiErr.Object != nil {
			return Outcome{Stdout: stdout.String()}, errors.New(apiErr.Object.String())
		}
		return Outcome{Stdout: stdout.String()}, err
	}
	value := L.Get(-1)
	return Outcome{Stdout: stdout.String(), Value: normalizeLua(value, 0)}, nil
}

// bindLuaIO installs print and io bindings that write to stdout and read
// from input.
func bindLuaIO(L *lua.LState, stdout *strings.Builder, input string) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			v := L.Get(i)
			if s, ok := v.(lua.LString); ok {
				parts = append(parts, string(s))
				continue
			}
			parts = append(parts, normalizeLua(v, 0))
		}
		stdout.WriteString(strings.Join(parts, "\t"))
		stdout.WriteByte('\n')
		return 0
	}))

	reader := newLineReader(input)
	ioTable := L.NewTable()
	ioTable.RawSetString("read", L.NewFunction(func(L *lua.LState) int {
		format := strings.TrimPrefix(L.OptString(1, "l"), "*")
		switch format {
		case "n":
			if f, ok := reader.number(); ok {
				L.Push(lua.LNumber(f))
			} else {
				L.Push(lua.LNil)
			}
		case "a":
			L.Push(lua.LString(reader.all()))
		default:
			if line, ok := reader.line(); ok {
				L.Push(lua.LString(line))
			} else {
				L.Push(lua.LNil)
			}
		}
		return 1
	}))
	ioTable.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
		for i := 1; i <= L.GetTop(); i++ {
			stdout.WriteString(L.Get(i).String())
		}
		return 0
	}))
	L.SetGlobal("io", ioTable)
}

// normalizeLua renders a returned value: sequences as JSON arrays, other
// tables as JSON objects, nil literally, scalars through their string form.
func normalizeLua(v lua.LValue, depth int) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case *lua.LNilType:
		return "nil"
	case lua.LNumber:
		return formatNumber(float64(val))
	case *lua.LTable:
		if text, ok := jsonText(luaToGo(val, depth)); ok {
			return text
		}
		return val.String()
	default:
		if v == lua.LNil {
			return "nil"
		}
		return v.String()
	}
}

func luaToGo(v lua.LValue, depth int) any {
	if depth > maxNormalizeDepth {
		return v.String()
	}
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		n := val.Len()
		count := 0
		val.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if count == n {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i), depth+1))
			}
			return arr
		}
		obj := make(map[string]any, count)
		val.ForEach(func(k, item lua.LValue) {
			obj[k.String()] = luaToGo(item, depth+1)
		})
		return obj
	default:
		if v == lua.LNil {
			return nil
		}
		return v.String()
	}
}
