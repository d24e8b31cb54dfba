package sandbox

import (
	"context"
	"errors"
	"strings"

	"offline-contest/internal/domain"

	"github.com/dop251/goja"
)

// JavaScriptRuntime runs programs on a fresh goja VM per call. The VM only
// exposes console/print for output and input/readline for the test input;
// there is no require, file or process access.
type JavaScriptRuntime struct{}

func NewJavaScriptRuntime() *JavaScriptRuntime {
	return &JavaScriptRuntime{}
}

func (*JavaScriptRuntime) Language() domain.Language { return domain.LanguageJavaScript }

func (*JavaScriptRuntime) Ready() bool { return true }

func (r *JavaScriptRuntime) Run(ctx context.Context, code, input string) (Outcome, error) {
	vm := goja.New()
	stdout := &strings.Builder{}
	if err := bindJavaScriptIO(vm, stdout, input); err != nil {
		return Outcome{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	value, err := vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return Outcome{Stdout: stdout.String()}, domain.ErrTimeLimitExceeded
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return Outcome{Stdout: stdout.String()}, errors.New(exception.Value().String())
		}
		return Outcome{Stdout: stdout.String()}, err
	}
	return Outcome{Stdout: stdout.String(), Value: normalizeJavaScript(value)}, nil
}

func bindJavaScriptIO(vm *goja.Runtime, stdout *strings.Builder, input string) error {
	write := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			if s, ok := arg.Export().(string); ok {
				parts = append(parts, s)
				continue
			}
			parts = append(parts, normalizeJavaScript(arg))
		}
		stdout.WriteString(strings.Join(parts, " "))
		stdout.WriteByte('\n')
		return goja.Undefined()
	}

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(name, write); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}
	if err := vm.Set("print", write); err != nil {
		return err
	}

	reader := newLineReader(input)
	if err := vm.Set("input", input); err != nil {
		return err
	}
	return vm.Set("readline", func() goja.Value {
		line, ok := reader.line()
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(line)
	})
}

// normalizeJavaScript renders a completion value: arrays and plain objects as
// JSON, null/undefined literally, everything else through its string form.
func normalizeJavaScript(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		switch obj.ClassName() {
		case "Function":
			return v.String()
		default:
			if text, ok := jsonText(obj.Export()); ok {
				return text
			}
			return v.String()
		}
	}
	if f, ok := v.Export().(float64); ok {
		return formatNumber(f)
	}
	return v.String()
}
