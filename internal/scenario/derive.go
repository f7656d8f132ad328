package scenario

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const deriveFuncName = "derive.Derive"

// Getter reads a cell by name.
type Getter func(name string) any

// compileDerive interprets body as func(get func(string) any) any.
func compileDerive(name string, imports []string, body string) (func(Getter) (any, error), error) {
	var src strings.Builder
	src.WriteString("package derive\n\n")
	for _, imp := range imports {
		src.WriteString("import " + strconv.Quote(imp) + "\n")
	}
	src.WriteString("\nfunc Derive(get func(string) any) any {\n")
	src.WriteString(body)
	src.WriteString("\n}\n")

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("derive %q: %w", name, err)
	}
	if _, err := i.Eval(src.String()); err != nil {
		return nil, fmt.Errorf("derive %q: interpret: %w", name, err)
	}

	fn, err := i.Eval(deriveFuncName)
	if err != nil {
		return nil, fmt.Errorf("derive %q: %w", name, err)
	}
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("derive %q: Derive is not a function", name)
	}

	return func(get Getter) (any, error) {
		out := fn.Call([]reflect.Value{reflect.ValueOf(func(name string) any { return get(name) })})
		if len(out) != 1 || !out[0].IsValid() {
			return nil, nil
		}

		value := out[0].Interface()
		if err, ok := value.(error); ok {
			return nil, err
		}
		return value, nil
	}, nil
}
