package expr

import (
	"bytes"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

type lib struct{}

func (lib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		ext.Math(),
		ext.Strings(),
		ext.Lists(),

		cel.Constant("fs.CREATE", types.IntType, types.Int(fsnotify.Create)),
		cel.Constant("fs.WRITE", types.IntType, types.Int(fsnotify.Write)),
		cel.Constant("fs.REMOVE", types.IntType, types.Int(fsnotify.Remove)),
		cel.Constant("fs.RENAME", types.IntType, types.Int(fsnotify.Rename)),
		cel.Constant("fs.CHMOD", types.IntType, types.Int(fsnotify.Chmod)),

		// Example: fs.event.has(fs.CREATE, fs.REMOVE).
		cel.Macros(cel.ReceiverVarArgMacro("has", hasMacro)),
		cel.Function("@has",
			cel.Overload("@has_int_int",
				[]*cel.Type{cel.IntType, cel.IntType}, cel.BoolType,
				cel.BinaryBinding(func(event, flag ref.Val) ref.Val {
					return hasFlags(event, flag)
				}),
			),
			cel.Overload("@has_int_list_int",
				[]*cel.Type{cel.IntType, cel.ListType(cel.IntType)}, cel.BoolType,
				cel.BinaryBinding(func(event, flags ref.Val) ref.Val {
					list, ok := flags.(traits.Lister)
					if !ok {
						return types.NewErr("has: invalid flags list")
					}

					var mask types.Int
					for it := list.Iterator(); it.HasNext() == types.True; {
						flag, ok := it.Next().(types.Int)
						if !ok {
							return types.NewErr("has: invalid flag value in list")
						}

						mask |= flag
					}

					return hasFlags(event, mask)
				}),
			),
		),

		// Example: pathBase(file) in ["go.mod", "go.sum"].
		pathFunction("pathBase", filepath.Base),
		// Example: pathDir(file).endsWith("/testdata").
		pathFunction("pathDir", filepath.Dir),
		// Example: pathExt(file) in [".go", ".tmpl"].
		pathFunction("pathExt", filepath.Ext),

		// Example: yamlPath(file, "$.kind") == "Deployment".
		cel.Function("yamlPath",
			cel.Overload("yaml_path",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.DynType,
				cel.BinaryBinding(yamlPath),
			),
		),
	}
}

func (lib) ProgramOptions() []cel.ProgramOption {
	return nil
}

//nolint:ireturn // Following CEL's function signature.
func hasMacro(meh cel.MacroExprFactory, target ast.Expr, args []ast.Expr) (ast.Expr, *cel.Error) {
	switch len(args) {
	case 0:
		return nil, meh.NewError(target.ID(), "has() requires at least one argument")
	case 1:
		return meh.NewCall("@has", target, args[0]), nil
	}

	return meh.NewCall("@has", target, meh.NewList(args...)), nil
}

//nolint:ireturn // Following CEL's function signature.
func hasFlags(event, flags ref.Val) ref.Val {
	e, ok := event.(types.Int)
	if !ok || e < 0 || e > math.MaxUint32 {
		return types.NewErr("has: invalid event value")
	}

	f, ok := flags.(types.Int)
	if !ok || f < 0 || f > math.MaxUint32 {
		return types.NewErr("has: invalid flag value")
	}

	//nolint:gosec // G115: Range checked above.
	return types.Bool(fsnotify.Op(e).Has(fsnotify.Op(f)))
}

func pathFunction(name string, fn func(string) string) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_string",
			[]*cel.Type{cel.StringType}, cel.StringType,
			cel.UnaryBinding(func(path ref.Val) ref.Val {
				s, ok := path.(types.String)
				if !ok {
					return types.NewErr("%s: invalid string value", name)
				}

				return types.String(fn(string(s)))
			}),
		),
	)
}

// yamlPath returns the value at a YAML path in a file, or null if the file
// cannot be read or the path does not resolve.
//
//nolint:ireturn // Following CEL's function signature.
func yamlPath(file, path ref.Val) ref.Val {
	fileStr, ok := file.(types.String)
	if !ok {
		return types.NewErr("yamlPath: invalid file path")
	}

	pathStr, ok := path.(types.String)
	if !ok {
		return types.NewErr("yamlPath: invalid yaml path")
	}

	logger := slog.With(
		slog.String("file", string(fileStr)),
		slog.String("yaml_path", string(pathStr)),
	)

	p, err := yaml.PathString(string(pathStr))
	if err != nil {
		logger.Debug("invalid yaml path", slog.Any("error", err))

		return types.NullValue
	}

	content, err := os.ReadFile(string(fileStr))
	if err != nil {
		logger.Debug("read yaml file", slog.Any("error", err))

		return types.NullValue
	}

	var value any

	err = p.Read(bytes.NewReader(content), &value)
	if err != nil {
		logger.Debug("read yaml path", slog.Any("error", err))

		return types.NullValue
	}

	return ToValue(value)
}

// ToValue converts a decoded YAML value to a CEL value. Unsupported types
// become null.
//
//nolint:ireturn // Following CEL's function signature.
func ToValue(value any) ref.Val {
	if value == nil {
		return types.NullValue
	}

	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.Bool:
		return types.Bool(rv.Bool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return types.Int(rv.Int())

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return types.Double(float64(u))
		}

		return types.Int(int64(u))

	case reflect.Float32, reflect.Float64:
		return types.Double(rv.Float())

	case reflect.String:
		return types.String(rv.String())

	case reflect.Slice:
		items := make([]ref.Val, rv.Len())
		for i := range items {
			items[i] = ToValue(rv.Index(i).Interface())
		}

		return types.NewDynamicList(types.DefaultTypeAdapter, items)

	case reflect.Map:
		entries := make(map[ref.Val]ref.Val, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			entries[ToValue(it.Key().Interface())] = ToValue(it.Value().Interface())
		}

		return types.NewDynamicMap(types.DefaultTypeAdapter, entries)
	}

	return types.NullValue
}
