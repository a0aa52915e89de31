package parser

import (
	"regexp"
	"slices"

	"github.com/thisisjab/logsieve/entity"
)

// ExampleRegexName is the name the example regex parser registers under.
const ExampleRegexName = "example-regex"

// exampleRegexPattern recognizes lines shaped like `INFO [billing] payment processed`.
var exampleRegexPattern = regexp.MustCompile(`^(?<level>\w+)\s+\[(?<service>[^\]]+)\]\s+(?<msg>.*)$`)

// ExampleRegex returns the descriptor of the example regex parser.
func ExampleRegex() Descriptor {
	return Descriptor{
		Name:  ExampleRegexName,
		Parse: parseExampleRegex,
	}
}

func parseExampleRegex(line string, _ Context) (entity.Record, bool) {
	m, ok := NamedCapture(exampleRegexPattern, line)
	if !ok {
		return entity.Record{}, false
	}

	return entity.Record{
		Level:   m["level"],
		Message: m["msg"],
		Service: m["service"],
	}, true
}

var builtins = map[string]func() Descriptor{
	ExampleRegexName: ExampleRegex,
}

// Builtin returns the descriptor of the built-in parser with the given name.
func Builtin(name string) (Descriptor, bool) {
	fn, ok := builtins[name]
	if !ok {
		return Descriptor{}, false
	}
	return fn(), true
}

// BuiltinNames returns the names of all built-in parsers, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegisterBuiltins registers every built-in parser.
func RegisterBuiltins(r *Registry) error {
	for _, name := range BuiltinNames() {
		d, _ := Builtin(name)
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
