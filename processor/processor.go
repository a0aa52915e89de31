// Package processor contains configurable line parsers that can be registered with a parser.Registry.
package processor

import "github.com/thisisjab/logsieve/parser"

var (
	_ parser.LineParser = (*RegexLineParser)(nil)
	_ parser.LineParser = (*JsonLineParser)(nil)
	_ parser.LineParser = (*LogfmtLineParser)(nil)
	_ parser.LineParser = (*ExecPlugin)(nil)
)

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
