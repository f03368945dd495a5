package state

import (
	"os"
	"strings"
)

// ExpandImagePath resolves a leading %VAR% token in path using lookup.
// Only a token at the very start is considered; an unknown variable or an
// unterminated token leaves the path as it was.
func ExpandImagePath(path string, lookup func(string) (string, bool)) string {
	if !strings.HasPrefix(path, "%") {
		return path
	}
	end := strings.Index(path[1:], "%")
	if end <= 0 {
		return path
	}
	name := path[1 : end+1]
	value, ok := lookup(name)
	if !ok {
		return path
	}
	return value + path[end+2:]
}

// ExpandFromEnvironment expands path against the process environment.
func ExpandFromEnvironment(path string) string {
	return ExpandImagePath(path, os.LookupEnv)
}
