// Package flagx lets several components parse their own subset of os.Args
// without tripping over each other's flags.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// ConfigEnv names the environment variable consulted when no -c/-config
// flag is given.
const ConfigEnv = "GOPHDRIVE_CONFIG"

// FilterArgs keeps only the flags named in allowed, together with their
// values. Both "-f value" and "-f=value" forms are understood; a following
// token that starts with "-" is never taken as a value.
func FilterArgs(args []string, allowed []string) []string {
	known := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		known[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if known[name] {
				out = append(out, arg)
			}
			continue
		}

		if !known[arg] {
			continue
		}
		out = append(out, arg)
		if next := i + 1; next < len(args) && !strings.HasPrefix(args[next], "-") {
			out = append(out, args[next])
			i = next
		}
	}

	return out
}

// ConfigPath returns the JSON config file named by -c or -config in args,
// falling back to $GOPHDRIVE_CONFIG. Empty means no file.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	return path
}

// Positional drops every flag and its value from args and returns what is
// left, in order. It uses the same rules as FilterArgs, except that a lone
// "-" is kept as a positional.
func Positional(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-" || !strings.HasPrefix(arg, "-") {
			out = append(out, arg)
			continue
		}
		if arg == "--" {
			return append(out, args[i+1:]...)
		}
		if strings.Contains(arg, "=") {
			continue
		}
		if next := i + 1; next < len(args) && !strings.HasPrefix(args[next], "-") {
			i = next
		}
	}
	return out
}
