package remote

import "strings"

// ShellQuote returns s single-quoted for safe interpolation into a
// remote shell command line. Embedded single quotes are closed, escaped
// and reopened ('\''), the only quoting POSIX sh honors inside single
// quotes.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\!&|;<>()*?[]#~%{}^,") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes each argument and joins them with spaces.
func QuoteAll(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}
