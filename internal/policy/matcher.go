package policy

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/austinylin/carapace/internal/carapaceerr"
)

// ArgvMatcher decides whether an argv vector is allowed, by joining it with
// single spaces and testing the result against allow/deny glob sets.
// Patterns have no separator characters configured, so "*" matches any run
// of characters including spaces and an empty run — this lets a policy
// read like a literal command line (matching "pr list*" against the
// joined argv "pr list --all").
type ArgvMatcher struct {
	allow []glob.Glob
	deny  []glob.Glob
}

// NewArgvMatcher compiles the allow and deny glob lists. An invalid glob in
// either list is a configuration error.
func NewArgvMatcher(allowPatterns, denyPatterns []string) (*ArgvMatcher, error) {
	allow, err := compileGlobs(allowPatterns)
	if err != nil {
		return nil, carapaceerr.Wrap(carapaceerr.CodeConfigError, "invalid argv_allow pattern", err)
	}
	deny, err := compileGlobs(denyPatterns)
	if err != nil {
		return nil, carapaceerr.Wrap(carapaceerr.CodeConfigError, "invalid argv_deny pattern", err)
	}
	return &ArgvMatcher{allow: allow, deny: deny}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// Matches joins argv with single spaces and returns true iff no deny glob
// matches the joined string and at least one allow glob matches. An empty
// allow list denies everything, regardless of deny.
func (m *ArgvMatcher) Matches(argv []string) bool {
	joined := strings.Join(argv, " ")
	for _, d := range m.deny {
		if d.Match(joined) {
			return false
		}
	}
	for _, a := range m.allow {
		if a.Match(joined) {
			return true
		}
	}
	return false
}

// ValidateBinaryPath rejects paths containing a parent-directory traversal
// segment or an embedded NUL byte. It does not check existence or
// executability; that is left to the process spawn itself.
func ValidateBinaryPath(path string) error {
	if strings.Contains(path, "\x00") {
		return carapaceerr.New(carapaceerr.CodeInvalidBinaryPath, "binary path contains a NUL byte")
	}
	if strings.Contains(path, "..") {
		return carapaceerr.New(carapaceerr.CodeInvalidBinaryPath, "binary path contains a parent-directory reference")
	}
	return nil
}

// shellDangerousChars is the set of characters that, if present in a single
// argv element, could be interpreted by a shell rather than passed through
// literally to exec. Carapace never invokes a shell to run tools, but a
// policy-allowed argv may still be re-interpreted by the tool itself (e.g.
// a script that shells out), so callers reject arguments containing them.
const shellDangerousChars = ";|&$`()<>\n\r\t"

// IsShellUnsafe returns true if s contains any character from the
// dangerous set.
func IsShellUnsafe(s string) bool {
	return strings.ContainsAny(s, shellDangerousChars)
}
