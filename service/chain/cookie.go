package chain

import (
	"fmt"
	"os"
	"strings"
)

// ReadCookie reads a bitcoind auth cookie file, a single line of the
// form "__cookie__:hexsecret". The node rewrites it on every restart,
// so it is read at construction rather than baked into config.
func ReadCookie(path string) (user, pass string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("chain: read cookie: %w", err)
	}

	line := strings.TrimSpace(string(raw))
	user, pass, ok := strings.Cut(line, ":")
	if !ok || user == "" || pass == "" {
		return "", "", fmt.Errorf("chain: malformed cookie file %q", path)
	}

	return user, pass, nil
}
