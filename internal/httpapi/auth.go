package httpapi

import (
	"crypto/subtle"
	"strings"

	"github.com/colonyops/daybook/internal/core/docstore"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorize returns the access level granted by the bearer token. With no
// tokens configured every request is granted read-write.
func (s *Server) authorize(authHeader string, required docstore.Access) (docstore.Access, *authError) {
	if s.cfg.Token == "" && s.cfg.ReadToken == "" {
		return docstore.AccessReadWrite, nil
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", &authError{
			status:  401,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	var granted docstore.Access
	switch {
	case tokenMatches(raw, s.cfg.Token):
		granted = docstore.AccessReadWrite
	case tokenMatches(raw, s.cfg.ReadToken):
		granted = docstore.AccessRead
	default:
		return "", &authError{status: 401, code: "unauthorized", message: "unknown token"}
	}

	if required.CanWrite() && !granted.CanWrite() {
		return "", &authError{
			status:  403,
			code:    "forbidden",
			message: "token does not grant write access",
		}
	}
	return granted, nil
}

func tokenMatches(raw, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(raw), []byte(want)) == 1
}
