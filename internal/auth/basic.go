package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

type BasicAuthEngine struct {
	Username string
	Password string
}

// NewBasicAuthEngine creates a BasicAuthEngine accepting exactly one
// username and password pair.
func NewBasicAuthEngine(username string, password string) *BasicAuthEngine {
	return &BasicAuthEngine{
		Username: username,
		Password: password,
	}
}

// AuthenticateRequest checks the Authorization header for valid Basic Auth
// credentials. It returns a User if the credentials are valid, nil otherwise.
func (e *BasicAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(e.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(e.Password)) == 1
	if !userMatch || !passMatch {
		return nil, nil
	}

	return &User{Name: user}, nil
}

// ParseBasicCredentials builds an engine accepting every pair in a comma
// separated list of user:password credentials.
func ParseBasicCredentials(list string) (*CompoundAuthEngine, error) {
	var engines []AuthEngine
	for i, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		user, pass, ok := strings.Cut(pair, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("credential %d: want user:password", i+1)
		}
		engines = append(engines, NewBasicAuthEngine(user, pass))
	}

	return NewCompoundAuthEngine(engines...), nil
}
