// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type agentKey struct{}

// AgentID returns the agent the request authenticated as.
func AgentID(ctx context.Context) string {
	id, _ := ctx.Value(agentKey{}).(string)
	return id
}

// Authenticator resolves bearer tokens to agent ids.
type Authenticator struct {
	tokens [][]byte
	agents []string
}

// NewAuthenticator creates an Authenticator. Empty tokens are ignored, so
// an empty map rejects every request.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	a := &Authenticator{}
	for tok, agent := range tokens {
		if tok == "" {
			continue
		}
		a.tokens = append(a.tokens, []byte(tok))
		a.agents = append(a.agents, agent)
	}
	return a
}

// Authenticate returns the agent for the request's bearer token.
func (a *Authenticator) Authenticate(r *http.Request) (string, bool) {
	presented, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", false
	}
	agent, found := "", false
	// Compare against every token so timing does not reveal which matched.
	for i, tok := range a.tokens {
		if subtle.ConstantTimeCompare(tok, []byte(presented)) == 1 && !found {
			agent, found = a.agents[i], true
		}
	}
	return agent, found
}

// Middleware rejects unauthenticated requests with 401 and stores the agent
// id in the request context.
func (a *Authenticator) Middleware(writeError func(http.ResponseWriter, int, string, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent, ok := a.Authenticate(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="responses"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey{}, agent)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
