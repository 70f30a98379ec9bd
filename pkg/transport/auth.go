package transport

import "net/http"

// Auth decorates an outbound request with credentials.
type Auth interface {
	Apply(req *http.Request)
}

// AuthFunc adapts a function to Auth.
type AuthFunc func(req *http.Request)

func (f AuthFunc) Apply(req *http.Request) { f(req) }

// Bearer sets "Authorization: Bearer <token>".
func Bearer(token string) Auth {
	return AuthFunc(func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
}

// Basic sets HTTP basic credentials.
func Basic(user, pass string) Auth {
	return AuthFunc(func(req *http.Request) {
		req.SetBasicAuth(user, pass)
	})
}

// Header sets a single credential header, e.g. X-Vault-Token.
func Header(name, value string) Auth {
	return AuthFunc(func(req *http.Request) {
		req.Header.Set(name, value)
	})
}

// QueryKey adds the credential as a query parameter, e.g. api_key.
func QueryKey(name, value string) Auth {
	return AuthFunc(func(req *http.Request) {
		q := req.URL.Query()
		q.Set(name, value)
		req.URL.RawQuery = q.Encode()
	})
}
