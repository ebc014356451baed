package auth

const (
	ScopeOpenID      = "openid"
	ScopeProfile     = "profile"
	ScopeEmail       = "email"
	ScopeAccessRead  = "tempaccess:read"
	ScopeAccessWrite = "tempaccess:write"
)

// AllScopes defines the full set of scopes requested by API clients
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeAccessRead,
	ScopeAccessWrite,
}
