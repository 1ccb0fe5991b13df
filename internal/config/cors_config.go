package config

import "strings"

const allowedOriginsVar = "CORS_ALLOWED_ORIGINS"

type Cors struct{}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

// GetAllowedOrigins defaults to the front-end origin. Wildcards are not honoured
// because every API call carries the session cookie.
func (Cors) GetAllowedOrigins() AllowedOrigins {
	origins := GetEnvList(allowedOriginsVar, []string{EnvVars{}.GetFrontendURL()})
	allowed := make(AllowedOrigins, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = nullValue{}
	}
	return allowed
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, OPTIONS"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type"
}
