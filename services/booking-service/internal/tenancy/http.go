package tenancy

import (
	"net"
	"net/http"
	"strings"
)

const HeaderTenant = "X-Tenant"

// reserved host labels that never name a tenant.
var reservedLabels = map[string]bool{"www": true, "api": true, "app": true}

// IdentifierFromRequest extracts the tenant identifier supplied by the
// routing layer: the X-Tenant header, then the tenant or subdomain query
// parameter, then the first label of a multi-label Host.
func IdentifierFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderTenant)); v != "" {
		return v
	}
	q := r.URL.Query()
	for _, key := range []string{"tenant", "subdomain"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return subdomain(r.Host)
}

func subdomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return ""
	}
	// acme.localhost has two labels; acme.example.com has three.
	if len(labels) == 2 && labels[1] != "localhost" {
		return ""
	}
	if reservedLabels[labels[0]] {
		return ""
	}
	return labels[0]
}
