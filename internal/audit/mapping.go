package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides where the generic rules read poorly.
var routeOverrides = map[string]ActionResource{
	"DELETE /v1/devices":      {Action: "revoke_all", Resource: "device"},
	"DELETE /v1/devices/{id}": {Action: "revoke", Resource: "device"},
	"PUT /v1/contact/phone":   {Action: "update", Resource: "phone_contact"},
}

// ParseRoute returns action and resource for a method and chi route pattern
// (e.g. POST /v1/elevations/{id}/verify).
// Resource is the first path segment after the version, singularized. POST routes with a trailing
// verb segment use it as the action; other routes map the method to get, list, create, update or delete.
func ParseRoute(method, pattern string) ActionResource {
	if ar, ok := routeOverrides[method+" "+pattern]; ok {
		return ar
	}
	var segs []string
	endsWithParam := false
	for _, s := range strings.Split(strings.Trim(pattern, "/"), "/") {
		if s == "" || s == "v1" || s == "dev" {
			continue
		}
		endsWithParam = strings.HasPrefix(s, "{")
		if !endsWithParam {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := singular(segs[0])
	if method == http.MethodPost && len(segs) > 1 && !endsWithParam {
		return ActionResource{Action: strings.ToLower(segs[len(segs)-1]), Resource: resource}
	}
	return ActionResource{Action: methodToAction(method, endsWithParam), Resource: resource}
}

func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "ies"):
		return strings.TrimSuffix(s, "ies") + "y"
	case strings.HasSuffix(s, "ss"):
		return s
	case strings.HasSuffix(s, "s"):
		return strings.TrimSuffix(s, "s")
	}
	return s
}

func methodToAction(method string, endsWithParam bool) string {
	switch method {
	case http.MethodGet:
		if endsWithParam {
			return "get"
		}
		return "list"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
