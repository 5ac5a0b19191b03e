package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides for endpoints whose generic verb mapping is not descriptive enough.
var routeOverrides = map[string]ActionResource{
	"PATCH /api/users/{id}/role":         {Action: ActionRoleChanged, Resource: ResourceUser},
	"POST /api/users/{id}/logout":        {Action: ActionForcedLogout, Resource: ResourceUser},
	"DELETE /api/users/{id}":             {Action: ActionUserDeleted, Resource: ResourceUser},
	"DELETE /api/users/me/sessions/{id}": {Action: ActionSessionRevoked, Resource: ResourceSession},
}

// ParseRoute returns action and resource for an HTTP method and chi route pattern
// (e.g. DELETE /api/users/{id}). Action is derived from the method: get, create, update, delete.
// Resource is the last literal path segment, singularized (users -> user).
func ParseRoute(method, pattern string) ActionResource {
	method = strings.ToUpper(method)
	if ar, ok := routeOverrides[method+" "+pattern]; ok {
		return ar
	}
	return ActionResource{Action: methodToAction(method), Resource: patternToResource(pattern)}
}

func patternToResource(pattern string) string {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		s := segments[i]
		if s == "" || s == "api" || strings.HasPrefix(s, "{") || s == "me" {
			continue
		}
		return strings.TrimSuffix(s, "s")
	}
	return "unknown"
}

func methodToAction(method string) string {
	switch method {
	case "GET", "HEAD":
		return "get"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
