package rbac

type Role string

const (
	RoleReader Role = "Reader"
	RoleWriter Role = "Writer"
	RoleEditor Role = "Editor"
	RoleAdmin  Role = "Admin"
)

// DefaultRoles is assigned at registration when no roles are requested.
// Every user carries at least one role.
var DefaultRoles = []string{string(RoleReader)}

func Valid(role string) bool {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleEditor, RoleAdmin:
		return true
	default:
		return false
	}
}

// ValidRoles lists the accepted role names, for validation messages.
func ValidRoles() []string {
	return []string{string(RoleReader), string(RoleWriter), string(RoleEditor), string(RoleAdmin)}
}

func hasRole(roles []string, want Role) bool {
	for _, role := range roles {
		if Role(role) == want {
			return true
		}
	}
	return false
}

func CanCreateArticle(roles []string) bool {
	return hasRole(roles, RoleWriter) || hasRole(roles, RoleEditor) || hasRole(roles, RoleAdmin)
}

// CanEditArticle: Admin and Editor may edit any article, a Writer only their own.
func CanEditArticle(roles []string, articleAuthorID, userID string) bool {
	if hasRole(roles, RoleAdmin) || hasRole(roles, RoleEditor) {
		return true
	}
	return hasRole(roles, RoleWriter) && articleAuthorID == userID
}

// CanDeleteArticle: deletion is Admin-only regardless of authorship.
func CanDeleteArticle(roles []string) bool {
	return hasRole(roles, RoleAdmin)
}

func CanManageUsers(roles []string) bool {
	return hasRole(roles, RoleAdmin)
}
