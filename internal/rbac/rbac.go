package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown or legacy role names onto the closest role. Owners
// and editors predate the three-role model.
func Normalize(role string) Role {
	switch role {
	case string(RoleViewer), string(RoleMember), string(RoleAdmin):
		return Role(role)
	case "owner":
		return RoleAdmin
	case "editor":
		return RoleMember
	default:
		return RoleViewer
	}
}
