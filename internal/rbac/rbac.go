package rbac

type Role string
type Action string

const (
	RoleUser        Role = "user"
	RoleContributor Role = "contributor"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionChat   Action = "chat"
	ActionUpload Action = "upload"
	ActionInvite Action = "invite"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleContributor:
		return action == ActionRead || action == ActionChat || action == ActionUpload
	case RoleUser:
		return action == ActionRead || action == ActionChat
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleContributor, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
