package rbac

import "fmt"

// 权限常量
const (
	PermissionReadProject      = "project:read"
	PermissionWriteProject     = "project:write"
	PermissionRecommendProject = "project:recommend"

	// 敏感操作权限
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadProject,
		PermissionRecommendProject,
	},
	RoleEditor: {
		PermissionReadProject,
		PermissionRecommendProject,
		PermissionWriteProject,
	},
	RoleAdmin: {
		PermissionReadProject,
		PermissionRecommendProject,
		PermissionWriteProject,
		PermissionReplayOutbox,
	},
}

// ValidRole 判断角色是否已定义
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("role %q lacks permission %q", e.Role, e.Permission)
}
