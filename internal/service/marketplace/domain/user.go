package domain

import "time"

// Role 用户角色
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Role       Role
	IsBanned   bool
	CreatedAt  time.Time
}

// CanModerate 版主和管理员都可以处理审核队列
func (u *User) CanModerate() bool {
	if u == nil || u.IsBanned {
		return false
	}
	switch u.Role {
	case RoleModerator, RoleAdmin:
		return true
	case RoleUser:
		return false
	default:
		return false
	}
}

func (u *User) IsAdmin() bool {
	return u != nil && !u.IsBanned && u.Role == RoleAdmin
}

// DisplayName 优先使用 @username
func (u *User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	}
	return "user"
}

// Profile 是每次收到更新时用于注册或刷新用户的资料
type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}
