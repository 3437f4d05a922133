package model

const UserTableName = "users"

// Role values double as role channel names.
const (
	RoleVendor = "vendor"
	RoleClient = "client"
)

// User 用户主档，只放网关需要的字段。
type User struct {
	UserID string `bson:"_id" json:"id"`
	Name   string `bson:"name" json:"name"` // 显示名
	Role   string `bson:"role" json:"role"` // vendor / client
}

func ValidRole(r string) bool {
	return r == RoleVendor || r == RoleClient
}
