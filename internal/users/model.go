package users

import "time"

// User is an account record. The password hash is bcrypt; the server
// never sees or stores encryption keys.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Device is a client installation registered under an account. Upload
// sessions record which device produced them.
type Device struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	UserID    string    `gorm:"column:user_id;size:36;not null;index"`
	Name      string    `gorm:"column:name;size:190;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Device) TableName() string {
	return "devices"
}
