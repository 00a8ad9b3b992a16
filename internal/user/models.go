package user

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Description  string    `json:"description"`
	ImageFile    string    `json:"image_file"`
	Rank         string    `json:"rank,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	IsTester     bool      `json:"is_tester"`
	IsVerified   bool      `json:"is_verified"`
	RegTime      time.Time `json:"reg_time"`
}
