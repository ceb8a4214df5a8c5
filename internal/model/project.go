package model

import "time"

// Project はユーザーが所有するプロジェクトを表す。
// 参照・更新できるのはOwnerIDのユーザーのみ。
type Project struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	CreatedAt   time.Time
}
