package model

import (
	"strings"
	"time"
)

// TaskStatus はタスクの進捗状態を表す。
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusDone       TaskStatus = "done"
)

// DefaultTaskStatus は作成時にステータス未指定の場合の値。
const DefaultTaskStatus = TaskStatusTodo

// ParseTaskStatus は文字列をTaskStatusに変換する。
// 前後の空白は無視し、大文字小文字は区別する。
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch st := TaskStatus(strings.TrimSpace(s)); st {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusDone:
		return st, true
	default:
		return "", false
	}
}

// Task はプロジェクト配下のタスクを表す。
type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      TaskStatus
	DueDate     *time.Time // nilは期限なし
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskPatch はタスクの部分更新内容を表す。
// nilのフィールドは変更しない。DueDateSetがtrueの場合のみDueDateを適用し、
// その際DueDateがnilなら期限をクリアする。
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	DueDateSet  bool
	DueDate     *time.Time
	UpdatedAt   time.Time
}

// IsEmpty はUpdatedAt以外に変更対象のフィールドがないかどうかを返す。
func (p *TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && !p.DueDateSet
}
