package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
	StatusArchived   Status = "Archived"
)

// Statuses lists every workflow status. Any status may move to any other.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone, StatusArchived}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

const DefaultCategory = "Work"

type SubTask struct {
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
}

type Attachment struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
	FileName string `json:"file_name"`
}

type Todo struct {
	ID          uuid.UUID    `json:"id" gorm:"primaryKey;type:uuid"`
	OwnerID     uuid.UUID    `json:"owner_id" gorm:"type:uuid;not null;index:idx_todos_owner_order,priority:1"`
	Title       string       `json:"title" gorm:"not null"`
	Description string       `json:"description"`
	Status      Status       `json:"status" gorm:"type:varchar(20);not null"`
	Category    string       `json:"category" gorm:"not null"`
	Tags        []string     `json:"tags" gorm:"serializer:json"`
	DueDate     *time.Time   `json:"due_date"`
	DueTime     string       `json:"due_time"`
	Reminder    *time.Time   `json:"reminder"`
	IsDeleted   bool         `json:"is_deleted" gorm:"not null;index"`
	Order       int          `json:"order" gorm:"column:sort_order;not null;index:idx_todos_owner_order,priority:2"`
	SubTasks    []SubTask    `json:"sub_tasks" gorm:"serializer:json"`
	Attachments []Attachment `json:"attachments" gorm:"serializer:json"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Normalize replaces nil collections so records always serialize as arrays.
func (t *Todo) Normalize() {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.SubTasks == nil {
		t.SubTasks = []SubTask{}
	}
	if t.Attachments == nil {
		t.Attachments = []Attachment{}
	}
}

func (t *Todo) BeforeSave(tx *gorm.DB) error {
	t.Normalize()
	return nil
}

func (t *Todo) AfterFind(tx *gorm.DB) error {
	t.Normalize()
	return nil
}

// UniqueTags drops blank and repeated tags, keeping first occurrences in order.
func UniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
