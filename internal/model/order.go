package model

import (
	"time"

	"gorm.io/datatypes"
)

// OrderStatus is the linear progression an order moves through.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderWriting   OrderStatus = "writing"
	OrderOnTheWay  OrderStatus = "on the way"
	OrderDelivered OrderStatus = "delivered"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderWriting, OrderOnTheWay, OrderDelivered:
		return true
	}
	return false
}

// OrderType distinguishes regular assignments from practical records.
type OrderType string

const (
	OrderTypeAssignment OrderType = "assignment"
	OrderTypePractical  OrderType = "practical"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeAssignment || t == OrderTypePractical
}

// FileRef points at an uploaded object.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Order belongs to a student; (UserID, ID) is the key, ID is generated by the client.
type Order struct {
	ID     string `gorm:"primaryKey;size:64" json:"id"`
	UserID string `gorm:"primaryKey;size:128" json:"userId"`

	AssignmentTitle string                       `gorm:"size:255;not null" json:"assignmentTitle"`
	OrderType       OrderType                    `gorm:"size:32;not null" json:"orderType"`
	PageCount       int                          `gorm:"not null" json:"pageCount"` // credits charged at creation
	Status          OrderStatus                  `gorm:"size:32;not null;index" json:"status"`
	OriginalFiles   datatypes.JSONSlice[FileRef] `json:"originalFiles"`
	Folder          string                       `gorm:"size:255" json:"cloudinaryFolder"`

	CreatedAt   time.Time  `gorm:"not null;index" json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`
	UpdatedBy   string     `gorm:"size:128" json:"updatedBy,omitempty"`
}

func (Order) TableName() string { return "orders" }
