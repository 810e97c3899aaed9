package domain

import "time"

// NotificationKind 通知类型
type NotificationKind string

const (
	NotificationInfo  NotificationKind = "info"
	NotificationError NotificationKind = "error"
)

// Notification 短暂通知，同一时刻最多一条
type Notification struct {
	ID          string           `json:"id"`
	Message     string           `json:"message"`
	Kind        NotificationKind `json:"kind"`
	PublishedAt time.Time        `json:"publishedAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}
