// Package model defines the entity and queue types shared across the
// daykeep core: the six entity collections, the sync-queue operation
// vocabulary, and the typed record shapes the control API works with.
package model

import "strings"

// EntityType identifies one of the local collections.
type EntityType string

const (
	EntityTask      EntityType = "task"
	EntityExpense   EntityType = "expense"
	EntityHabit     EntityType = "habit"
	EntityJournal   EntityType = "journal"
	EntitySettings  EntityType = "settings"
	EntityAnalytics EntityType = "analytics"
)

// AllEntities lists every collection the store manages, in schema order.
var AllEntities = []EntityType{
	EntityTask, EntityExpense, EntityHabit, EntityJournal, EntitySettings, EntityAnalytics,
}

// SyncedEntities are the collections pushed to and pulled from the remote.
// Analytics records are derived locally and never leave the device.
var SyncedEntities = []EntityType{
	EntityTask, EntityExpense, EntityHabit, EntityJournal, EntitySettings,
}

// ParseEntityType validates a string from the API surface.
func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case EntityTask, EntityExpense, EntityHabit, EntityJournal, EntitySettings, EntityAnalytics:
		return EntityType(s), true
	}
	return "", false
}

// QueueType is the operation vocabulary of the sync queue: an entity kind,
// optionally suffixed with "-delete" for removals.
type QueueType string

const (
	QueueTask          QueueType = "task"
	QueueTaskDelete    QueueType = "task-delete"
	QueueExpense       QueueType = "expense"
	QueueExpenseDelete QueueType = "expense-delete"
	QueueHabit         QueueType = "habit"
	QueueHabitDelete   QueueType = "habit-delete"
	QueueJournal       QueueType = "journal"
	QueueJournalDelete QueueType = "journal-delete"
	QueueSettings      QueueType = "settings"
)

// ParseQueueType validates a queue type string.
func ParseQueueType(s string) (QueueType, bool) {
	switch QueueType(s) {
	case QueueTask, QueueTaskDelete, QueueExpense, QueueExpenseDelete,
		QueueHabit, QueueHabitDelete, QueueJournal, QueueJournalDelete, QueueSettings:
		return QueueType(s), true
	}
	return "", false
}

// QueueUpsert returns the upsert queue type for an entity, or false for
// entities that never enter the queue (analytics).
func QueueUpsert(e EntityType) (QueueType, bool) {
	switch e {
	case EntityTask, EntityExpense, EntityHabit, EntityJournal, EntitySettings:
		return QueueType(e), true
	}
	return "", false
}

// QueueDelete returns the delete queue type for an entity. Settings are
// replaced, never deleted.
func QueueDelete(e EntityType) (QueueType, bool) {
	switch e {
	case EntityTask, EntityExpense, EntityHabit, EntityJournal:
		return QueueType(string(e) + "-delete"), true
	}
	return "", false
}

// Entity returns the entity a queue type operates on.
func (q QueueType) Entity() EntityType {
	return EntityType(strings.TrimSuffix(string(q), "-delete"))
}

// IsDelete reports whether the queue type is a removal.
func (q QueueType) IsDelete() bool {
	return strings.HasSuffix(string(q), "-delete")
}

// Queue entry statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// QueueEntry is one pending outbound mutation. The queue captures intent;
// the per-record synced flag captures entity-level confirmation.
type QueueEntry struct {
	ID          int64     `json:"id"`
	Type        QueueType `json:"type"`
	Payload     []byte    `json:"payload"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	CreatedAt   string    `json:"createdAt"`
	CompletedAt string    `json:"completedAt,omitempty"`
}

// Task is the typed view of a task record payload.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Notes     string `json:"notes,omitempty"`
	DueDate   string `json:"dueDate,omitempty"` // YYYY-MM-DD
	Completed bool   `json:"completed"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}

// Expense is the typed view of an expense record payload.
type Expense struct {
	ID        string  `json:"id"`
	Amount    float64 `json:"amount"`
	Category  string  `json:"category"`
	Note      string  `json:"note,omitempty"`
	Date      string  `json:"date"` // YYYY-MM-DD
	UpdatedAt string  `json:"updatedAt"`
}

// Habit is the typed view of a habit record payload.
type Habit struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CurrentStreak int    `json:"currentStreak"`
	LongestStreak int    `json:"longestStreak"`
	LastCompleted string `json:"lastCompleted,omitempty"` // YYYY-MM-DD
	UpdatedAt     string `json:"updatedAt"`
}

// JournalEntry is the typed view of a journal record payload.
type JournalEntry struct {
	ID        string  `json:"id"`
	Date      string  `json:"date"` // YYYY-MM-DD
	Mood      float64 `json:"mood"` // 1..5 scale
	Text      string  `json:"text,omitempty"`
	UpdatedAt string  `json:"updatedAt"`
}

// ExpenseSummary aggregates expenses over a period.
type ExpenseSummary struct {
	Total        float64            `json:"total"`
	Count        int                `json:"count"`
	ByCategory   map[string]float64 `json:"byCategory"`
	DailyAverage float64            `json:"dailyAverage"`
	Days         int                `json:"days"`
}

// JournalSummary aggregates journal entries over a period.
type JournalSummary struct {
	Count       int     `json:"count"`
	MoodAverage float64 `json:"moodAverage"`
}

// BackupApp is the application identifier stamped into exports; imports
// with a different app value are rejected before any destructive action.
const BackupApp = "daykeep"

// BackupVersion is the current export format version.
const BackupVersion = "1"

// Backup is the export/import file format.
type Backup struct {
	Data       map[string][]map[string]any `json:"data"`
	ExportedAt string                      `json:"exportedAt"`
	Version    string                      `json:"version"`
	App        string                      `json:"app"`
}
