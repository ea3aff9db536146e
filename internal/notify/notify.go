// Package notify はクライアントへ表示するトースト通知をためておくキューを提供する。
// 通知はブラウザが次にポーリングしたときにまとめて取り出される。
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level は通知の種類。
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// DefaultCapacity はキューに保持する通知の上限。
const DefaultCapacity = 20

// Notification は1件のトースト通知。
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue はゴルーチンセーフな通知キュー。
// 上限を超えた場合は古いものから捨てる。
type Queue struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	now      func() time.Time
}

// NewQueue はQueueを生成する。capacityが0以下の場合はDefaultCapacityを使う。
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, now: time.Now}
}

// Push は通知を追加する。
func (q *Queue) Push(level Level, message string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, n)
	if over := len(q.items) - q.capacity; over > 0 {
		q.items = append([]Notification(nil), q.items[over:]...)
	}
	return n
}

// Success は成功通知を追加する。
func (q *Queue) Success(message string) { q.Push(LevelSuccess, message) }

// Error はエラー通知を追加する。
func (q *Queue) Error(message string) { q.Push(LevelError, message) }

// Drain はたまっている通知を古い順に取り出し、キューを空にする。
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	if out == nil {
		return []Notification{}
	}
	return out
}

// Len は現在の通知数を返す。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
