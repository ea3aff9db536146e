// Package model はドメインモデルを定義する。
package model

import "time"

// Course は販売されるコースを表す。
type Course struct {
	ID        string
	Title     string
	Price     float64
	IsPremium bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Enrollment はユーザーのコース受講登録を表す。
// モジュール数が未設定（NULL）の場合は0として扱う。
type Enrollment struct {
	ID               string
	UserID           string
	CourseID         string
	TotalModules     int
	CompletedModules int
	EnrolledAt       time.Time
	CompletedAt      *time.Time
}

// PurchaseStatusCompleted は決済完了済みの購入を表す。
const PurchaseStatusCompleted = "completed"

// Purchase はコース購入の記録を表す。
type Purchase struct {
	ID        string
	UserID    string
	CourseID  string
	Amount    float64
	Status    string
	CreatedAt time.Time
}
