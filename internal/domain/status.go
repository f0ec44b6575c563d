package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleEngineer Role = "ENGINEER"
	RoleCompany  Role = "COMPANY"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole normalizes mixed-case role strings ("engineer", "ROLE_ADMIN")
// into the closed set of roles.
func ParseRole(s string) (Role, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "ROLE_")
	switch Role(norm) {
	case RoleEngineer, RoleCompany, RoleAdmin:
		return Role(norm), nil
	}
	return "", Errorf(KindValidation, "unknown role %q", s)
}

type ApprovalState string

const (
	StatePending  ApprovalState = "PENDING"
	StateApproved ApprovalState = "APPROVED"
	StateRejected ApprovalState = "REJECTED"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	}
	return "", Errorf(KindValidation, "unknown difficulty %q", s)
}

// TaskStatus is the lifecycle state of a task. Display and filtering logic
// lives here so callers never branch on raw strings.
type TaskStatus string

const (
	TaskPublished TaskStatus = "PUBLISHED"
	TaskClaimed   TaskStatus = "CLAIMED"
	TaskSubmitted TaskStatus = "SUBMITTED"
	TaskApproved  TaskStatus = "APPROVED"
)

// ParseTaskStatus accepts any casing and treats COMPLETED as APPROVED.
func ParseTaskStatus(s string) (TaskStatus, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if norm == "COMPLETED" {
		return TaskApproved, nil
	}
	st := TaskStatus(norm)
	if !st.Valid() {
		return "", Errorf(KindValidation, "unknown task status %q", s)
	}
	return st, nil
}

func (s TaskStatus) Valid() bool {
	return s.Rank() > 0
}

// Rank orders states along the lifecycle. Status never moves to a lower rank.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskPublished:
		return 1
	case TaskClaimed:
		return 2
	case TaskSubmitted:
		return 3
	case TaskApproved:
		return 4
	}
	return 0
}

func (s TaskStatus) Terminal() bool {
	return s == TaskApproved
}

// AcceptsWork reports whether engineers may still claim or submit with effect.
func (s TaskStatus) AcceptsWork() bool {
	return s.Valid() && !s.Terminal()
}

// TermsEditable reports whether price and difficulty may still change.
func (s TaskStatus) TermsEditable() bool {
	return s == TaskPublished
}

func (s TaskStatus) Badge() string {
	switch s {
	case TaskPublished:
		return "Open"
	case TaskClaimed:
		return "In progress"
	case TaskSubmitted:
		return "Awaiting review"
	case TaskApproved:
		return "Completed"
	}
	return fmt.Sprintf("Unknown (%s)", string(s))
}
