package utils

import (
	"time"

	"github.com/google/uuid"
)

// Pointer helpers for optional model fields.

func Int64Ptr(i int64) *int64 {
	return &i
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

// UUIDPtr returns a pointer to a copy of id
func UUIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
