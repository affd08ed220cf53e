package models

import (
	"time"
)

// ParameterUpdate is the audit trail for optimizer proposals, applied or not.
// Before/after values make manual rollback possible.
type ParameterUpdate struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ModuleName string `gorm:"type:varchar(50);not null;index"`
	Name       string `gorm:"type:varchar(60);not null;index"`

	OldValue float64 `gorm:"not null"`
	NewValue float64 `gorm:"not null"`

	ExpectedImprovement float64 `gorm:"not null;default:0"`
	SampleSize          int     `gorm:"not null;default:0"`

	Applied      bool   `gorm:"not null;index"`
	RejectReason string `gorm:"type:varchar(80)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (ParameterUpdate) TableName() string {
	return "parameter_updates"
}
