package models

import (
	"encoding/json"
	"math"
	"time"

	"gorm.io/datatypes"
)

const (
	ParamTypeContinuous = "continuous"
	ParamTypeDiscrete   = "discrete"
)

// ParameterRecord is the persisted state of one tunable decision parameter.
// The optimizer is the only producer of new values; modules and the risk
// engine read through the parameter store and never self-mutate.
type ParameterRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ModuleName string `gorm:"type:varchar(50);not null;uniqueIndex:idx_param_module_name"`
	Name       string `gorm:"type:varchar(60);not null;uniqueIndex:idx_param_module_name"`

	Value     float64 `gorm:"not null"`
	ValueType string  `gorm:"type:varchar(15);not null"`

	// MinBound/MaxBound bound continuous parameters. AllowedValues lists the
	// candidates for discrete parameters.
	MinBound      float64        `gorm:"not null;default:0"`
	MaxBound      float64        `gorm:"not null;default:0"`
	AllowedValues datatypes.JSON `gorm:"type:jsonb"`

	SampleSize int `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (ParameterRecord) TableName() string {
	return "parameter_records"
}

// InBounds reports whether v is a legal value for this record.
func (r ParameterRecord) InBounds(v float64) bool {
	if r.ValueType == ParamTypeDiscrete {
		allowed := r.Allowed()
		if len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if math.Abs(a-v) < 1e-9 {
				return true
			}
		}
		return false
	}
	if r.MaxBound > r.MinBound {
		return v >= r.MinBound && v <= r.MaxBound
	}
	return true
}

// Allowed decodes the discrete candidate list; empty for continuous records.
func (r ParameterRecord) Allowed() []float64 {
	if len(r.AllowedValues) == 0 {
		return nil
	}
	var out []float64
	if err := json.Unmarshal(r.AllowedValues, &out); err != nil {
		return nil
	}
	return out
}
