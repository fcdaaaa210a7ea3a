package model

import (
	"time"

	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/geometry"
)

// Sink is a land parcel absorbing CO2, kept per coverage schema. It has no
// relation to sensors. Geometry and the balance metrics are nullable in the
// source datasets.
type Sink struct {
	ID          string           `json:"id" gorm:"type:varchar(50);primaryKey"`
	ParcelID    string           `json:"parcel_id" gorm:"column:parcel_id;type:varchar(50)"`
	DateTime    time.Time        `json:"date_time" gorm:"column:date_time;index"`
	Specie      string           `json:"specie" gorm:"type:varchar(50)"`
	Age         int              `json:"age"`
	Area        int              `json:"area"`
	NDVINoCloud *int             `json:"ndvi_nocloud,omitempty" gorm:"column:ndvi_nocloud"`
	Geometry    geometry.Polygon `json:"geometry" gorm:"type:geometry(Polygon,4326)"`
	CO2Removed  *int             `json:"co2removed,omitempty" gorm:"column:co2removed"`
	CO2Balance  *int64           `json:"co2balance,omitempty" gorm:"column:co2balance;type:bigint"`
	CO2Emitted  *int64           `json:"co2emitted,omitempty" gorm:"column:co2emitted;type:bigint"`
	Colonna     *int64           `json:"colonna,omitempty" gorm:"column:colonna;type:bigint"`
}

func (s *Sink) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	return nil
}
