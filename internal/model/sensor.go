package model

import (
	"time"

	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/geometry"
)

// Sensor is a monitoring device inside a coverage schema. IDs are the
// physical device identifiers supplied at load time, not generated.
type Sensor struct {
	ID       int            `json:"id" gorm:"primaryKey;autoIncrement:false"`
	FID      int            `json:"fid" gorm:"column:fid"`
	XCoord   float64        `json:"xcoord" gorm:"column:xcoord"`
	YCoord   float64        `json:"ycoord" gorm:"column:ycoord"`
	ZCoord   float64        `json:"zcoord" gorm:"column:zcoord"`
	Geometry geometry.Point `json:"geometry" gorm:"type:geometry(PointZ,4326)"`
}

// SensorReading is one measurement sample from a sensor. Fields mirror the
// device payload: each measurement carries a value and its unit string.
type SensorReading struct {
	ID              string    `json:"id" gorm:"type:varchar(50);primaryKey"`
	FIDMeasurement  int       `json:"fid_measurement" gorm:"column:fid_measurement"`
	OID             string    `json:"oid" gorm:"column:oid;type:varchar(50)"`
	DateTime        time.Time `json:"date_time" gorm:"column:date_time;index"`
	ValuePayload    string    `json:"value_payload" gorm:"type:varchar(100)"`
	DeviceID        int       `json:"device_id" gorm:"column:device_id;index"`
	ProtocolVersion int       `json:"protocol_version"`

	AirTemperatureValue       float64 `json:"air_temperature_value"`
	AirTemperatureUnit        string  `json:"air_temperature_unit" gorm:"type:varchar(50)"`
	AirHumidityValue          float64 `json:"air_humidity_value"`
	AirHumidityUnit           string  `json:"air_humidity_unit" gorm:"type:varchar(50)"`
	BarometerTemperatureValue float64 `json:"barometer_temperature_value"`
	BarometerTemperatureUnit  string  `json:"barometer_temperature_unit" gorm:"type:varchar(50)"`
	BarometricPressureValue   int     `json:"barometric_pressure_value"`
	BarometricPressureUnit    string  `json:"barometric_pressure_unit" gorm:"type:varchar(50)"`
	CO2ConcentrationValue     int     `json:"co2_concentration_value" gorm:"column:co2_concentration_value"`
	CO2ConcentrationUnit      string  `json:"co2_concentration_unit" gorm:"column:co2_concentration_unit;type:varchar(50)"`
	CO2ConcentrationLPFValue  int     `json:"co2_concentration_lpf_value" gorm:"column:co2_concentration_lpf_value"`
	CO2ConcentrationLPFUnit   string  `json:"co2_concentration_lpf_unit" gorm:"column:co2_concentration_lpf_unit;type:varchar(50)"`
	CO2SensorTemperatureValue float64 `json:"co2_sensor_temperature_value" gorm:"column:co2_sensor_temperature_value"`
	CO2SensorTemperatureUnit  string  `json:"co2_sensor_temperature_unit" gorm:"column:co2_sensor_temperature_unit;type:varchar(50)"`
	CapacitorVoltage1Value    float64 `json:"capacitor_voltage_1_value" gorm:"column:capacitor_voltage_1_value"`
	CapacitorVoltage1Unit     string  `json:"capacitor_voltage_1_unit" gorm:"column:capacitor_voltage_1_unit;type:varchar(50)"`
	CapacitorVoltage2Value    float64 `json:"capacitor_voltage_2_value" gorm:"column:capacitor_voltage_2_value"`
	CapacitorVoltage2Unit     string  `json:"capacitor_voltage_2_unit" gorm:"column:capacitor_voltage_2_unit;type:varchar(50)"`
	CO2SensorStatusValue      *int    `json:"co2_sensor_status_value,omitempty" gorm:"column:co2_sensor_status_value"`
	CO2SensorStatusUnit       string  `json:"co2_sensor_status_unit" gorm:"column:co2_sensor_status_unit;type:varchar(50)"`
	RawIRReadingValue         *int    `json:"raw_ir_reading_value,omitempty" gorm:"column:raw_ir_reading_value"`
	RawIRReadingUnit          *string `json:"raw_ir_reading_unit,omitempty" gorm:"column:raw_ir_reading_unit;type:varchar(50)"`
	RawIRReadingLPFValue      int     `json:"raw_ir_reading_lpf_value" gorm:"column:raw_ir_reading_lpf_value"`
	RawIRReadingLPFUnit       *string `json:"raw_ir_reading_lpf_unit,omitempty" gorm:"column:raw_ir_reading_lpf_unit;type:varchar(50)"`
	BatteryVoltageValue       float64 `json:"battery_voltage_value"`
	BatteryVoltageUnit        string  `json:"battery_voltage_unit" gorm:"type:varchar(50)"`

	Sensor Sensor `json:"sensor" gorm:"foreignKey:DeviceID;references:ID"`
}

func (r *SensorReading) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}
