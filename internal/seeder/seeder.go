// Package seeder loads the bootstrap admin and the default coverages with
// their datasets on startup. Everything here is best-effort: a missing data
// file or a failed insert is logged and skipped so the server still starts.
package seeder

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/geometry"
	"github.com/everimpact/coverage-service/internal/model"
	"github.com/everimpact/coverage-service/internal/tenant"
	"github.com/everimpact/coverage-service/pkg/config"
	"github.com/everimpact/coverage-service/pkg/logger"
)

// defaultCoverages are provisioned and loaded on first start.
var defaultCoverages = []string{"Dijon", "Ishinomaki"}

const insertBatchSize = 500

// Seeder provisions default coverages and bulk-loads their datasets.
type Seeder struct {
	db          *gorm.DB
	provisioner *tenant.Provisioner
	router      *tenant.Router
	cfg         *config.SeedConfig
}

func New(db *gorm.DB, cfg *config.SeedConfig) *Seeder {
	return &Seeder{
		db:          db,
		provisioner: tenant.NewProvisioner(db),
		router:      tenant.NewRouter(db),
		cfg:         cfg,
	}
}

// Run seeds the admin user and the default coverages. Safe to call on every
// startup: existing records are left alone.
func (s *Seeder) Run(ctx context.Context) {
	log := logger.GetLogger()

	s.ensureAdmin(ctx, log)

	for _, name := range defaultCoverages {
		cov, created, err := s.ensureCoverage(ctx, name)
		if err != nil {
			log.Warn("Coverage seeding skipped", zap.String("coverage", name), zap.Error(err))
			continue
		}
		if !created {
			log.Info("Coverage already present, skipping data load", zap.String("coverage", name))
			continue
		}
		s.loadCoverageData(ctx, log, cov)
	}
}

func (s *Seeder) ensureAdmin(ctx context.Context, log *zap.Logger) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("email = ?", s.cfg.AdminEmail).Count(&count).Error; err != nil {
		log.Warn("Admin lookup failed", zap.Error(err))
		return
	}
	if count > 0 {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Warn("Admin password hashing failed", zap.Error(err))
		return
	}
	admin := model.User{Email: s.cfg.AdminEmail, Password: string(hash), IsAdmin: true}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		log.Warn("Admin creation failed", zap.Error(err))
		return
	}
	log.Info("Bootstrap admin created", zap.String("email", s.cfg.AdminEmail))
}

// ensureCoverage provisions a coverage unless a descriptor with that name
// already exists. created reports whether provisioning happened now.
func (s *Seeder) ensureCoverage(ctx context.Context, name string) (*model.Coverage, bool, error) {
	var cov model.Coverage
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&cov).Error
	if err == nil {
		return &cov, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	created, err := s.provisioner.CreateCoverage(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (s *Seeder) loadCoverageData(ctx context.Context, log *zap.Logger, cov *model.Coverage) {
	tdb, err := s.router.Resolve(ctx, cov)
	if err != nil {
		log.Warn("Could not resolve coverage for seeding",
			zap.String("coverage", cov.Name), zap.Error(err))
		return
	}

	prefix := strings.ToLower(cov.Name)

	if n, err := s.loadSensors(tdb, filepath.Join(s.cfg.DataDir, prefix+"_sensor_data.geojson")); err != nil {
		log.Warn("Sensor data load skipped", zap.String("coverage", cov.Name), zap.Error(err))
	} else if n > 0 {
		log.Info("Sensors loaded", zap.String("coverage", cov.Name), zap.Int("count", n))
	}

	if n, err := s.loadSensorReadings(tdb, filepath.Join(s.cfg.DataDir, prefix+"_sensor_reading_data.csv")); err != nil {
		log.Warn("Sensor reading data load skipped", zap.String("coverage", cov.Name), zap.Error(err))
	} else if n > 0 {
		log.Info("Sensor readings loaded", zap.String("coverage", cov.Name), zap.Int("count", n))
	}

	if n, err := s.loadSinks(tdb, filepath.Join(s.cfg.DataDir, prefix+"_sink_data.geojson")); err != nil {
		log.Warn("Sink data load skipped", zap.String("coverage", cov.Name), zap.Error(err))
	} else if n > 0 {
		log.Info("Sinks loaded", zap.String("coverage", cov.Name), zap.Int("count", n))
	}
}

func (s *Seeder) loadSensors(tdb *gorm.DB, path string) (int, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return 0, err
	}

	var sensors []model.Sensor
	for _, f := range fc.Features {
		sensor := model.Sensor{
			ID:     propInt(f.Properties, "id"),
			FID:    propInt(f.Properties, "fid"),
			XCoord: propFloat(f.Properties, "xcoord"),
			YCoord: propFloat(f.Properties, "ycoord"),
			ZCoord: propFloat(f.Properties, "zcoord"),
		}
		if pt, ok := f.Geometry.(*geom.Point); ok {
			c := pt.Coords()
			z := 0.0
			if len(c) > 2 {
				z = c[2]
			}
			sensor.Geometry = geometry.NewPointZ(c[0], c[1], z)
		} else {
			sensor.Geometry = geometry.NewPointZ(sensor.XCoord, sensor.YCoord, sensor.ZCoord)
		}
		sensors = append(sensors, sensor)
	}
	if len(sensors) == 0 {
		return 0, nil
	}
	if err := tdb.CreateInBatches(sensors, insertBatchSize).Error; err != nil {
		return 0, err
	}
	return len(sensors), nil
}

func (s *Seeder) loadSensorReadings(tdb *gorm.DB, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return 0, err
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	var readings []model.SensorReading
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		reading, err := readingFromRecord(col, rec)
		if err != nil {
			return 0, err
		}
		readings = append(readings, reading)
	}
	if len(readings) == 0 {
		return 0, nil
	}
	if err := tdb.CreateInBatches(readings, insertBatchSize).Error; err != nil {
		return 0, err
	}
	return len(readings), nil
}

func (s *Seeder) loadSinks(tdb *gorm.DB, path string) (int, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return 0, err
	}

	var sinks []model.Sink
	for _, f := range fc.Features {
		sink := model.Sink{
			ParcelID:    propString(f.Properties, "parcel_id"),
			Specie:      propString(f.Properties, "specie"),
			Age:         propInt(f.Properties, "age"),
			Area:        propInt(f.Properties, "area"),
			NDVINoCloud: propIntPtr(f.Properties, "ndvi_nocloud"),
			CO2Removed:  propIntPtr(f.Properties, "co2removed"),
			CO2Balance:  propInt64Ptr(f.Properties, "co2balance"),
			CO2Emitted:  propInt64Ptr(f.Properties, "co2emitted"),
			Colonna:     propInt64Ptr(f.Properties, "colonna"),
		}
		if dt := propString(f.Properties, "date_time"); dt != "" {
			if t, err := parseSeedTime(dt); err == nil {
				sink.DateTime = t
			}
		}
		if f.Geometry != nil {
			poly, err := geometry.FromGeom(f.Geometry)
			if err != nil {
				return 0, fmt.Errorf("sink %s: %w", sink.ParcelID, err)
			}
			sink.Geometry = poly
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		return 0, nil
	}
	if err := tdb.CreateInBatches(sinks, insertBatchSize).Error; err != nil {
		return 0, err
	}
	return len(sinks), nil
}

func readFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return &fc, nil
}

func readingFromRecord(col map[string]int, rec []string) (model.SensorReading, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	reading := model.SensorReading{
		ID:              field("id"),
		FIDMeasurement:  atoi(field("fid_measurement")),
		OID:             field("oid"),
		ValuePayload:    field("value_payload"),
		DeviceID:        atoi(field("device_id")),
		ProtocolVersion: atoi(field("protocol_version")),

		AirTemperatureValue:       atof(field("air_temperature_value")),
		AirTemperatureUnit:        field("air_temperature_unit"),
		AirHumidityValue:          atof(field("air_humidity_value")),
		AirHumidityUnit:           field("air_humidity_unit"),
		BarometerTemperatureValue: atof(field("barometer_temperature_value")),
		BarometerTemperatureUnit:  field("barometer_temperature_unit"),
		BarometricPressureValue:   atoi(field("barometric_pressure_value")),
		BarometricPressureUnit:    field("barometric_pressure_unit"),
		CO2ConcentrationValue:     atoi(field("co2_concentration_value")),
		CO2ConcentrationUnit:      field("co2_concentration_unit"),
		CO2ConcentrationLPFValue:  atoi(field("co2_concentration_lpf_value")),
		CO2ConcentrationLPFUnit:   field("co2_concentration_lpf_unit"),
		CO2SensorTemperatureValue: atof(field("co2_sensor_temperature_value")),
		CO2SensorTemperatureUnit:  field("co2_sensor_temperature_unit"),
		CapacitorVoltage1Value:    atof(field("capacitor_voltage_1_value")),
		CapacitorVoltage1Unit:     field("capacitor_voltage_1_unit"),
		CapacitorVoltage2Value:    atof(field("capacitor_voltage_2_value")),
		CapacitorVoltage2Unit:     field("capacitor_voltage_2_unit"),
		CO2SensorStatusValue:      atoiPtr(field("co2_sensor_status_value")),
		CO2SensorStatusUnit:       field("co2_sensor_status_unit"),
		RawIRReadingValue:         atoiPtr(field("raw_ir_reading_value")),
		RawIRReadingUnit:          strPtr(field("raw_ir_reading_unit")),
		RawIRReadingLPFValue:      atoi(field("raw_ir_reading_lpf_value")),
		RawIRReadingLPFUnit:       strPtr(field("raw_ir_reading_lpf_unit")),
		BatteryVoltageValue:       atof(field("battery_voltage_value")),
		BatteryVoltageUnit:        field("battery_voltage_unit"),
	}

	if dt := field("date_time"); dt != "" {
		t, err := parseSeedTime(dt)
		if err != nil {
			return reading, fmt.Errorf("reading %s: %w", reading.ID, err)
		}
		reading.DateTime = t
	}
	return reading, nil
}

// seedTimeLayouts covers the timestamp spellings found in the datasets.
var seedTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseSeedTime(s string) (time.Time, error) {
	for _, layout := range seedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func atoiPtr(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func propString(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propFloat(props map[string]interface{}, key string) float64 {
	if v, ok := props[key].(float64); ok {
		return v
	}
	return 0
}

func propInt(props map[string]interface{}, key string) int {
	return int(propFloat(props, key))
}

func propIntPtr(props map[string]interface{}, key string) *int {
	if v, ok := props[key].(float64); ok {
		n := int(v)
		return &n
	}
	return nil
}

func propInt64Ptr(props map[string]interface{}, key string) *int64 {
	if v, ok := props[key].(float64); ok {
		n := int64(v)
		return &n
	}
	return nil
}
