package storage

import (
	"encoding/json"
	"time"

	"github.com/evcc-io/idconnect/util"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Value is the persisted state of a single path
type Value struct {
	ID        uint64    `gorm:"primaryKey"`
	VIN       string    `gorm:"column:vin;uniqueIndex:idx_value"`
	Domain    string    `gorm:"column:domain;uniqueIndex:idx_value"`
	Path      string    `gorm:"column:path;uniqueIndex:idx_value"`
	Val       string    `gorm:"column:val"`
	Unit      string    `gorm:"column:unit"`
	Name      string    `gorm:"column:name"`
	Channel   bool      `gorm:"column:channel"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// Store persists parameters
type Store struct {
	log *util.Logger
	db  *gorm.DB
}

// Open opens or creates the sqlite database at path
func Open(path string) (*Store, error) {
	log := util.NewLogger("sqlite")

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: &adapter{log: log},
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(new(Value)); err != nil {
		return nil, err
	}

	return &Store{log: log, db: db}, nil
}

// Upsert inserts or updates the parameter keyed by vin, domain and path
func (s *Store) Upsert(p util.Param) error {
	b, err := json.Marshal(p.Val)
	if err != nil {
		return err
	}

	v := Value{
		VIN:       p.VIN,
		Domain:    p.Domain,
		Path:      p.Key,
		Val:       string(b),
		Unit:      p.Unit,
		Name:      p.Name,
		Channel:   p.Channel,
		UpdatedAt: time.Now(),
	}

	if p.Channel {
		v.Val = ""
	}

	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vin"}, {Name: "domain"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"val", "unit", "name", "channel", "updated_at"}),
	}).Create(&v).Error
}

// Values returns all persisted values of the vehicle ordered by domain and path
func (s *Store) Values(vin string) ([]Value, error) {
	var res []Value
	err := s.db.Where("vin = ?", vin).Order("domain, path").Find(&res).Error
	return res, err
}

// Run persists the parameters received on the channel
func (s *Store) Run(in <-chan util.Param) {
	for p := range in {
		if err := s.Upsert(p); err != nil {
			s.log.ERROR.Printf("%s: %v", p.Path(), err)
		}
	}
}
