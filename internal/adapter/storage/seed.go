package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is the catalog snapshot the engine reads but does not own: products, routes,
// devices and their cabinet planograms.
type Seed struct {
	Products []SeedProduct `yaml:"products"`
	Routes   []SeedRoute   `yaml:"routes"`
	Devices  []SeedDevice  `yaml:"devices"`
}

type SeedProduct struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type SeedRoute struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	DriverID string `yaml:"driver_id"`
}

type SeedDevice struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Location string        `yaml:"location"`
	Cabinets []SeedCabinet `yaml:"cabinets"`
}

type SeedCabinet struct {
	Index int        `yaml:"index"`
	Slots []SeedSlot `yaml:"slots"`
}

type SeedSlot struct {
	Slot     int    `yaml:"slot"`
	Product  string `yaml:"product"`
	Quantity int    `yaml:"quantity"`
	Capacity int    `yaml:"capacity"`
	Par      int    `yaml:"par"`
}

func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (*Seed, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *Seed) Validate() error {
	products := make(map[string]bool, len(s.Products))
	for _, p := range s.Products {
		if p.ID == "" {
			return fmt.Errorf("seed: product without id")
		}
		products[p.ID] = true
	}
	for _, d := range s.Devices {
		if d.ID == "" {
			return fmt.Errorf("seed: device without id")
		}
		for _, c := range d.Cabinets {
			if c.Index < 0 || c.Index > 2 {
				return fmt.Errorf("seed: device %s: cabinet index %d out of range", d.ID, c.Index)
			}
			for _, sl := range c.Slots {
				if !products[sl.Product] {
					return fmt.Errorf("seed: device %s cabinet %d slot %d: unknown product %q", d.ID, c.Index, sl.Slot, sl.Product)
				}
				if sl.Quantity < 0 || sl.Quantity > sl.Capacity {
					return fmt.Errorf("seed: device %s cabinet %d slot %d: quantity %d outside [0,%d]", d.ID, c.Index, sl.Slot, sl.Quantity, sl.Capacity)
				}
			}
		}
	}
	return nil
}

// ApplySeed upserts products, routes and devices in one transaction. Slots are insert
// only: once a slot exists its quantity belongs to the inventory ledger, so reapplying
// the seed on a live database never resets stock.
func (s *Store) ApplySeed(ctx context.Context, seed *Seed) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}
	for _, p := range seed.Products {
		if err := exec(s.upsert("products", []string{"id"}, []string{"name", "category"}), p.ID, p.Name, p.Category); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for _, r := range seed.Routes {
		if err := exec(s.upsert("routes", []string{"id"}, []string{"name", "driver_id"}), r.ID, r.Name, r.DriverID); err != nil {
			return fmt.Errorf("seed route %s: %w", r.ID, err)
		}
	}
	for _, d := range seed.Devices {
		if err := exec(s.upsert("devices", []string{"id"}, []string{"name", "location"}), d.ID, d.Name, d.Location); err != nil {
			return fmt.Errorf("seed device %s: %w", d.ID, err)
		}
		for _, c := range d.Cabinets {
			for _, sl := range c.Slots {
				err := exec(s.insertMissing("cabinet_slots",
					[]string{"device_id", "cabinet_index", "slot_index"},
					[]string{"product_id", "quantity", "capacity", "par_level"}),
					d.ID, c.Index, sl.Slot, sl.Product, sl.Quantity, sl.Capacity, sl.Par)
				if err != nil {
					return fmt.Errorf("seed slot %s/%d/%d: %w", d.ID, c.Index, sl.Slot, err)
				}
			}
		}
	}
	return commit(tx)
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) upsert(table string, keys, cols []string) string {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if s.dialect == DialectMySQL {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	if s.dialect == DialectMySQL {
		return insertInto(table, keys, cols) + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return insertInto(table, keys, cols) + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
}

// insertMissing leaves existing rows untouched. MySQL gets a no-op update rather than
// INSERT IGNORE, which would also swallow constraint errors.
func (s *Store) insertMissing(table string, keys, cols []string) string {
	if s.dialect == DialectMySQL {
		return insertInto(table, keys, cols) + fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", keys[0], keys[0])
	}
	return insertInto(table, keys, cols) + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(keys, ", "))
}

func insertInto(table string, keys, cols []string) string {
	all := append(append([]string(nil), keys...), cols...)
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(all, ", "), placeholders(len(all)))
}
