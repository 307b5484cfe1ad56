// Package servicearea answers whether a ZIP code is inside the area the
// business serves and keeps the list of served ZIP codes.
package servicearea

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cleanbook/internal/domain"
	"cleanbook/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

// ErrLookup is returned when the store could not answer. It is never
// reported as "not in area".
var ErrLookup = errors.New("service area lookup failed")

type Store interface {
	FindServiceAreaZip(ctx context.Context, zip string) (*models.ServiceAreaZip, error)
	ListServiceAreaZips(ctx context.Context) ([]models.ServiceAreaZip, error)
	UpsertServiceAreaZip(ctx context.Context, z models.ServiceAreaZip) error
	DeleteServiceAreaZip(ctx context.Context, zip string) error
	SeedServiceAreaZips(ctx context.Context, zips []models.ServiceAreaZip) error
}

// Result is the gate's answer. City and State are set only when InArea.
type Result struct {
	InArea bool   `json:"in_area"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
}

type Gate struct {
	store  Store
	logger *zerolog.Logger
}

func NewGate(store Store, logger *zerolog.Logger) *Gate {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Gate{store: store, logger: logger}
}

// IsServiceable trims zip and looks it up by exact match. The format is not
// checked here.
func (g *Gate) IsServiceable(ctx context.Context, zip string) (Result, error) {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return Result{}, nil
	}

	z, err := g.store.FindServiceAreaZip(ctx, zip)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Result{}, nil
	case err != nil:
		g.logger.Error().Err(err).Str("zip", zip).Msg("Service area lookup failed")
		return Result{}, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	return Result{InArea: true, City: z.City, State: z.State}, nil
}

func (g *Gate) List(ctx context.Context) ([]models.ServiceAreaZip, error) {
	return g.store.ListServiceAreaZips(ctx)
}

// Put adds or replaces a served ZIP code.
func (g *Gate) Put(ctx context.Context, z models.ServiceAreaZip) error {
	z.ZipCode = strings.TrimSpace(z.ZipCode)
	if !IsZip5(z.ZipCode) {
		return domain.Invalid("zip_code", "must be 5 digits")
	}
	z.City = strings.TrimSpace(z.City)
	z.State = strings.ToUpper(strings.TrimSpace(z.State))
	if err := g.store.UpsertServiceAreaZip(ctx, z); err != nil {
		return err
	}
	g.logger.Info().Str("zip", z.ZipCode).Str("city", z.City).Msg("Service area ZIP saved")
	return nil
}

func (g *Gate) Remove(ctx context.Context, zip string) error {
	if err := g.store.DeleteServiceAreaZip(ctx, strings.TrimSpace(zip)); err != nil {
		return err
	}
	g.logger.Info().Str("zip", zip).Msg("Service area ZIP removed")
	return nil
}

// Seed loads the YAML file at path and upserts every entry. An empty path
// is a no-op.
func (g *Gate) Seed(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	zips, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	if err := g.store.SeedServiceAreaZips(ctx, zips); err != nil {
		return 0, err
	}
	return len(zips), nil
}

type seedFile struct {
	ZipCodes []models.ServiceAreaZip `yaml:"zip_codes"`
}

// LoadSeed reads a file of the form
//
//	zip_codes:
//	  - {zip_code: "33602", city: Tampa, state: FL}
func LoadSeed(path string) ([]models.ServiceAreaZip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service area seed: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse service area seed: %w", err)
	}
	for i, z := range f.ZipCodes {
		if !IsZip5(z.ZipCode) {
			return nil, fmt.Errorf("service area seed entry %d: invalid zip %q", i, z.ZipCode)
		}
	}
	return f.ZipCodes, nil
}

// IsZip5 reports whether s is exactly five ASCII digits.
func IsZip5(s string) bool {
	if len(s) != 5 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
