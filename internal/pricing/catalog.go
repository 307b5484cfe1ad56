package pricing

import (
	"fmt"
	"os"
	"sort"

	"cleanbook/internal/models"

	"gopkg.in/yaml.v2"
)

// StandardBucket prices standard rooms as a group: Price covers the first
// Units rooms and each further room costs ExtraUnit.
type StandardBucket struct {
	ServiceID string       `yaml:"service_id"`
	Units     int          `yaml:"units"`
	Price     models.Money `yaml:"price"`
	ExtraUnit models.Money `yaml:"extra_unit"`
}

// Catalog is the priced list of services and room types.
type Catalog struct {
	Bucket    StandardBucket    `yaml:"standard_bucket"`
	Services  []models.Service  `yaml:"services"`
	RoomTypes []models.RoomType `yaml:"room_types"`

	services map[string]models.Service
	rooms    map[roomKey]models.RoomType
}

type roomKey struct {
	service string
	room    string
}

func money(d float64) *models.Money {
	m := models.Dollars(d)
	return &m
}

// DefaultCatalog is the price list used when no catalog file is configured.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Bucket: StandardBucket{ServiceID: "carpet", Units: 5, Price: models.Dollars(89), ExtraUnit: models.Dollars(45)},
		Services: []models.Service{
			{ID: "carpet", Name: "Carpet Cleaning", Description: "Deep steam cleaning for carpets", Icon: "carpet"},
			{ID: "upholstery", Name: "Upholstery Cleaning", Description: "Sofas, chairs, mattresses and more", Icon: "sofa"},
			{ID: "tile", Name: "Tile & Grout Cleaning", Description: "Tile floors and grout lines", Icon: "grid"},
			{ID: "pet-treatment", Name: "Pet Odor & Stain Treatment", FixedPrice: money(90)},
			{ID: "carpet-protection", Name: "Carpet Protection", FixedPrice: money(90)},
			{ID: "upholstery-pet-treatment", Name: "Pet Odor & Stain Treatment for Upholstery", FixedPrice: money(60)},
			{ID: "upholstery-protection", Name: "Fabric Protection", FixedPrice: money(60)},
		},
		RoomTypes: []models.RoomType{
			{ID: "bedroom", ServiceID: "carpet", Name: "Bedroom/Living Room", SpecialPrice: money(45), IsStandardRoom: true},
			{ID: "hallway", ServiceID: "carpet", Name: "Hallway", SpecialPrice: money(15)},
			{ID: "stairs", ServiceID: "carpet", Name: "Stairs", SpecialPrice: money(45)},
			{ID: "area-rug", ServiceID: "carpet", Name: "Area Rug", SpecialPrice: money(30)},
			{ID: "walk-in-closet", ServiceID: "carpet", Name: "Walk-in Closet", SpecialPrice: money(15)},

			{ID: "sofa", ServiceID: "upholstery", Name: "Sofa", SpecialPrice: money(79)},
			{ID: "loveseat", ServiceID: "upholstery", Name: "Loveseat", SpecialPrice: money(69)},
			{ID: "recliner", ServiceID: "upholstery", Name: "Recliner", SpecialPrice: money(49)},
			{ID: "dining-chair", ServiceID: "upholstery", Name: "Dining Chair", SpecialPrice: money(15)},
			{ID: "sectional", ServiceID: "upholstery", Name: "Sectional", SpecialPrice: money(149)},
			{ID: "ottoman", ServiceID: "upholstery", Name: "Ottoman", SpecialPrice: money(20)},
			{ID: "mattress", ServiceID: "upholstery", Name: "Mattress", SpecialPrice: money(50)},
			{ID: "fabric-headboard", ServiceID: "upholstery", Name: "Fabric Headboard", SpecialPrice: money(50)},
			{ID: "fabric-bed", ServiceID: "upholstery", Name: "Entire Fabric Bed", SpecialPrice: money(99)},
			{ID: "sofa-chair", ServiceID: "upholstery", Name: "Sofa Chair", SpecialPrice: money(45)},
			{ID: "chaise", ServiceID: "upholstery", Name: "Chaise", SpecialPrice: money(60)},

			{ID: "square-footage", ServiceID: "tile", Name: "Square Footage", PricePerSqFt: money(0.45)},
			{ID: "grout-sealant", ServiceID: "tile", Name: "Grout Sealant", PricePerSqFt: money(0.30)},
			{ID: "kitchen", ServiceID: "tile", Name: "Kitchen", IsCheckbox: true},
			{ID: "bathroom", ServiceID: "tile", Name: "Bathroom"},
			{ID: "entryway", ServiceID: "tile", Name: "Entryway", IsCheckbox: true},
			{ID: "bedroom", ServiceID: "tile", Name: "Bedroom"},
			{ID: "living-room", ServiceID: "tile", Name: "Living Room", IsCheckbox: true},
		},
	}
	if err := c.index(); err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a catalog YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	if c.Bucket.Units <= 0 {
		return fmt.Errorf("catalog: standard_bucket.units must be positive")
	}
	c.services = make(map[string]models.Service, len(c.Services))
	for _, s := range c.Services {
		if s.ID == "" {
			return fmt.Errorf("catalog: service without id")
		}
		if _, dup := c.services[s.ID]; dup {
			return fmt.Errorf("catalog: duplicate service %q", s.ID)
		}
		c.services[s.ID] = s
	}
	c.rooms = make(map[roomKey]models.RoomType, len(c.RoomTypes))
	for _, r := range c.RoomTypes {
		if _, ok := c.services[r.ServiceID]; !ok {
			return fmt.Errorf("catalog: room %q references unknown service %q", r.ID, r.ServiceID)
		}
		k := roomKey{r.ServiceID, r.ID}
		if _, dup := c.rooms[k]; dup {
			return fmt.Errorf("catalog: duplicate room %s/%s", r.ServiceID, r.ID)
		}
		c.rooms[k] = r
	}
	return nil
}

func (c *Catalog) Service(id string) (models.Service, bool) {
	s, ok := c.services[id]
	return s, ok
}

func (c *Catalog) Room(serviceID, roomID string) (models.RoomType, bool) {
	r, ok := c.rooms[roomKey{serviceID, roomID}]
	return r, ok
}

// RoomsFor returns the room types of a service sorted by name.
func (c *Catalog) RoomsFor(serviceID string) []models.RoomType {
	var out []models.RoomType
	for _, r := range c.RoomTypes {
		if r.ServiceID == serviceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
