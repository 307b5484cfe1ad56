package models

// Service is a top-level offering (carpet, upholstery, tile) or a flat add-on.
type Service struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
	FixedPrice  *Money `json:"fixed_price,omitempty" yaml:"fixed_price"`
}

// RoomType is a priced unit within a service.
type RoomType struct {
	ID             string `json:"id" yaml:"id"`
	ServiceID      string `json:"service_id" yaml:"service_id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description,omitempty" yaml:"description"`
	Icon           string `json:"icon,omitempty" yaml:"icon"`
	SpecialPrice   *Money `json:"special_price,omitempty" yaml:"special_price"`
	PricePerSqFt   *Money `json:"price_per_sqft,omitempty" yaml:"price_per_sqft"`
	IsStandardRoom bool   `json:"is_standard_room" yaml:"is_standard_room"`
	IsCheckbox     bool   `json:"is_checkbox,omitempty" yaml:"is_checkbox"`
}

type ServiceAreaZip struct {
	ZipCode string `json:"zip_code" yaml:"zip_code"`
	City    string `json:"city" yaml:"city"`
	State   string `json:"state" yaml:"state"`
}
