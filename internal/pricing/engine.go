// Package pricing turns a service configuration into a total. Every function
// here is pure: the same selection always yields the same amount, in any
// order.
package pricing

import (
	"sort"

	"cleanbook/internal/models"
)

type Engine struct {
	catalog *Catalog
}

func NewEngine(catalog *Catalog) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{catalog: catalog}
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

// Quote is a priced selection with one line per service and per room type.
// Line prices are line totals and add up to Total.
type Quote struct {
	Total    models.Money         `json:"total"`
	Services []models.BookingLine `json:"services"`
	Rooms    []models.BookingLine `json:"rooms"`
}

// Price returns the total for the selection. Unknown ids and rooms of
// unselected services contribute nothing.
func (e *Engine) Price(sel models.Selection) models.Money {
	return e.Quote(sel).Total
}

func (e *Engine) Quote(sel models.Selection) Quote {
	services := uniqueServices(sel.Services)
	counts, active := aggregateRooms(sel.Rooms)

	// Rooms only count towards a service the customer selected.
	keys := make([]roomKey, 0, len(counts))
	for k := range counts {
		if _, ok := services[k.service]; ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].service != keys[j].service {
			return keys[i].service < keys[j].service
		}
		return keys[i].room < keys[j].room
	})

	var q Quote
	bucket := e.catalog.Bucket

	standard := 0
	for _, k := range keys {
		rt, ok := e.catalog.Room(k.service, k.room)
		if ok && rt.IsStandardRoom && k.service == bucket.ServiceID {
			standard += counts[k]
		}
	}
	bucketTotal := models.Money(0)
	if standard > 0 {
		bucketTotal = bucket.Price
		if standard > bucket.Units {
			bucketTotal += models.Money(standard-bucket.Units) * bucket.ExtraUnit
		}
	}
	bucketAssigned := false

	for _, k := range keys {
		rt, ok := e.catalog.Room(k.service, k.room)
		if !ok {
			continue
		}
		n := counts[k]
		line := models.BookingLine{ServiceID: k.service, RoomType: k.room, Name: rt.Name, Quantity: n}

		switch {
		case rt.IsStandardRoom && k.service == bucket.ServiceID:
			if !bucketAssigned {
				line.Price = bucketTotal
				bucketAssigned = true
			}
		case rt.PricePerSqFt != nil:
			if !active[k] {
				continue
			}
			line.Price = models.Money(n) * *rt.PricePerSqFt
		case rt.SpecialPrice != nil:
			line.Price = models.Money(n) * *rt.SpecialPrice
		}
		q.Rooms = append(q.Rooms, line)
		q.Total += line.Price
	}

	ids := make([]string, 0, len(services))
	for id := range services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		svc, ok := e.catalog.Service(id)
		if !ok {
			continue
		}
		line := models.BookingLine{ServiceID: id, Name: svc.Name, Quantity: 1}
		if svc.FixedPrice != nil {
			line.Price = *svc.FixedPrice
		}
		q.Services = append(q.Services, line)
		q.Total += line.Price
	}
	return q
}

func uniqueServices(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// aggregateRooms sums counts per (service, room). A sqft line is active if
// any of its entries is active.
func aggregateRooms(rooms []models.RoomSelection) (map[roomKey]int, map[roomKey]bool) {
	counts := make(map[roomKey]int, len(rooms))
	active := make(map[roomKey]bool, len(rooms))
	for _, r := range rooms {
		if r.Count <= 0 {
			continue
		}
		k := roomKey{r.ServiceID, r.RoomID}
		counts[k] += r.Count
		if r.Active {
			active[k] = true
		}
	}
	return counts, active
}
