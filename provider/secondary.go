package provider

import (
	"net/url"
	"strconv"
	"strings"
)

// secondaryListing is a sale listing as returned by the listings search
// and embedded in valuation comparables.
type secondaryListing struct {
	ID               flexString `json:"id"`
	FormattedAddress flexString `json:"formattedAddress"`
	AddressLine1     flexString `json:"addressLine1"`
	Price            flexFloat  `json:"price"`
	Status           flexString `json:"status"`
	ListedDate       flexDate   `json:"listedDate"`
	RemovedDate      flexDate   `json:"removedDate"`
	LastSeenDate     flexDate   `json:"lastSeenDate"`
	DaysOnMarket     flexFloat  `json:"daysOnMarket"`
	SquareFootage    flexFloat  `json:"squareFootage"`
	Bedrooms         flexFloat  `json:"bedrooms"`
	Bathrooms        flexFloat  `json:"bathrooms"`
	YearBuilt        flexFloat  `json:"yearBuilt"`
	Latitude         flexFloat  `json:"latitude"`
	Longitude        flexFloat  `json:"longitude"`
	Distance         *flexFloat `json:"distance"`
}

func (l secondaryListing) comp() (Comp, bool) {
	addr := nonEmpty(string(l.FormattedAddress), string(l.AddressLine1))
	if addr == "" {
		return Comp{}, false
	}
	// an active listing's lastSeenDate is just "today"
	sold := string(l.RemovedDate)
	if sold == "" && !strings.EqualFold(string(l.Status), "active") {
		sold = string(l.LastSeenDate)
	}
	return Comp{
		ID:        string(l.ID),
		Address:   addr,
		SalePrice: float64(max(l.Price, 0)),
		SaleDate:  sold,
		Sqft:      maxInt(l.SquareFootage.Int(), 0),
		Beds:      maxInt(l.Bedrooms.Int(), 0),
		Baths:     float64(max(l.Bathrooms, 0)),
		YearBuilt: maxInt(l.YearBuilt.Int(), 0),
		DOM:       maxInt(l.DaysOnMarket.Int(), 0),
		Latitude:  float64(l.Latitude),
		Longitude: float64(l.Longitude),
		Distance:  optFloat(l.Distance),
	}, true
}

// secondaryProperty is a public-record property, also used for the
// valuation subject.
type secondaryProperty struct {
	ID               flexString `json:"id"`
	FormattedAddress flexString `json:"formattedAddress"`
	AddressLine1     flexString `json:"addressLine1"`
	SquareFootage    flexFloat  `json:"squareFootage"`
	Bedrooms         flexFloat  `json:"bedrooms"`
	Bathrooms        flexFloat  `json:"bathrooms"`
	YearBuilt        flexFloat  `json:"yearBuilt"`
	Latitude         flexFloat  `json:"latitude"`
	Longitude        flexFloat  `json:"longitude"`
	LastSalePrice    flexFloat  `json:"lastSalePrice"`
	LastSaleDate     flexDate   `json:"lastSaleDate"`
	Distance         *flexFloat `json:"distance"`
	Features         struct {
		Basement     flexString `json:"basement"`
		Garage       flexString `json:"garage"`
		GarageType   flexString `json:"garageType"`
		GarageSpaces flexFloat  `json:"garageSpaces"`
		FloorCount   flexFloat  `json:"floorCount"`
	} `json:"features"`
}

func (p secondaryProperty) comp() (Comp, bool) {
	addr := nonEmpty(string(p.FormattedAddress), string(p.AddressLine1))
	if addr == "" {
		return Comp{}, false
	}
	parking := string(p.Features.GarageType)
	if parking == "" && strings.EqualFold(string(p.Features.Garage), "true") {
		parking = "Garage"
	}
	return Comp{
		ID:            string(p.ID),
		Address:       addr,
		SalePrice:     float64(max(p.LastSalePrice, 0)),
		SaleDate:      string(p.LastSaleDate),
		Sqft:          maxInt(p.SquareFootage.Int(), 0),
		Beds:          maxInt(p.Bedrooms.Int(), 0),
		Baths:         float64(max(p.Bathrooms, 0)),
		YearBuilt:     maxInt(p.YearBuilt.Int(), 0),
		Latitude:      float64(p.Latitude),
		Longitude:     float64(p.Longitude),
		Distance:      optFloat(p.Distance),
		Basement:      basementLabel(p.Features.Basement),
		ParkingType:   parking,
		ParkingSpaces: maxInt(p.Features.GarageSpaces.Int(), 0),
		Levels:        maxInt(p.Features.FloorCount.Int(), 0),
	}, true
}

func (p secondaryProperty) subject() *SubjectRecord {
	return &SubjectRecord{
		Address:       nonEmpty(string(p.FormattedAddress), string(p.AddressLine1)),
		Latitude:      float64(p.Latitude),
		Longitude:     float64(p.Longitude),
		Sqft:          maxInt(p.SquareFootage.Int(), 0),
		Beds:          maxInt(p.Bedrooms.Int(), 0),
		Baths:         float64(max(p.Bathrooms, 0)),
		YearBuilt:     maxInt(p.YearBuilt.Int(), 0),
		LastSalePrice: float64(max(p.LastSalePrice, 0)),
		LastSaleDate:  string(p.LastSaleDate),
	}
}

func specHints(v url.Values, q Query) {
	if q.Specs.Bedrooms > 0 {
		v.Set("bedrooms", formatHint(q.Specs.Bedrooms))
	}
	if q.Specs.Bathrooms > 0 {
		v.Set("bathrooms", formatHint(q.Specs.Bathrooms))
	}
}

func itoa(i int) string { return strconv.Itoa(i) }
