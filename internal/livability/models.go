package livability

import "livability/internal/history"

type Coordinates = history.Coordinates

type Scores struct {
	Overall     float64 `json:"overall"`
	Services    float64 `json:"services"`
	Mobility    float64 `json:"mobility"`
	Safety      float64 `json:"safety"`
	Environment float64 `json:"environment"`
}

type FacilityCounts struct {
	Health        int `json:"health"`
	Education     int `json:"education"`
	Market        int `json:"market"`
	Transport     int `json:"transport"`
	Walkability   int `json:"walkability"`
	Recreation    int `json:"recreation"`
	Safety        int `json:"safety"`
	Police        int `json:"police"`
	Religious     int `json:"religious"`
	Accessibility int `json:"accessibility"`
}

type Facility struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Category     string            `json:"category"`
	Lng          float64           `json:"lng"`
	Lat          float64           `json:"lat"`
	Distance     float64           `json:"distance"`
	Contribution float64           `json:"contribution"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// LocationScore is the scoring backend's result for one location.
type LocationScore struct {
	Scores           Scores         `json:"scores"`
	FacilityCounts   FacilityCounts `json:"facility_counts"`
	NearbyFacilities []string       `json:"nearby_facilities"`
	Facilities       []Facility     `json:"facilities"`
	// Address is set when the backend already resolved one.
	Address string `json:"address,omitempty"`
}

// ScoredLocation is a LocationScore for a requested point with its resolved
// display address.
type ScoredLocation struct {
	Coordinates Coordinates
	Address     string
	Score       LocationScore
	Cached      bool
}

// Place is one geocoder search hit.
type Place struct {
	PlaceID     int64
	DisplayName string
	Lat         float64
	Lng         float64
}
