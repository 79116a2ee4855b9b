package model

import "encoding/json"

// Village is one gazetteer entry: a village with its administrative parents,
// centroid and optional boundary polygon.
type Village struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	District string `json:"district"`
	Block    string `json:"block"`

	CentroidLng float64 `json:"centroid_lng"`
	CentroidLat float64 `json:"centroid_lat"`

	Boundary json.RawMessage `json:"boundary,omitempty"`
}

// LayerFeature is one feature of a spatial reference layer
// (forest/protected/revenue boundary).
type LayerFeature struct {
	ID         string          `json:"id"`
	LayerType  string          `json:"layer_type"`
	Name       string          `json:"name"`
	RegionCode string          `json:"region_code,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
}
