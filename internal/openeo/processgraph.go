package openeo

import (
	"strings"

	"github.com/geoviz/s2-visualizer/internal/core/model"
)

const FormatNetCDF = "netCDF"

type Node struct {
	ProcessID string         `json:"process_id"`
	Arguments map[string]any `json:"arguments"`
	Result    bool           `json:"result,omitempty"`
}

// ProcessGraph maps node ids to process invocations.
type ProcessGraph map[string]Node

type fromNode struct {
	FromNode string `json:"from_node"`
}

type fromParameter struct {
	FromParameter string `json:"from_parameter"`
}

type spatialExtent struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
	CRS   string  `json:"crs"`
}

// LoadCollection builds load_collection followed by save_result. The cloud
// cover ceiling is a property filter evaluated by the backend per scene.
func LoadCollection(q model.Query, format string) ProcessGraph {
	if strings.TrimSpace(format) == "" {
		format = FormatNetCDF
	}
	bands := make([]string, len(q.Bands))
	for i, b := range q.Bands {
		bands[i] = string(b)
	}
	load := Node{
		ProcessID: "load_collection",
		Arguments: map[string]any{
			"id": q.Collection,
			"spatial_extent": spatialExtent{
				West:  q.BBox.West,
				South: q.BBox.South,
				East:  q.BBox.East,
				North: q.BBox.North,
				CRS:   model.CRS,
			},
			"temporal_extent": q.TemporalExtent(),
			"bands":           bands,
			"properties": map[string]any{
				"eo:cloud_cover": map[string]any{
					"process_graph": ProcessGraph{
						"cc": {
							ProcessID: "lte",
							Arguments: map[string]any{
								"x": fromParameter{FromParameter: "value"},
								"y": q.MaxCloudCover,
							},
							Result: true,
						},
					},
				},
			},
		},
	}
	save := Node{
		ProcessID: "save_result",
		Arguments: map[string]any{
			"data":    fromNode{FromNode: "load1"},
			"format":  format,
			"options": map[string]any{},
		},
		Result: true,
	}
	return ProcessGraph{"load1": load, "save1": save}
}
