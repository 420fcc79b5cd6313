package handlers

import (
	"net/http"
)

type object = map[string]interface{}

func pathParam(name, description string) object {
	return object{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      map[string]string{"type": "string"},
	}
}

func queryParam(name, description, typ string) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      map[string]string{"type": typ},
	}
}

func jsonBody(properties object, required ...string) object {
	return object{
		"required": true,
		"content": object{
			"application/json": object{
				"schema": object{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		},
	}
}

func fileResponses(description string, types ...string) object {
	content := object{}
	for _, t := range types {
		content[t] = object{"schema": map[string]string{"type": "string", "format": "binary"}}
	}
	return object{
		"200": object{"description": description, "content": content},
		"400": object{"description": "Invalid request parameters"},
		"404": object{"description": "Selection matched no data"},
		"500": object{"description": "Dataset could not be read"},
	}
}

var (
	number   = map[string]string{"type": "number"}
	str      = map[string]string{"type": "string"}
	integer  = map[string]string{"type": "integer"}
	boolean  = map[string]string{"type": "boolean"}
	points   = object{"type": "array", "items": object{"type": "array", "items": number}}
	bbox     = object{"type": "array", "items": number, "minItems": 4, "maxItems": 4}
	strArray = object{"type": "array", "items": str}
	decimals = object{"oneOf": []interface{}{integer, object{"type": "string", "pattern": "^[0-9]+$"}}}
)

var (
	locationParams = []object{
		pathParam("lat", "Latitude of the grid cell"),
		pathParam("lon", "Longitude of the grid cell"),
		pathParam("var", "Variable name"),
	}
	regionParams = []object{
		pathParam("partition", "Spatial partition (e.g. census, health, watershed)"),
		pathParam("index", "Region index within the partition"),
		pathParam("var", "Variable name"),
	}
	sliceQuery = []object{
		queryParam("dataset_name", "CMIP5, CMIP6 or ANUSPLIN (default CMIP5)", "string"),
		queryParam("decimals", "Rounding decimals", "integer"),
	}
)

func withMonth(params []object) []object {
	out := append([]object{}, params...)
	out = append(out, pathParam("month", "ann, a month name, a season or all"))
	return append(out, sliceQuery...)
}

func charts(params []object) object {
	return object{
		"get": object{
			"summary":     "Chart series",
			"description": "Observed, modeled and 30-year series of one location",
			"parameters":  append(append([]object{}, params...), sliceQuery...),
			"responses": object{
				"200": object{"description": "Series keyed by name", "content": object{"application/json": object{"schema": object{"type": "object"}}}},
				"400": object{"description": "Invalid request parameters"},
			},
		},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the climate data API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Climate Data API",
			"description": "Point, region and bbox exports of climate projections, seasonal forecasts and station series",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:5000", "description": "Local development server"},
		},
		"paths": object{
			"/download": object{
				"post": object{
					"summary": "Export grid points or a bounding box",
					"requestBody": jsonBody(object{
						"var":             str,
						"month":           str,
						"format":          object{"type": "string", "enum": []string{"csv", "json", "netcdf", "parquet"}},
						"zipped":          boolean,
						"points":          points,
						"bbox":            bbox,
						"dataset_name":    str,
						"dataset_type":    str,
						"custom_filename": str,
						"decimals":        decimals,
					}, "var", "month", "format"),
					"responses": fileResponses("Exported data", "text/csv", "application/json", "application/x-netcdf4", "application/vnd.apache.parquet", "application/zip"),
				},
			},
			"/download-s2d": object{
				"post": object{
					"summary": "Export seasonal to decadal forecast periods",
					"requestBody": jsonBody(object{
						"var":           str,
						"format":        object{"type": "string", "enum": []string{"csv", "json", "netcdf"}},
						"points":        points,
						"bbox":          bbox,
						"forecast_type": object{"type": "string", "enum": []string{"expected", "unusual"}},
						"frequency":     str,
						"periods":       strArray,
						"decimals":      decimals,
					}, "var", "format", "forecast_type", "frequency", "periods"),
					"responses": fileResponses("Zip of the requested periods", "application/zip"),
				},
			},
			"/download-ahccd": object{
				"get": object{
					"summary": "Export station series",
					"parameters": []object{
						queryParam("format", "csv or netcdf", "string"),
						queryParam("stations", "Comma separated station ids", "string"),
						queryParam("variable_type_filter", "T or P", "string"),
						queryParam("zipped", "Zip the CSV with its metadata", "boolean"),
					},
					"responses": fileResponses("Station series", "text/csv", "application/x-netcdf4", "application/zip"),
				},
				"post": object{
					"summary": "Export station series",
					"requestBody": jsonBody(object{
						"format":               str,
						"stations":             strArray,
						"variable_type_filter": str,
						"zipped":               boolean,
					}, "format", "stations"),
					"responses": fileResponses("Station series", "text/csv", "application/x-netcdf4", "application/zip"),
				},
			},
			"/download-30y/{lat}/{lon}/{var}/{month}": object{
				"get": object{
					"summary":    "30-year values and deltas of one grid cell as CSV",
					"parameters": withMonth(locationParams),
					"responses":  fileResponses("30-year CSV", "text/csv"),
				},
			},
			"/download-regional-30y/{partition}/{index}/{var}/{month}": object{
				"get": object{
					"summary":    "30-year values and deltas of one region as CSV",
					"parameters": withMonth(regionParams),
					"responses":  fileResponses("30-year CSV", "text/csv"),
				},
			},
			"/generate-charts/{lat}/{lon}/{var}":                  charts(locationParams),
			"/generate-regional-charts/{partition}/{index}/{var}": charts(regionParams),
			"/get-s2d-release-date/{var}/{freq}": object{
				"get": object{
					"summary": "Release date of the current forecast",
					"parameters": []object{
						pathParam("var", "Forecast variable"),
						pathParam("freq", "Forecast frequency"),
					},
					"responses": object{
						"200": object{"description": "Date as YYYY-MM-DD", "content": object{"application/json": object{"schema": str}}},
					},
				},
			},
			"/health": object{
				"get": object{
					"summary":     "Health check",
					"description": "Check if the API and its database are running",
					"responses": object{
						"200": object{"description": "API is healthy"},
						"503": object{"description": "Database is unreachable"},
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content": object{
								"text/plain": object{"schema": str},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
