package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Drain orders accepted by drain_order.
const (
	// DrainReverse captures the last planned viewpoint first.
	DrainReverse = "reverse"
	// DrainPlanned captures viewpoints in planning order.
	DrainPlanned = "planned"
)

// Door selection strategies accepted by door_selection.
const (
	// DoorFirst uses the first intersecting door found.
	DoorFirst = "first"
	// DoorNearest uses the intersecting door closest to the room center.
	DoorNearest = "nearest"
)

// PipelineConfig holds the tunable parameters of a capture run.
// Every field is optional; the Get* methods supply the default for any
// field the JSON file leaves out, so partial configs are safe.
type PipelineConfig struct {
	// Search params
	RoomCategory    *string `json:"room_category,omitempty"`
	DoorCategory    *string `json:"door_category,omitempty"`
	SearchAttribute *string `json:"search_attribute,omitempty"`
	SearchHidden    *bool   `json:"search_hidden,omitempty"`

	// Planner params (meters; scaled by the model unit multiplier)
	EyeHeightMeters  *float64 `json:"eye_height_m,omitempty"`
	DoorOffsetMeters *float64 `json:"door_offset_m,omitempty"`
	DoorSelection    *string  `json:"door_selection,omitempty"`

	// Capture params
	ImageWidth    *int        `json:"image_width,omitempty"`
	ImageHeight   *int        `json:"image_height,omitempty"`
	FocalLengthMM *float64    `json:"focal_length_mm,omitempty"`
	UpVector      *[3]float64 `json:"up_vector,omitempty"`
	StepTimeout   *string     `json:"step_timeout,omitempty"` // duration string like "30s"
	DrainOrder    *string     `json:"drain_order,omitempty"`

	// Export params
	FetchConcurrency *int    `json:"fetch_concurrency,omitempty"`
	ExportName       *string `json:"export_name,omitempty"`
	WriteReport      *bool   `json:"write_report,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a PipelineConfig with every field populated
// from the built-in defaults.
func DefaultPipelineConfig() *PipelineConfig {
	e := EmptyPipelineConfig()
	up := [3]float64{0, 0, 1}
	return &PipelineConfig{
		RoomCategory:     ptrString(e.GetRoomCategory()),
		DoorCategory:     ptrString(e.GetDoorCategory()),
		SearchAttribute:  ptrString(e.GetSearchAttribute()),
		SearchHidden:     ptrBool(e.GetSearchHidden()),
		EyeHeightMeters:  ptrFloat64(e.GetEyeHeightMeters()),
		DoorOffsetMeters: ptrFloat64(e.GetDoorOffsetMeters()),
		DoorSelection:    ptrString(e.GetDoorSelection()),
		ImageWidth:       ptrInt(e.GetImageWidth()),
		ImageHeight:      ptrInt(e.GetImageHeight()),
		FocalLengthMM:    ptrFloat64(e.GetFocalLengthMM()),
		UpVector:         &up,
		StepTimeout:      ptrString(e.GetStepTimeout().String()),
		DrainOrder:       ptrString(e.GetDrainOrder()),
		FetchConcurrency: ptrInt(e.GetFetchConcurrency()),
		ExportName:       ptrString(e.GetExportName()),
		WriteReport:      ptrBool(e.GetWriteReport()),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/viewer/offline/
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.RoomCategory != nil && *c.RoomCategory == "" {
		return fmt.Errorf("room_category must not be empty")
	}
	if c.DoorCategory != nil && *c.DoorCategory == "" {
		return fmt.Errorf("door_category must not be empty")
	}

	if c.EyeHeightMeters != nil && *c.EyeHeightMeters < 0 {
		return fmt.Errorf("eye_height_m must be non-negative, got %f", *c.EyeHeightMeters)
	}
	if c.DoorOffsetMeters != nil && *c.DoorOffsetMeters < 0 {
		return fmt.Errorf("door_offset_m must be non-negative, got %f", *c.DoorOffsetMeters)
	}

	if c.DoorSelection != nil {
		switch *c.DoorSelection {
		case DoorFirst, DoorNearest:
		default:
			return fmt.Errorf("door_selection must be %q or %q, got %q", DoorFirst, DoorNearest, *c.DoorSelection)
		}
	}

	if c.ImageWidth != nil && *c.ImageWidth <= 0 {
		return fmt.Errorf("image_width must be positive, got %d", *c.ImageWidth)
	}
	if c.ImageHeight != nil && *c.ImageHeight <= 0 {
		return fmt.Errorf("image_height must be positive, got %d", *c.ImageHeight)
	}
	if c.FocalLengthMM != nil && *c.FocalLengthMM <= 0 {
		return fmt.Errorf("focal_length_mm must be positive, got %f", *c.FocalLengthMM)
	}
	if c.UpVector != nil && *c.UpVector == ([3]float64{}) {
		return fmt.Errorf("up_vector must not be the zero vector")
	}

	if c.StepTimeout != nil && *c.StepTimeout != "" {
		d, err := time.ParseDuration(*c.StepTimeout)
		if err != nil {
			return fmt.Errorf("invalid step_timeout '%s': %w", *c.StepTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("step_timeout must be non-negative, got %s", d)
		}
	}

	if c.DrainOrder != nil {
		switch *c.DrainOrder {
		case DrainReverse, DrainPlanned:
		default:
			return fmt.Errorf("drain_order must be %q or %q, got %q", DrainReverse, DrainPlanned, *c.DrainOrder)
		}
	}

	if c.FetchConcurrency != nil && *c.FetchConcurrency < 1 {
		return fmt.Errorf("fetch_concurrency must be at least 1, got %d", *c.FetchConcurrency)
	}
	if c.ExportName != nil && (*c.ExportName == "" || filepath.Base(*c.ExportName) != *c.ExportName) {
		return fmt.Errorf("export_name must be a bare file name, got %q", *c.ExportName)
	}

	return nil
}

// GetRoomCategory returns the room_category value or the default.
func (c *PipelineConfig) GetRoomCategory() string {
	if c.RoomCategory == nil {
		return "Revit Rooms"
	}
	return *c.RoomCategory
}

// GetDoorCategory returns the door_category value or the default.
func (c *PipelineConfig) GetDoorCategory() string {
	if c.DoorCategory == nil {
		return "Doors"
	}
	return *c.DoorCategory
}

// GetSearchAttribute returns the search_attribute value or the default.
func (c *PipelineConfig) GetSearchAttribute() string {
	if c.SearchAttribute == nil {
		return "Category"
	}
	return *c.SearchAttribute
}

// GetSearchHidden returns the search_hidden value or the default.
// Room objects are usually hidden in the viewer, so the default is true.
func (c *PipelineConfig) GetSearchHidden() bool {
	if c.SearchHidden == nil {
		return true
	}
	return *c.SearchHidden
}

// GetEyeHeightMeters returns the eye_height_m value or the default.
func (c *PipelineConfig) GetEyeHeightMeters() float64 {
	if c.EyeHeightMeters == nil {
		return 1.7
	}
	return *c.EyeHeightMeters
}

// GetDoorOffsetMeters returns the door_offset_m value or the default.
func (c *PipelineConfig) GetDoorOffsetMeters() float64 {
	if c.DoorOffsetMeters == nil {
		return 1.0
	}
	return *c.DoorOffsetMeters
}

// GetDoorSelection returns the door_selection value or the default.
func (c *PipelineConfig) GetDoorSelection() string {
	if c.DoorSelection == nil {
		return DoorFirst
	}
	return *c.DoorSelection
}

// GetImageWidth returns the image_width value or the default.
func (c *PipelineConfig) GetImageWidth() int {
	if c.ImageWidth == nil {
		return 512
	}
	return *c.ImageWidth
}

// GetImageHeight returns the image_height value or the default.
func (c *PipelineConfig) GetImageHeight() int {
	if c.ImageHeight == nil {
		return 512
	}
	return *c.ImageHeight
}

// GetFocalLengthMM returns the focal_length_mm value or the default.
func (c *PipelineConfig) GetFocalLengthMM() float64 {
	if c.FocalLengthMM == nil {
		return 10
	}
	return *c.FocalLengthMM
}

// GetUpVector returns the up_vector value or the default (+Z).
func (c *PipelineConfig) GetUpVector() r3.Vec {
	if c.UpVector == nil {
		return r3.Vec{X: 0, Y: 0, Z: 1}
	}
	v := *c.UpVector
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// GetStepTimeout parses and returns the StepTimeout as a time.Duration.
// Zero disables the per-step timeout.
func (c *PipelineConfig) GetStepTimeout() time.Duration {
	if c.StepTimeout == nil || *c.StepTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StepTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetDrainOrder returns the drain_order value or the default.
func (c *PipelineConfig) GetDrainOrder() string {
	if c.DrainOrder == nil {
		return DrainReverse
	}
	return *c.DrainOrder
}

// GetFetchConcurrency returns the fetch_concurrency value or the default.
func (c *PipelineConfig) GetFetchConcurrency() int {
	if c.FetchConcurrency == nil {
		return 4
	}
	return *c.FetchConcurrency
}

// GetExportName returns the export_name value or the default.
func (c *PipelineConfig) GetExportName() string {
	if c.ExportName == nil {
		return "RoomsElements"
	}
	return *c.ExportName
}

// GetWriteReport returns the write_report value or the default.
func (c *PipelineConfig) GetWriteReport() bool {
	if c.WriteReport == nil {
		return true
	}
	return *c.WriteReport
}
