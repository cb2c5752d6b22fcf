package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Project is a client project; its workflow layers drive the order state machine
type Project struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	Department     string    `json:"department"` // floor_plan, photos_enhancement, ...
	LayersColumn   string    `gorm:"column:workflow_layers;not null" json:"-"`
	WorkflowLayers []Layer   `gorm:"-" json:"workflow_layers"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Project model
func (Project) TableName() string {
	return "projects"
}

// BeforeSave serializes the ordered layer list
func (p *Project) BeforeSave(tx *gorm.DB) error {
	names := make([]string, 0, len(p.WorkflowLayers))
	for _, l := range p.WorkflowLayers {
		names = append(names, string(l))
	}
	p.LayersColumn = strings.Join(names, ",")
	return nil
}

// AfterFind restores the ordered layer list
func (p *Project) AfterFind(tx *gorm.DB) error {
	p.WorkflowLayers = nil
	for _, name := range strings.Split(p.LayersColumn, ",") {
		if name = strings.TrimSpace(name); name != "" {
			p.WorkflowLayers = append(p.WorkflowLayers, Layer(name))
		}
	}
	return nil
}

// HasLayer reports whether l is configured for the project
func (p *Project) HasLayer(l Layer) bool {
	return p.LayerIndex(l) >= 0
}

// LayerIndex returns the position of l in the workflow, or -1
func (p *Project) LayerIndex(l Layer) int {
	for i, configured := range p.WorkflowLayers {
		if configured == l {
			return i
		}
	}
	return -1
}

// FirstLayer returns the first configured layer
func (p *Project) FirstLayer() (Layer, bool) {
	if len(p.WorkflowLayers) == 0 {
		return "", false
	}
	return p.WorkflowLayers[0], true
}

// NextLayer returns the layer after l, false when l is the last one
func (p *Project) NextLayer(l Layer) (Layer, bool) {
	i := p.LayerIndex(l)
	if i < 0 || i+1 >= len(p.WorkflowLayers) {
		return "", false
	}
	return p.WorkflowLayers[i+1], true
}

// PreviousLayer returns the layer before l, false when l is the first one
func (p *Project) PreviousLayer(l Layer) (Layer, bool) {
	i := p.LayerIndex(l)
	if i <= 0 {
		return "", false
	}
	return p.WorkflowLayers[i-1], true
}
