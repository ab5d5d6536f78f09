package mediaflow

import (
	"maps"
	"slices"
)

type Metadata struct {
	Attributes  map[string]string `json:"attributes,omitempty"`
	Description string            `json:"description,omitempty"`
	Name        string            `json:"name,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

func (m *Metadata) Merge(i Metadata) Metadata {
	if len(i.Attributes) > 0 {
		if m.Attributes == nil {
			m.Attributes = make(map[string]string, len(i.Attributes))
		}
		maps.Copy(m.Attributes, i.Attributes)
	}
	if i.Description != "" {
		m.Description = i.Description
	}
	if i.Name != "" {
		m.Name = i.Name
	}
	for _, t := range i.Tags {
		if !slices.Contains(m.Tags, t) {
			m.Tags = append(m.Tags, t)
		}
	}
	return *m
}
