package service

import (
	"alcyxob/coaching-app/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResolveCustomization merges, field by field, the request override over the
// client's stored customization over the template defaults. When
// applyClientCustomization is false the client layer is skipped entirely.
// Custom fields merge per key with the same precedence.
func ResolveCustomization(
	tmpl *domain.SessionTemplate,
	clientID primitive.ObjectID,
	request *domain.SessionCustomization,
	applyClientCustomization bool,
) domain.AppliedCustomizations {
	resolved := domain.AppliedCustomizations{
		Duration:   tmpl.DefaultDuration,
		Structure:  domain.CloneStructure(tmpl.Structure),
		Objectives: append([]string(nil), tmpl.Objectives...),
		Notes:      tmpl.DefaultNotes,
	}

	layers := make([]*domain.SessionCustomization, 0, 2)
	if applyClientCustomization {
		if cc := tmpl.CustomizationFor(clientID); cc != nil {
			layers = append(layers, &cc.SessionCustomization)
		}
	}
	if request != nil {
		layers = append(layers, request)
	}

	for _, layer := range layers {
		apply(&resolved, layer)
	}
	return resolved
}

func apply(dst *domain.AppliedCustomizations, layer *domain.SessionCustomization) {
	if layer.Duration != nil {
		dst.Duration = *layer.Duration
	}
	if len(layer.Structure) > 0 {
		dst.Structure = domain.CloneStructure(layer.Structure)
	}
	if len(layer.Objectives) > 0 {
		dst.Objectives = append([]string(nil), layer.Objectives...)
	}
	if layer.Notes != nil {
		dst.Notes = *layer.Notes
	}
	if len(layer.CustomFields) > 0 {
		if dst.CustomFields == nil {
			dst.CustomFields = make(map[string]interface{}, len(layer.CustomFields))
		}
		for k, v := range layer.CustomFields {
			dst.CustomFields[k] = v
		}
	}
}
