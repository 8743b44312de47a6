package manifest

import (
	"encoding/json"

	"github.com/samber/lo"
)

// Change records a field whose value differs between two manifests.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff describes how one manifest evolved into another.
//
// RemovedLayers is expected to be empty in normal forward-only
// operation; a non-empty value signals history was rewritten and is
// worth surfacing to the caller, not silently ignoring.
type Diff struct {
	AddedLayers   []Layer           `json:"added_layers"`
	RemovedLayers []Layer           `json:"removed_layers"`
	Environment   map[string]Change `json:"environment,omitempty"`
	AddedTags     []string          `json:"added_tags,omitempty"`
	RemovedTags   []string          `json:"removed_tags,omitempty"`
	Metadata      map[string]Change `json:"metadata,omitempty"`
}

// Compute diffs two manifests. Layer identity is full structural
// equality over the canonical JSON encoding.
func Compute(oldM, newM *Manifest) *Diff {
	d := &Diff{
		AddedLayers:   []Layer{},
		RemovedLayers: []Layer{},
	}

	oldKeys := lo.Map([]Layer(oldM.Layers), func(l Layer, _ int) string { return layerKey(l) })
	newKeys := lo.Map([]Layer(newM.Layers), func(l Layer, _ int) string { return layerKey(l) })

	for i, l := range newM.Layers {
		if !lo.Contains(oldKeys, newKeys[i]) {
			d.AddedLayers = append(d.AddedLayers, l)
		}
	}
	for i, l := range oldM.Layers {
		if !lo.Contains(newKeys, oldKeys[i]) {
			d.RemovedLayers = append(d.RemovedLayers, l)
		}
	}

	d.Environment = diffStringMaps(oldM.Environment, newM.Environment)
	d.AddedTags, d.RemovedTags = lo.Difference(newM.Tags, oldM.Tags)
	d.Metadata = diffMetadata(oldM.Metadata, newM.Metadata)

	return d
}

// layerKey returns a canonical identity string for a layer.
func layerKey(l Layer) string {
	data, err := json.Marshal(l)
	if err != nil {
		return ""
	}
	return string(data)
}

func diffStringMaps(oldVars, newVars map[string]string) map[string]Change {
	changes := map[string]Change{}
	for _, key := range lo.Union(lo.Keys(oldVars), lo.Keys(newVars)) {
		oldVal, oldOK := oldVars[key]
		newVal, newOK := newVars[key]
		if oldOK != newOK || oldVal != newVal {
			changes[key] = Change{Old: orNil(oldVal, oldOK), New: orNil(newVal, newOK)}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func orNil(v string, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

// diffMetadata compares every key present in either metadata object by
// its JSON-serialized value.
func diffMetadata(oldMD, newMD Metadata) map[string]Change {
	oldFields := metadataFields(oldMD)
	newFields := metadataFields(newMD)

	changes := map[string]Change{}
	for _, key := range lo.Union(lo.Keys(oldFields), lo.Keys(newFields)) {
		if string(oldFields[key]) != string(newFields[key]) {
			changes[key] = Change{Old: rawValue(oldFields[key]), New: rawValue(newFields[key])}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

func metadataFields(md Metadata) map[string]json.RawMessage {
	data, err := json.Marshal(md)
	if err != nil {
		return nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

func rawValue(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
