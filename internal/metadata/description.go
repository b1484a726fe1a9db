// Package metadata assembles the per-image description record that travels
// with every image into the upload archive.
package metadata

import "slices"

// Description is the per-image record. Unset scalar fields are omitted when
// encoded.
type Description struct {
	Orientation       *int     `json:"MAPOrientation,omitempty"`
	DeviceMake        *string  `json:"MAPDeviceMake,omitempty"`
	DeviceModel       *string  `json:"MAPDeviceModel,omitempty"`
	GPSAccuracyMeters *float64 `json:"MAPGPSAccuracyMeters,omitempty"`
	CameraUUID        *string  `json:"MAPCameraUUID,omitempty"`
	Filename          *string  `json:"MAPFilename,omitempty"`
	MetaTags          MetaTags `json:"MAPMetaTags"`
}

// Clone returns a copy that shares no mutable state with d.
// Scalar pointers are shared because the assembler only ever replaces them.
func (d *Description) Clone() *Description {
	if d == nil {
		return &Description{}
	}
	c := *d
	c.MetaTags = d.MetaTags.Clone()
	return &c
}

// Tag is one key/value pair of a MetaTags bucket.
type Tag[T any] struct {
	Key   string `json:"key"`
	Value T      `json:"value"`
}

// MetaTags groups arbitrary tags into typed buckets. Each bucket is
// append-only and keeps duplicates in insertion order.
type MetaTags struct {
	Strings  []Tag[string]  `json:"strings,omitempty"`
	Doubles  []Tag[float64] `json:"doubles,omitempty"`
	Longs    []Tag[int64]   `json:"longs,omitempty"`
	Dates    []Tag[int64]   `json:"dates,omitempty"` // epoch milliseconds
	Booleans []Tag[bool]    `json:"booleans,omitempty"`
}

// Clone returns a deep copy of the buckets.
func (m MetaTags) Clone() MetaTags {
	return MetaTags{
		Strings:  slices.Clone(m.Strings),
		Doubles:  slices.Clone(m.Doubles),
		Longs:    slices.Clone(m.Longs),
		Dates:    slices.Clone(m.Dates),
		Booleans: slices.Clone(m.Booleans),
	}
}

// Append adds every tag of other after the existing tags of each bucket.
func (m *MetaTags) Append(other MetaTags) {
	m.Strings = append(m.Strings, other.Strings...)
	m.Doubles = append(m.Doubles, other.Doubles...)
	m.Longs = append(m.Longs, other.Longs...)
	m.Dates = append(m.Dates, other.Dates...)
	m.Booleans = append(m.Booleans, other.Booleans...)
}

// Len returns the total number of tags across buckets.
func (m MetaTags) Len() int {
	return len(m.Strings) + len(m.Doubles) + len(m.Longs) + len(m.Dates) + len(m.Booleans)
}
