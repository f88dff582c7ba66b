package query

import "driftdb/pkg/model"

// project applies a field projection to one document. The id field is
// always included unless the projection explicitly carries id: 0. Inclusion
// and exclusion specifications are mutually exclusive.
func project(doc model.Document, fields model.Projection) model.Document {
	inclusion := false
	for field, mode := range fields {
		if field == "id" {
			continue
		}
		if mode != 0 {
			inclusion = true
			break
		}
	}

	excludeID := false
	if mode, ok := fields["id"]; ok && mode == 0 {
		excludeID = true
	}

	out := model.Document{}
	if inclusion {
		for field, mode := range fields {
			if field == "id" || mode == 0 {
				continue
			}
			if value, ok := doc[field]; ok {
				out[field] = value
			}
		}
	} else {
		for field, value := range doc {
			if field == "id" {
				continue
			}
			if mode, listed := fields[field]; listed && mode == 0 {
				continue
			}
			out[field] = value
		}
	}

	if !excludeID && doc.HasKey("id") {
		out["id"] = doc["id"]
	}
	return out
}
