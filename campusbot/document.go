package campusbot

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// fieldPathSeparator separates segments in a partial-update path,
// ex: "profile__name__first"
const fieldPathSeparator = "__"

var (
	// ErrDuplicateKey indicates a write collided with an existing record
	// on a unique field (ex: school email, student ID).
	ErrDuplicateKey = errors.New("duplicate value for unique field")

	// ErrLimitExceeded indicates a prompt was constructed in a way that
	// can't be rendered within Discord's component limits.
	ErrLimitExceeded = errors.New("component limit exceeded")

	// ErrDelivery indicates a verification code could not be handed off
	// to the mail provider.
	ErrDelivery = errors.New("message delivery failed")
)

// FieldPathError indicates a partial-update path referenced a field that
// isn't declared in the document's schema, or used a scalar field as if
// it were a nested record.
type FieldPathError struct {
	Path    string
	Segment string
}

func (e FieldPathError) Error() string {
	return fmt.Sprintf(
		"invalid field path %q (segment: %q)",
		e.Path,
		e.Segment,
	)
}

// SchemaDriftError indicates a stored document carries fields that are no
// longer declared in its schema. Drift is reported, never silently dropped.
type SchemaDriftError struct {
	Collection string
	Fields     []string
}

func (e SchemaDriftError) Error() string {
	return fmt.Sprintf(
		"document in %q has fields not in schema: %s",
		e.Collection,
		strings.Join(e.Fields, ", "),
	)
}

// ValidationError indicates user-submitted input failed a flow's
// validation rules. It's shown to the user and re-prompted, and never
// treated as a failure of the flow itself.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SchemaField declares a single field of a document schema. Fields with a
// non-nil Sub are nested records, and their Default is ignored (the
// sub-schema's defaults are used instead).
type SchemaField struct {
	Name    string
	Default any
	Sub     *Schema
}

// Schema is the statically-declared shape of one document collection.
// Bodies are stored as semi-structured JSON, so the schema is what
// makes undeclared fields and invalid update paths detectable.
type Schema struct {
	Collection string
	Fields     []SchemaField
}

func (s *Schema) field(name string) *SchemaField {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// NewBody returns a document body populated with the schema's defaults,
// recursing into nested records.
func (s *Schema) NewBody() datatypes.JSONMap {
	body := datatypes.JSONMap{}
	for _, f := range s.Fields {
		if f.Sub != nil {
			body[f.Name] = map[string]any(f.Sub.NewBody())
			continue
		}
		body[f.Name] = cloneValue(f.Default)
	}
	return body
}

// SetPath sets a single value in the body at the given path. Each
// intermediate segment must be a declared nested record, and the leaf
// must be a declared field. A nil value clears the field.
func (s *Schema) SetPath(body map[string]any, path string, value any) error {
	segments := strings.Split(path, fieldPathSeparator)
	schema := s
	current := body
	for i, segment := range segments {
		f := schema.field(segment)
		if f == nil {
			return FieldPathError{Path: path, Segment: segment}
		}
		if i == len(segments)-1 {
			current[segment] = value
			return nil
		}
		if f.Sub == nil {
			return FieldPathError{Path: path, Segment: segment}
		}
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
		schema = f.Sub
	}
	return nil
}

// Sync reconciles a body against the schema: declared fields missing
// from the body are backfilled with their defaults, and fields present
// in the body but not declared in the schema are reported as a
// [SchemaDriftError]. Returns whether the body was changed.
func (s *Schema) Sync(body map[string]any) (bool, error) {
	changed, drift := s.sync(body, "")
	if len(drift) > 0 {
		sort.Strings(drift)
		return changed, SchemaDriftError{Collection: s.Collection, Fields: drift}
	}
	return changed, nil
}

func (s *Schema) sync(body map[string]any, prefix string) (bool, []string) {
	var changed bool
	var drift []string

	for _, f := range s.Fields {
		value, present := body[f.Name]
		if !present || value == nil {
			if f.Sub != nil {
				body[f.Name] = map[string]any(f.Sub.NewBody())
			} else {
				body[f.Name] = cloneValue(f.Default)
			}
			changed = true
			continue
		}
		if f.Sub == nil {
			continue
		}
		sub, ok := value.(map[string]any)
		if !ok {
			// scalar stored where a nested record is declared - treat the
			// same as an undeclared field, so it surfaces instead of
			// being overwritten
			drift = append(drift, prefix+f.Name)
			continue
		}
		subChanged, subDrift := f.Sub.sync(
			sub,
			prefix+f.Name+fieldPathSeparator,
		)
		changed = changed || subChanged
		drift = append(drift, subDrift...)
	}

	for name := range body {
		if s.field(name) == nil {
			drift = append(drift, prefix+name)
		}
	}
	return changed, drift
}

// cloneValue copies template defaults so documents never share backing
// slices or maps with the schema declaration.
func cloneValue(v any) any {
	switch value := v.(type) {
	case []any:
		cloned := make([]any, len(value))
		for i, item := range value {
			cloned[i] = cloneValue(item)
		}
		return cloned
	case []string:
		cloned := make([]any, len(value))
		for i, item := range value {
			cloned[i] = item
		}
		return cloned
	case map[string]any:
		cloned := make(map[string]any, len(value))
		for k, item := range value {
			cloned[k] = cloneValue(item)
		}
		return cloned
	default:
		return v
	}
}
