// Package validate provides design-time linting for policy definitions:
// circular/missing schema reference detection and block reachability
// analysis. Both are advisory: they annotate, they never abort a build.
package validate

import "fmt"

// VisitState is the traversal mark for one schema during reference
// validation.
type VisitState int

const (
	// StateUnvisited means the schema has not been reached yet.
	StateUnvisited VisitState = iota

	// StateInProgress means the schema is on the current traversal path;
	// reaching it again is a circular dependency.
	StateInProgress

	// StateDone means the schema finished validation, valid or not.
	StateDone
)

// Field is one attribute of a schema document.
type Field struct {
	// Name is the attribute name.
	Name string

	// IsRef marks the field as a reference to a sub-schema.
	IsRef bool

	// Type is the referenced sub-schema IRI when IsRef is set, otherwise
	// a primitive type name. A reference nulled out during validation has
	// Type cleared.
	Type string
}

// Schema is one data-type definition in the policy configuration.
type Schema struct {
	// IRI is the schema's unique identifier.
	IRI string

	// Fields are the schema's attributes, reference fields included.
	Fields []*Field

	// Invalid is set when validation nulled at least one of the schema's
	// references. An invalid schema still exists; referencing it from
	// another schema nulls that reference too.
	Invalid bool
}

// ValidateDefs validates one root schema's reference graph against the
// full schema set using tri-state depth-first traversal.
//
// Returns an empty string when the schema's references are sound, or a
// description of the first circular dependency found. Circular schemas
// are marked done immediately so traversal never recurses forever, and
// the error propagates upward without aborting validation of sibling
// schemas.
//
// A field referencing a missing or invalid sub-schema is nulled in place
// and the parent marked invalid, but remaining fields keep validating.
func ValidateDefs(targetIRI string, all map[string]*Schema, visited map[string]VisitState) string {
	target, ok := all[targetIRI]
	if !ok {
		return fmt.Sprintf("schema %s does not exist", targetIRI)
	}

	switch visited[targetIRI] {
	case StateDone:
		return ""
	case StateInProgress:
		visited[targetIRI] = StateDone
		return fmt.Sprintf("circular dependency in schema %s", targetIRI)
	}
	visited[targetIRI] = StateInProgress

	var firstErr string
	for _, field := range target.Fields {
		if !field.IsRef || field.Type == "" {
			continue
		}

		sub, exists := all[field.Type]
		if !exists {
			field.Type = ""
			target.Invalid = true
			if firstErr == "" {
				firstErr = fmt.Sprintf("schema %s references missing schema via field %s", targetIRI, field.Name)
			}
			continue
		}

		if err := ValidateDefs(sub.IRI, all, visited); err != "" {
			field.Type = ""
			target.Invalid = true
			if firstErr == "" {
				firstErr = err
			}
			continue
		}

		if sub.Invalid {
			field.Type = ""
			target.Invalid = true
			if firstErr == "" {
				firstErr = fmt.Sprintf("schema %s references invalid schema %s via field %s", targetIRI, sub.IRI, field.Name)
			}
		}
	}

	visited[targetIRI] = StateDone
	return firstErr
}

// ValidateAll validates every schema in the set, accumulating one error
// string per failing root. Sibling schemas keep validating after a
// failure.
//
// The shared visited map means each schema is traversed once across the
// whole batch.
func ValidateAll(all map[string]*Schema, roots []string) []string {
	visited := make(map[string]VisitState, len(all))
	var errs []string
	for _, iri := range roots {
		if err := ValidateDefs(iri, all, visited); err != "" {
			errs = append(errs, err)
		}
	}
	return errs
}
