package ingest

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	coreerrors "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/record"
	"github.com/tidemark-io/tidemark/internal/schema"
)

// Validator is a custom per-record check run after the built-in pipeline
// stages. It returns every violation it finds for the record at index.
type Validator func(index int, rec record.Record) []*coreerrors.ValidationError

// Pipeline prepares a batch of incoming records for storage. Preparation is
// all-or-nothing: every record passes every stage or the whole batch is
// rejected with the full violation list.
type Pipeline struct {
	schema     *schema.Schema
	autoIDKeys []string
	validators []Validator
}

// New builds a pipeline. Schema may be nil (no declared fields), autoIDKeys
// may be empty (records without an _id get a random one at save time).
func New(sch *schema.Schema, autoIDKeys []string, validators ...Validator) *Pipeline {
	return &Pipeline{schema: sch, autoIDKeys: autoIDKeys, validators: validators}
}

// Prepare validates and normalizes the batch. On success it returns prepared
// copies of the records: timestamps decoded to UTC, derived IDs assigned, and
// period metadata stamped. The caller's records are never mutated.
func (p *Pipeline) Prepare(batch []record.Record) ([]record.Record, error) {
	var violations []*coreerrors.ValidationError
	prepared := make([]record.Record, 0, len(batch))

	for i, in := range batch {
		rec := in.Clone()
		recViolations := p.prepareRecord(rec)
		for _, v := range recViolations {
			v.RecordIndex = i
		}
		violations = append(violations, recViolations...)

		for _, validate := range p.validators {
			violations = append(violations, validate(i, rec)...)
		}
		prepared = append(prepared, rec)
	}

	if len(violations) > 0 {
		return nil, &coreerrors.BatchValidationError{Violations: violations}
	}

	for _, rec := range prepared {
		rec.StampPeriods()
	}
	return prepared, nil
}

// prepareRecord runs the built-in stages on one record in place. Violations
// come back with RecordIndex unset.
func (p *Pipeline) prepareRecord(rec record.Record) []*coreerrors.ValidationError {
	var out []*coreerrors.ValidationError

	for key, value := range rec {
		if !record.ValidKey(key) {
			out = append(out, &coreerrors.ValidationError{
				Field:   key,
				Message: "invalid key: must be lowercase letters, digits and underscores, not starting with an underscore",
			})
		}
		if s, ok := value.(string); ok && !utf8.ValidString(s) {
			out = append(out, &coreerrors.ValidationError{
				Field:   key,
				Message: "value is not valid UTF-8",
			})
		}
	}

	if raw, ok := rec[record.FieldTimestamp]; ok {
		ts, err := record.ParseTimestamp(raw)
		if err != nil {
			out = append(out, &coreerrors.ValidationError{
				Field:   record.FieldTimestamp,
				Message: err.Error(),
			})
		} else {
			rec[record.FieldTimestamp] = ts
		}
	}

	if err := p.assignID(rec); err != nil {
		out = append(out, err)
	}
	out = append(out, p.schema.Validate(rec)...)
	return out
}

// assignID derives _id from the configured key values joined with ".", then
// base64url-encoded. Records that already carry an _id keep it.
func (p *Pipeline) assignID(rec record.Record) *coreerrors.ValidationError {
	if len(p.autoIDKeys) == 0 {
		return nil
	}
	if _, ok := rec.ID(); ok {
		return nil
	}

	parts := make([]string, 0, len(p.autoIDKeys))
	for _, key := range p.autoIDKeys {
		value, ok := rec[key]
		if !ok || value == nil {
			return &coreerrors.ValidationError{
				Field:   key,
				Message: "field is required to generate the record id",
			}
		}
		parts = append(parts, idPart(value))
	}

	joined := strings.Join(parts, ".")
	rec[record.FieldID] = base64.URLEncoding.EncodeToString([]byte(joined))
	return nil
}

func idPart(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}
