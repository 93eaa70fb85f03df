package usecase

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

// SchemaService validates declarations against the form schema of their
// event type. Compiled schemas are kept per schema digest, so a refreshed
// configuration with a changed schema compiles again on first use.
type SchemaService struct {
	mu       sync.RWMutex
	compiled map[[sha256.Size]byte]*santhosh.Schema
}

func NewSchemaService() *SchemaService {
	return &SchemaService{compiled: map[[sha256.Size]byte]*santhosh.Schema{}}
}

// Validate returns *domain.ErrSchemaViolation listing every failing field.
// Event types without a schema accept any declaration.
func (s *SchemaService) Validate(cfg domain.EventConfig, declaration domain.Fields) error {
	if len(bytes.TrimSpace(cfg.DeclarationSchema)) == 0 {
		return nil
	}
	schema, err := s.schemaFor(cfg.DeclarationSchema)
	if err != nil {
		return domain.Wrap(domain.CodeBadRequest, fmt.Sprintf("declaration schema of %s is invalid", cfg.ID), err)
	}

	// round trip so the validator sees plain json values
	raw, err := json.Marshal(declaration)
	if err != nil {
		return fmt.Errorf("encode declaration: %w", err)
	}
	var doc any = map[string]any{}
	if declaration != nil {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode declaration: %w", err)
		}
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *santhosh.ValidationError
	if !errors.As(err, &ve) {
		return &domain.ErrSchemaViolation{Errors: []string{err.Error()}}
	}
	return &domain.ErrSchemaViolation{Errors: violations(ve)}
}

func (s *SchemaService) schemaFor(src json.RawMessage) (*santhosh.Schema, error) {
	key := sha256.Sum256(src)
	s.mu.RLock()
	schema, ok := s.compiled[key]
	s.mu.RUnlock()
	if ok {
		return schema, nil
	}

	if !json.Valid(src) {
		return nil, errors.New("schema is not valid json")
	}
	c := santhosh.NewCompiler()
	c.Draft = santhosh.Draft7
	if err := c.AddResource("declaration.json", bytes.NewReader(src)); err != nil {
		return nil, err
	}
	schema, err := c.Compile("declaration.json")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.compiled[key] = schema
	s.mu.Unlock()
	return schema, nil
}

// violations flattens the error tree to its leaves as "<pointer>: <message>",
// sorted so responses are stable.
func violations(ve *santhosh.ValidationError) []string {
	var out []string
	var walk func(*santhosh.ValidationError)
	walk = func(e *santhosh.ValidationError) {
		if len(e.Causes) == 0 {
			at := e.InstanceLocation
			if at == "" {
				at = "/"
			}
			out = append(out, at+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
