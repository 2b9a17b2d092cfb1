package search

import (
	"errors"
	"fmt"

	"github.com/roach88/grainplan/internal/model"
)

// ErrNoDatasource is the sentinel wrapped by NotFoundError.
var ErrNoDatasource = errors.New("no datasource for concept")

// NotFoundError reports that no datasource can supply Concept at Grain.
type NotFoundError struct {
	Concept model.Concept
	Grain   model.Grain
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s at %s", ErrNoDatasource, e.Concept.Address(), e.Grain)
}

func (e *NotFoundError) Unwrap() error { return ErrNoDatasource }
