package topology

import (
	"github.com/go-playground/validator/v10"

	dErrors "basenet/pkg/domain-errors"
)

var validate = validator.New()

// Config holds the tolerances of the executor. There are no defaults: all
// values are units of the projected coordinate system and depend on the
// source data.
type Config struct {
	// Tolerance is ε: positions closer than this are the same point.
	Tolerance float64 `validate:"gt=0"`
	// SearchBuffer pads the region searched for split candidates.
	SearchBuffer float64 `validate:"gtefield=Tolerance"`
	// LoopBound is the most split candidates examined for one endpoint.
	LoopBound int `validate:"gte=1"`
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid topology config")
	}
	return nil
}
