package datum

import (
	"fmt"

	"github.com/dagflow/engine/internal/errs"
)

func invalidFormatErr() error {
	return fmt.Errorf("%w", errs.ErrInvalidFormat)
}
