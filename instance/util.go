package instance

import (
	"errors"

	"github.com/bilansoft/approvalflow/model"
)

func isConflict(err error) bool {
	return errors.Is(err, model.ErrConflict)
}
