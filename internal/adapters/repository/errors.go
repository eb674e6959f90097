package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/telemind/core/internal/domain/entities"
)

// storeError marks infrastructure failures as ErrStoreUnavailable.
// Context cancellation is passed through so callers can tell it apart.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, entities.ErrStoreUnavailable, err)
}
