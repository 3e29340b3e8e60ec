package application

import (
	"context"
	"fmt"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/validation"
)

// validateCommand runs the struct tag rules and converts failures to domain
// validation errors.
func validateCommand(cmd any) error {
	err := validation.Struct(cmd)
	if err == nil {
		return nil
	}

	fields := validation.Fields(err)
	if len(fields) == 1 {
		for field, msg := range fields {
			return domain.NewFieldError(field, msg)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, validation.Summary(err))
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.DomainEvent) error { return nil }
