package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// seatCounter is the slice of a unit of work that owns sections.enrolled_count.
type seatCounter interface {
	IncrementEnrolled(ctx context.Context, sectionID string, allowOverCapacity bool) (bool, error)
	DecrementEnrolled(ctx context.Context, sectionID string) (bool, error)
}

// CapacityLedger keeps enrolled counts in step with enrollment rows. Both
// methods must run in the unit of work that inserts or deletes the row.
type CapacityLedger struct{}

// Reserve takes a seat in the section. bypass admits past capacity and is only
// used for approved manual joins.
func (CapacityLedger) Reserve(ctx context.Context, tx seatCounter, section *models.SectionDetail, bypass bool) error {
	ok, err := tx.IncrementEnrolled(ctx, section.ID, bypass)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("%s section %d is full", section.SubjectCode, section.Number))
	}
	return nil
}

// Release frees a seat. A counter already at zero is left untouched.
func (CapacityLedger) Release(ctx context.Context, tx seatCounter, sectionID string) error {
	if _, err := tx.DecrementEnrolled(ctx, sectionID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seat")
	}
	return nil
}
