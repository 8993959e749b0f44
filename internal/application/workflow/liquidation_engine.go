package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// lockPair locks the owning request, then the liquidation
func (e *engineImpl) lockPair(ctx context.Context, code string) (*entity.Request, *entity.Liquidation, error) {
	peek, err := e.repos.Liquidations.Get(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get liquidation: %w", err)
	}
	if peek == nil {
		return nil, nil, notFound("liquidation", code)
	}

	req, err := e.lockRequest(ctx, peek.RequestCode)
	if err != nil {
		return nil, nil, err
	}

	liq, err := e.repos.Liquidations.GetForUpdate(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock liquidation: %w", err)
	}
	if liq == nil {
		return nil, nil, notFound("liquidation", code)
	}
	return req, liq, nil
}

// SetLiquidationItems replaces the spent amounts of an editable liquidation
func (e *engineImpl) SetLiquidationItems(ctx context.Context, actor domainwf.Actor, code string, items []entity.LineItem) (*entity.Liquidation, error) {
	var out *entity.Liquidation
	err := e.withRetry(ctx, "set_liquidation_items", func(ctx context.Context) error {
		req, liq, err := e.lockPair(ctx, code)
		if err != nil {
			return err
		}
		if err := ownerGuard(actor, req)(ctx); err != nil {
			return err
		}
		if !liq.Editable() {
			return fmt.Errorf("%w: liquidation %s is %s", domainwf.ErrNotEditable, code, liq.Status)
		}
		if err := e.validateItems(ctx, items); err != nil {
			return err
		}

		expected := liq.Version
		working := liq.Clone()
		working.Items = append([]entity.LineItem(nil), items...)
		now := e.clock.Now()
		Recompute(working, req, now)
		working.UpdatedAt = now

		if err := e.repos.Liquidations.Update(ctx, working, expected); err != nil {
			return err
		}
		out = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UploadDocument attaches evidence for one requirement of a line item
func (e *engineImpl) UploadDocument(ctx context.Context, actor domainwf.Actor, input UploadDocumentInput) (*entity.DocumentVersion, error) {
	if strings.TrimSpace(input.FileKey) == "" {
		return nil, fmt.Errorf("%w: file key is required", domainwf.ErrInvalidLineItems)
	}

	var out *entity.DocumentVersion
	err := e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		req, liq, err := e.lockPair(ctx, input.LiquidationCode)
		if err != nil {
			return err
		}
		if err := ownerGuard(actor, req)(ctx); err != nil {
			return err
		}
		if !liq.Editable() {
			return fmt.Errorf("%w: liquidation %s is %s", domainwf.ErrNotEditable, liq.Code, liq.Status)
		}
		if err := e.checkRequirement(ctx, liq, input.CategoryID, input.RequirementID); err != nil {
			return err
		}

		version, err := e.repos.Documents.Upload(ctx, &entity.Document{
			LiquidationCode: liq.Code,
			CategoryID:      input.CategoryID,
			RequirementID:   input.RequirementID,
			Status:          entity.DocumentPending,
			FileKey:         input.FileKey,
			UploadedAt:      e.clock.Now(),
		})
		if err != nil {
			return fmt.Errorf("failed to upload document: %w", err)
		}
		out = version
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Document uploaded",
		"liquidation", input.LiquidationCode,
		"category", input.CategoryID,
		"requirement", input.RequirementID,
		"version", out.VersionNo)
	return out, nil
}

func (e *engineImpl) checkRequirement(ctx context.Context, liq *entity.Liquidation, categoryID, requirementID string) error {
	hasItem := false
	for _, it := range liq.Items {
		if it.CategoryID == categoryID {
			hasItem = true
			break
		}
	}
	if !hasItem {
		return fmt.Errorf("%w: liquidation %s has no %s line item", domainwf.ErrInvalidLineItems, liq.Code, categoryID)
	}

	requirements, err := e.repos.Registry.Requirements(ctx, []string{categoryID})
	if err != nil {
		return fmt.Errorf("failed to load requirements: %w", err)
	}
	for _, r := range requirements {
		if r.ID == requirementID {
			return nil
		}
	}
	return notFound("requirement", categoryID+"/"+requirementID)
}

// ReviewDocument approves or rejects the latest version of a document
func (e *engineImpl) ReviewDocument(ctx context.Context, actor domainwf.Actor, documentID int64, status entity.DocumentStatus, comment string) error {
	if err := roleGuard(actor, domainwf.RoleDistrictReviewer, domainwf.RoleDivisionReviewer)(ctx); err != nil {
		return err
	}
	switch status {
	case entity.DocumentApproved:
	case entity.DocumentRejected:
		if strings.TrimSpace(comment) == "" {
			return domainwf.ErrCommentRequired
		}
	default:
		return fmt.Errorf("%w: document status %q", domainwf.ErrInvalidState, status)
	}

	return e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		doc, err := e.repos.Documents.Get(ctx, documentID)
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		if doc == nil {
			return notFound("document", fmt.Sprint(documentID))
		}
		return e.repos.Documents.Review(ctx, documentID, status, actor.ID, comment, e.clock.Now())
	})
}

// FireLiquidation applies trigger to the liquidation
func (e *engineImpl) FireLiquidation(ctx context.Context, actor domainwf.Actor, code string, trigger domainwf.Trigger, reason string) (*entity.Liquidation, error) {
	var out *entity.Liquidation
	err := e.withRetry(ctx, string(trigger), func(ctx context.Context) error {
		req, liq, err := e.lockPair(ctx, code)
		if err != nil {
			return err
		}
		expected := liq.Version
		working := liq.Clone()
		now := e.clock.Now()

		guards := LiquidationGuards{
			Owner:     ownerGuard(actor, req),
			Documents: e.documentsGuard(working),
			District:  roleGuard(actor, domainwf.RoleDistrictReviewer),
			Division:  roleGuard(actor, domainwf.RoleDivisionReviewer),
		}
		t, err := e.fireLiquidation(ctx, actor, working, trigger, guards, now)
		if err != nil {
			return err
		}

		Recompute(working, req, now)
		working.UpdatedAt = now
		if err := e.repos.Liquidations.Update(ctx, working, expected); err != nil {
			return err
		}
		if err := e.record(ctx, entity.EntityLiquidation, code, t, actor, reason, now); err != nil {
			return err
		}

		if t.To == entity.LiquidationLiquidated {
			if err := e.closeRequest(ctx, actor, req, now); err != nil {
				return err
			}
		}
		out = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// closeRequest settles the request of a liquidated liquidation, moves the
// school cache forward and suppresses the remaining ladder
func (e *engineImpl) closeRequest(ctx context.Context, actor domainwf.Actor, req *entity.Request, now time.Time) error {
	expected := req.Version
	working := req.Clone()
	t, err := e.fireRequest(ctx, working, TriggerClose, RequestGuards{}, now)
	if err != nil {
		return err
	}
	if err := e.save(ctx, working, expected, now); err != nil {
		return err
	}
	if err := e.record(ctx, entity.EntityRequest, working.Code, t, actor, "liquidation completed", now); err != nil {
		return err
	}

	school, err := e.repos.Schools.GetForUpdate(ctx, working.SchoolID)
	if err != nil {
		return fmt.Errorf("failed to lock school: %w", err)
	}
	if school == nil {
		return notFound("school", working.SchoolID)
	}
	if err := e.repos.Schools.UpdateLastLiquidated(ctx, school, working.TargetMonth, school.Version); err != nil {
		return err
	}

	suppressed, err := e.repos.Reminders.SuppressPending(ctx, working.Code)
	if err != nil {
		return fmt.Errorf("failed to suppress reminders: %w", err)
	}
	e.logger.Info("Request liquidated",
		"code", working.Code,
		"school", working.SchoolID,
		"month", working.TargetMonth.String(),
		"suppressed_reminders", suppressed)
	return nil
}

// RefreshLiquidation recomputes refund and remaining days, writing only on change
func (e *engineImpl) RefreshLiquidation(ctx context.Context, code string) (*entity.Liquidation, error) {
	var out *entity.Liquidation
	err := e.withRetry(ctx, "refresh_liquidation", func(ctx context.Context) error {
		req, liq, err := e.lockPair(ctx, code)
		if err != nil {
			return err
		}
		expected := liq.Version
		working := liq.Clone()
		now := e.clock.Now()
		Recompute(working, req, now)

		if sameInt(working.RemainingDays, liq.RemainingDays) && sameDecimal(working.Refund, liq.Refund) {
			out = liq
			return nil
		}

		working.UpdatedAt = now
		if err := e.repos.Liquidations.Update(ctx, working, expected); err != nil {
			return err
		}
		out = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetLiquidation retrieves a liquidation
func (e *engineImpl) GetLiquidation(ctx context.Context, code string) (*entity.Liquidation, error) {
	liq, err := e.repos.Liquidations.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get liquidation: %w", err)
	}
	if liq == nil {
		return nil, notFound("liquidation", code)
	}
	return liq, nil
}

// MissingDocuments lists the required documents a submission would still lack
func (e *engineImpl) MissingDocuments(ctx context.Context, code string) ([]domainwf.MissingDocument, error) {
	liq, err := e.GetLiquidation(ctx, code)
	if err != nil {
		return nil, err
	}
	return e.missingDocuments(ctx, liq)
}

// History returns the transition trail of an entity, oldest first
func (e *engineImpl) History(ctx context.Context, entityType, code string) ([]*entity.TransitionRecord, error) {
	return e.repos.History.ListByEntity(ctx, entityType, code)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
