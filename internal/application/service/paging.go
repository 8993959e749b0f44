package service

import (
	"context"

	"github.com/garyjia/school-liquidation/internal/application/port"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
)

// walkPages feeds visit one page at a time until list returns a short page.
// The cursor moves past each page before the next call, so rows that leave
// the listing while being visited do not shift later pages.
func walkPages[T any](
	ctx context.Context,
	size int,
	list func(ctx context.Context, after port.Cursor, limit int) ([]T, error),
	cursor func(T) port.Cursor,
	visit func(page []T) error,
) error {
	var after port.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := list(ctx, after, size)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			if err := visit(page); err != nil {
				return err
			}
			after = cursor(page[len(page)-1])
		}
		if len(page) < size {
			return nil
		}
	}
}

func requestCursor(r *entity.Request) port.Cursor {
	return port.Cursor{CreatedAt: r.CreatedAt, Code: r.Code}
}

func liquidationCursor(l *entity.Liquidation) port.Cursor {
	return port.Cursor{CreatedAt: l.CreatedAt, Code: l.Code}
}

func requestCodes(reqs []*entity.Request) []string {
	codes := make([]string, 0, len(reqs))
	for _, r := range reqs {
		codes = append(codes, r.Code)
	}
	return codes
}
