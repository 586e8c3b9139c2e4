package scheduler

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"jobscheduler/pkg/code"
)

type tenantKey struct{}

// WithTenant binds the tenant every scheduler call made with ctx acts for.
func WithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

func TenantFrom(ctx context.Context) (int64, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(int64)
	return tenantID, ok
}

func mustTenant(ctx context.Context) (int64, error) {
	tenantID, ok := TenantFrom(ctx)
	if !ok {
		return 0, errors.WithStack(code.ErrTenantRequired)
	}
	return tenantID, nil
}

// actAs checks that ctx acts for tenantID.
func actAs(ctx context.Context, tenantID int64) error {
	current, err := mustTenant(ctx)
	if err != nil {
		return err
	}
	if current != tenantID {
		return errors.WithStack(code.ErrTenantMismatch.WithResult(
			"context tenant " + strconv.FormatInt(current, 10) + " cannot act for tenant " + strconv.FormatInt(tenantID, 10)))
	}
	return nil
}

// Group 租户在调度引擎中的分组名
func Group(tenantID int64) string {
	return strconv.FormatInt(tenantID, 10)
}

func tenantOf(group string) (int64, error) {
	tenantID, err := strconv.ParseInt(group, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "group %q is not a tenant", group)
	}
	return tenantID, nil
}
