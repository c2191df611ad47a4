package utils

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/wms_backend/config"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs tag validation on a boundary input struct and wraps
// failures in the stable VALIDATION code.
func ValidateStruct(input interface{}) error {
	if err := validate.Struct(input); err != nil {
		return NewDomainError(CodeValidation, "%s", err.Error())
	}
	return nil
}

// ResourceCountWhere counts org-scoped rows of T matching cond.
func ResourceCountWhere[T any](ctx context.Context, orgId string, cond string, values ...interface{}) (int64, error) {
	db := config.GetDB()
	var model T
	var count int64
	err := db.WithContext(ctx).Model(&model).
		Where("org_id = ?", orgId).
		Where(cond, values...).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ValidateResourceId checks the id exists within the org scope.
func ValidateResourceId[T any](ctx context.Context, orgId string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, orgId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// ValidateResourcesId checks that ALL ids exist within the org scope.
func ValidateResourcesId[M any, ID comparable](ctx context.Context, orgId string, ids []ID) error {
	unqIds := UniqueSlice(ids)

	count, err := ResourceCountWhere[M](ctx, orgId, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}
	return nil
}

func UniqueSlice[T comparable](in []T) []T {
	seen := make(map[T]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
