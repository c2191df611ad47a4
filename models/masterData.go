package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"gorm.io/gorm"
)

// Master data (products, warehouses, locations) is owned elsewhere; these are
// read models for the lookups the engine needs. No CRUD surface here.

type Product struct {
	ID            int       `gorm:"primary_key" json:"id"`
	OrgId         string    `gorm:"size:64;not null;index" json:"org_id"`
	Sku           string    `gorm:"size:100;index" json:"sku"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Uom           string    `gorm:"size:20;not null" json:"uom"`
	ShelfLifeDays int       `gorm:"not null;default:0" json:"shelf_life_days"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Warehouse struct {
	ID        int       `gorm:"primary_key" json:"id"`
	OrgId     string    `gorm:"size:64;not null;index" json:"org_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Location struct {
	ID          int       `gorm:"primary_key" json:"id"`
	OrgId       string    `gorm:"size:64;not null;index" json:"org_id"`
	WarehouseId int       `gorm:"index;not null" json:"warehouse_id"`
	Code        string    `gorm:"size:50;not null" json:"code"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const productCacheTTL = 5 * time.Minute

// GetProduct reads a product, through the Redis object cache when one is
// connected. Master data changes rarely; a short TTL keeps staleness bounded.
func GetProduct(ctx context.Context, orgId string, id int) (*Product, error) {
	cacheKey := fmt.Sprintf("product:%s:%d", orgId, id)
	var cached Product
	if hit, err := config.GetRedisObject(cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	db := config.GetDB()
	var p Product
	err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgId, id).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.NewDomainError(utils.CodeNotFound, "product %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(cacheKey, &p, productCacheTTL)
	return &p, nil
}

// ValidateActiveProduct confirms the product exists, is org-visible and active.
func ValidateActiveProduct(ctx context.Context, orgId string, id int) error {
	p, err := GetProduct(ctx, orgId, id)
	if err != nil {
		return err
	}
	if p.IsActive != nil && !*p.IsActive {
		return utils.NewDomainError(utils.CodeValidation, "product %d is inactive", id)
	}
	return nil
}

func ValidateWarehouse(ctx context.Context, orgId string, id int) error {
	return utils.ValidateResourceId[Warehouse](ctx, orgId, id)
}

// ValidateLocation checks the location belongs to the org and, when
// warehouseId > 0, to that warehouse.
func ValidateLocation(ctx context.Context, orgId string, id int, warehouseId int) error {
	if id == 0 {
		return nil
	}
	db := config.GetDB()
	var loc Location
	err := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgId, id).First(&loc).Error
	if err == gorm.ErrRecordNotFound {
		return utils.NewDomainError(utils.CodeNotFound, "location %d not found", id)
	}
	if err != nil {
		return err
	}
	if warehouseId > 0 && loc.WarehouseId != warehouseId {
		return utils.NewDomainError(utils.CodeValidation, "location %d is not in warehouse %d", id, warehouseId)
	}
	return nil
}
