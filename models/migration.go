package models

import (
	"log"

	"github.com/mmdatafocus/wms_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &Warehouse{}, &Location{},
		&LicensePlate{}, &OrgSequence{},
		&StockMove{},
		&GenealogyLink{}, &GenealogyLinkEntry{},
		&Reservation{}, &Backorder{},
		&AuditMessageRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
