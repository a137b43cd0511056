package models

import (
	"log"

	"github.com/mmdatafocus/ebooks_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&MozelloOrder{},
		&MozelloSettings{},
		&MozelloNotificationLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
