package models

import (
	"log"

	"github.com/lumeara/dre_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Transaction{},
		&PCGAccount{},
		&TinyIntegrationConfig{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
