package models

import (
	"log"

	"bitbucket.org/mmdatafocus/properties_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&LineItem{},
		&ReconciliationRule{}, &AccountMapping{},
		&ReconciliationSession{},
		&Match{}, &Discrepancy{}, &RuleResult{},
		&AnomalyRecord{},
		&HealthScore{}, &HealthScorePoint{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
