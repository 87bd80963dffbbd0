package database

import (
	"video-transcoder/app/model"

	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.MediaAsset{},
		&model.TranscodingJob{},
		&model.QueueTask{},
	)
}
