package cmd

import (
	"fmt"

	"video-transcoder/app/config"
	"video-transcoder/app/database"
	"video-transcoder/app/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "迁移数据库表结构",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log := logger.New(cfg.Log)
		defer log.Close()

		// Init 内部执行 AutoMigrate
		if err := database.Init(cfg, log); err != nil {
			return fmt.Errorf("迁移失败: %w", err)
		}
		defer database.Close()

		log.Info("数据库迁移完成")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
