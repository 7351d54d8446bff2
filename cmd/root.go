package cmd

import (
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"energyquiz/config"
	"energyquiz/models"
)

var rootCmd = &cobra.Command{
	Use:          "energyquiz",
	Short:        "Multiplayer quiz about the energy use of everyday activities",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	config.SetupLogging(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Activity{},
		&models.Player{},
		&models.Game{},
		&models.GameScore{},
		&models.GameAnswer{},
	)
}
