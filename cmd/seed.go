package cmd

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"energyquiz/config"
	"energyquiz/question"
	"energyquiz/services"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load an activity catalog into the database",
	Long:  "Reads a YAML activity catalog and upserts every activity by name.",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().String("file", "data/activities.yaml", "Path to the YAML activity catalog")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.DBEnabled {
		return errors.New("seeding needs the database; set DB_ENABLED=true")
	}

	path, _ := cmd.Flags().GetString("file")
	activities, err := question.LoadCatalogFile(path)
	if err != nil {
		return err
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	n, err := services.NewActivityService(db).Import(cmd.Context(), activities)
	if err != nil {
		return err
	}
	log.Info().Str("file", path).Int("activities", n).Msg("catalog imported")
	return nil
}
