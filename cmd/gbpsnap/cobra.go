package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/gbpsnap/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "gbpsnap",
	Short: "Screenshot Google Business Profile signals",
	Long: `
gbpsnap opens each business from an input CSV in a real browser, walks the
configured flow (embedded map, knowledge panel, photos, reviews, directions,
social links, Q&A) and saves a screenshot as evidence of what it found.
`,
	Example: `  $ gbpsnap run -i places.csv -o out -c 3
  $ gbpsnap run --sitemap https://example.com/sitemap.xml -f iframe
  $ gbpsnap history --storage sqlite --dsn gbpsnap.db --status error --since 24h
  $ gbpsnap flows`,

	SilenceUsage: true,
}

func init() {
	config.GlobalFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(runCmd, historyCmd, flowsCmd)
}

// loadConfig merges the command's flags, the environment and the optional
// config file, and installs the configured logger as the default.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	v := viper.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, nil, err
	}
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, file)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
