package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awaistahir/solarcast/internal/config"
	"github.com/awaistahir/solarcast/internal/features"
	"github.com/awaistahir/solarcast/internal/forecast"
	"github.com/awaistahir/solarcast/internal/logging"
	"github.com/awaistahir/solarcast/internal/session"
	"github.com/awaistahir/solarcast/internal/store"
)

// Exit codes tell scripts which way a prediction failed.
const (
	exitError            = 1
	exitInvalidInput     = 2
	exitModelUnavailable = 3
	exitPredictionError  = 4
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "solarcast",
		Short: "SolarCast - forecast solar power generation from weather readings",
		Long: `SolarCast predicts the power a solar installation generates from seven
normalized weather readings and a sky cover level, using a trained
regression model.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.solarcast/config.yaml)")

	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(fieldsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(modelCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(exitCode(err))
	}
}

func initConfig(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(config.Dir(), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var err error
	cfg, err = config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}

	logger = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return nil
}

func exitCode(err error) int {
	var pe *predictError
	if !errors.As(err, &pe) {
		return exitError
	}
	switch forecast.Kind(err) {
	case "model_unavailable":
		return exitModelUnavailable
	case "prediction_error":
		return exitPredictionError
	}
	return exitInvalidInput
}

func predictCmd() *cobra.Command {
	var skyCover int
	var asJSON bool
	var noHistory bool
	values := make(map[string]*float64, len(features.Fields))

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict power generation for one set of readings",
		Long: `Predict power generation for one set of readings. Readings outside
their trained range are clamped; omitted readings use their defaults.`,
		Example: "  solarcast predict --temperature 0.5 --humidity -1.2 --sky-cover 2",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			in := features.Defaults()
			in.Submitted = true
			in.SkyCover = skyCover
			for name, v := range values {
				in.Values[name] = *v
			}

			predicter := forecast.NewAdapter(cfg.Model.NewSource())
			st, err := session.Submit(ctx, session.New(), in, predicter)
			if err != nil {
				logger.Debug().Err(err).Str("kind", forecast.Kind(err)).Msg("prediction failed")
				return &predictError{err: err}
			}

			if !noHistory {
				saveHistory(ctx, *st.Record, *st.Result)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					ForecastKW float64         `json:"forecast_kw"`
					EnergyJ    float64         `json:"energy_j"`
					Model      string          `json:"model,omitempty"`
					Record     features.Record `json:"record"`
				}{st.Result.ForecastKW, st.Result.EnergyJ, st.Result.Model, *st.Record})
			}

			fmt.Printf("Predicted Power Generation: %.2f kW\n", st.Result.ForecastKW)
			fmt.Printf("Energy Produced: %.2f J\n", st.Result.EnergyJ)
			return nil
		},
	}

	for _, f := range features.Fields {
		v := new(float64)
		values[f.Name] = v
		cmd.Flags().Float64Var(v, f.Name, f.Default,
			fmt.Sprintf("%s (%s), %.2f to %.2f", f.Label, f.Unit, f.Min, f.Max))
	}
	cmd.Flags().IntVarP(&skyCover, features.SkyCoverField, "s", 0, "Sky cover level (0-4)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the prediction")

	return cmd
}

// predictError prints the user-facing message while keeping err reachable
// for exitCode.
type predictError struct {
	err error
}

func (e *predictError) Error() string {
	return session.Message(e.err) + "\n" + hint(e.err)
}

func (e *predictError) Unwrap() error {
	return e.err
}

func hint(err error) string {
	switch {
	case errors.Is(err, forecast.ErrModelUnavailable):
		if cfg.Model.RemoteURL != "" {
			return fmt.Sprintf("Check that the inference service at %s is running.", cfg.Model.RemoteURL)
		}
		return fmt.Sprintf("Place the trained model at %s or set model.path in the config.", cfg.Model.Path)
	case errors.Is(err, forecast.ErrPredictionFailed):
		return "The model rejected the readings; check it was trained on the expected features."
	}
	return "Run 'solarcast fields' to see the accepted readings."
}

// saveHistory records a prediction. A failure only logs, the prediction
// itself already succeeded.
func saveHistory(ctx context.Context, rec features.Record, res forecast.Result) {
	st, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Store.Path).Msg("opening history")
		return
	}
	defer st.Close()

	p := &store.Prediction{
		Model:      res.Model,
		Features:   rec.Map(),
		SkyCover:   rec.SkyCover(),
		ForecastKW: res.ForecastKW,
		EnergyJ:    res.EnergyJ,
	}
	if _, err := st.SavePrediction(ctx, p); err != nil {
		logger.Warn().Err(err).Msg("saving prediction")
		return
	}
	logger.Debug().Int64("id", p.ID).Msg("prediction recorded")
}

func fieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the accepted readings and their ranges",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%-30s %-22s %8s %8s %8s\n", "FLAG", "READING", "MIN", "MAX", "DEFAULT")
			fmt.Println(strings.Repeat("-", 80))
			for _, f := range features.Fields {
				fmt.Printf("--%-28s %-22s %8.2f %8.2f %8.2f\n", f.Name, f.Label+" ("+f.Unit+")", f.Min, f.Max, f.Default)
			}
			fmt.Printf("--%-28s %-22s %8d %8d %8d\n", features.SkyCoverField, "Sky Cover Level", 0, features.SkyCoverLevels-1, 0)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent predictions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.NewStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			predictions, err := st.RecentPredictions(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(predictions)
			}

			if len(predictions) == 0 {
				fmt.Println("No predictions recorded")
				return nil
			}

			fmt.Printf("%-6s %-20s %-20s %5s %10s %16s\n", "ID", "WHEN", "MODEL", "SKY", "KW", "ENERGY (J)")
			fmt.Println(strings.Repeat("-", 82))
			for _, p := range predictions {
				fmt.Println(historyRow(p))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of predictions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

// historyRow formats p for the history table. The model column is cut to
// 20 characters, not bytes.
func historyRow(p *store.Prediction) string {
	return fmt.Sprintf("%-6d %-20s %-20.20s %5d %10.2f %16.2f",
		p.ID, p.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		p.Model, p.SkyCover, p.ForecastKW, p.EnergyJ)
}
