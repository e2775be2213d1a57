package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inxource/inxight/internal/api"
	"github.com/inxource/inxight/internal/config"
	"github.com/inxource/inxight/internal/insight"
	"github.com/inxource/inxight/internal/report"
)

// cadencesFlag resolves --cadence; "all" or empty selects every cadence.
func cadencesFlag(cmd *cobra.Command) ([]insight.Cadence, error) {
	v, _ := cmd.Flags().GetString("cadence")
	if v == "" || v == "all" {
		return insight.Cadences, nil
	}
	c, err := insight.ParseCadence(v)
	if err != nil {
		return nil, err
	}
	return []insight.Cadence{c}, nil
}

func cadenceArg(args []string) (insight.Cadence, error) {
	if len(args) == 0 {
		return insight.Weekly, nil
	}
	return insight.ParseCadence(args[0])
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate insight reports that are due",
	Long: `Generate insight reports for every cadence that is due.

A cadence is skipped while its latest report is younger than its period
(7 days for weekly, 30 days for monthly).

Examples:
  inxight generate
  inxight generate --cadence weekly
  inxight generate --remote`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cadences, err := cadencesFlag(cmd)
		if err != nil {
			return err
		}
		remote, _ := cmd.Flags().GetBool("remote")

		var trigger func(context.Context, insight.Cadence) (report.Result, error)
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			trigger = func(ctx context.Context, c insight.Cadence) (report.Result, error) {
				return generateRemote(ctx, client, c)
			}
		} else {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.Log.Level)
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			trigger = func(ctx context.Context, c insight.Cadence) (report.Result, error) {
				return a.scheduler.MaybeGenerate(ctx, c), nil
			}
		}

		failed := 0
		for _, c := range cadences {
			printStep("Checking %s insights", c)
			res, err := trigger(cmd.Context(), c)
			if err != nil {
				return err
			}
			switch {
			case !res.Success:
				failed++
				printError("%s", res.Message)
			case res.Generated:
				printSuccess("%s (report %s)", res.Message, res.ReportID)
			default:
				printStatus(capitalize(string(c)), "%s", res.Message)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d cadences failed", failed, len(cadences))
		}
		return nil
	},
}

// generateRemote triggers generation on a running server. A failed run is
// reported with a 500 and a Result body, so the body is decoded either way.
func generateRemote(ctx context.Context, client *apiClient, c insight.Cadence) (report.Result, error) {
	resp, err := client.post(ctx, "/insights/"+string(c)+"/generate", nil)
	if err != nil {
		return report.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return report.Result{}, fmt.Errorf("reading response: %w", err)
	}
	var res report.Result
	if err := json.Unmarshal(body, &res); err != nil || res.Message == "" {
		return report.Result{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return res, nil
}

func init() {
	generateCmd.Flags().String("cadence", "all", "cadence to generate: weekly, monthly or all")
	generateCmd.Flags().Bool("remote", false, "trigger generation on the running server instead of locally")
}

// --- latest ---

var latestCmd = &cobra.Command{
	Use:   "latest [weekly|monthly]",
	Short: "Show the most recent report for a cadence",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cadenceArg(args)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/insights/"+string(c)+"/latest")
		if err != nil {
			return err
		}
		var view api.ReportView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(view)
		}
		printStatus("Report", "%s", view.ID)
		printStatus("Created", "%s", view.CreatedAt)
		fmt.Println()
		writeBatch(os.Stdout, view.Insight)
		return nil
	},
}

func init() {
	latestCmd.Flags().Bool("json", false, "print the report as JSON")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history [weekly|monthly]",
	Short: "List past reports for a cadence, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cadenceArg(args)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/insights/%s/history?limit=%d", c, limit))
		if err != nil {
			return err
		}
		var views []api.ReportView
		if err := decodeJSON(resp, &views); err != nil {
			return err
		}

		if len(views) == 0 {
			printWarning("No %s reports yet", c)
			return nil
		}
		for _, v := range views {
			var batch insight.Batch
			tables := "?"
			if json.Unmarshal(v.Insight, &batch) == nil {
				tables = fmt.Sprintf("%d tables", len(batch))
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, v.CreatedAt), v.ID, tables)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "number of reports to list")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent generation attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cadence, _ := cmd.Flags().GetString("cadence")

		path := fmt.Sprintf("/insights/runs?limit=%d", limit)
		if cadence != "" {
			if _, err := insight.ParseCadence(cadence); err != nil {
				return err
			}
			path += "&cadence=" + cadence
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var runs []api.RunView
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			printWarning("No generation attempts recorded")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-8s %s  %s  %s\n",
				colorize(colorCyan, r.StartedAt),
				r.Type,
				outcomeLabel(r.Outcome),
				(time.Duration(r.DurationMs) * time.Millisecond).String(),
				r.Message,
			)
		}
		return nil
	},
}

func outcomeLabel(outcome string) string {
	label := fmt.Sprintf("%-9s", outcome)
	switch outcome {
	case "generated":
		return colorize(colorGreen, label)
	case "failed":
		return colorize(colorRed, label)
	}
	return colorize(colorYellow, label)
}

func init() {
	runsCmd.Flags().Int("limit", 20, "number of runs to list")
	runsCmd.Flags().String("cadence", "", "only show runs for this cadence")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if err := cfg.ValidateGeneration(); err != nil {
			fmt.Println()
			for _, line := range strings.Split(err.Error(), "\n") {
				printWarning("%s", line)
			}
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			if errors.Is(err, config.ErrUnknownKey) {
				return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
			}
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
