package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"alcyxob/coaching-app/internal/config"
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/lock"
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/outbox"
	"alcyxob/coaching-app/internal/recurrence"
	"alcyxob/coaching-app/internal/repository/mongo"
	"alcyxob/coaching-app/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operator tool for recurring session generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")

	root.AddCommand(newPreviewCmd())
	root.AddCommand(newDrainOutboxCmd(&configPath))
	return root
}

const dateLayout = "2006-01-02"

// parseTime accepts RFC 3339 or a bare date (midnight UTC).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(dateLayout, s)
}

func newPreviewCmd() *cobra.Command {
	var (
		pattern      string
		interval     int
		days         []int
		dayOfMonth   int
		start        string
		end          string
		ruleEnd      string
		limit        int
		ruleLimit    int
		maxScanSteps int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the dates a recurrence rule produces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			startAt, err := parseTime(start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			rule := domain.RecurrenceRule{
				Pattern:    domain.RecurrencePattern(pattern),
				Interval:   interval,
				DaysOfWeek: days,
			}
			if dayOfMonth > 0 {
				rule.DayOfMonth = &dayOfMonth
			}
			if ruleLimit > 0 {
				rule.MaxOccurrences = &ruleLimit
			}
			if ruleEnd != "" {
				t, err := parseTime(ruleEnd)
				if err != nil {
					return fmt.Errorf("invalid --rule-end: %w", err)
				}
				rule.EndDate = &t
			}

			var opts recurrence.Options
			if limit > 0 {
				opts.MaxOccurrences = &limit
			}
			if end != "" {
				t, err := parseTime(end)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
				opts.EndDate = &t
			}

			res := recurrence.NewCalculator(maxScanSteps, logger.Discard()).Occurrences(rule, startAt, opts)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			for _, d := range res.Dates {
				_, _ = fmt.Fprintf(out, "%s  %s\n", d.Format(time.RFC3339), d.Weekday())
			}
			_, _ = fmt.Fprintf(out, "%d occurrences", len(res.Dates))
			if res.Truncated {
				_, _ = fmt.Fprint(out, " (truncated by scan cap)")
			}
			_, _ = fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", string(domain.PatternWeekly), "weekly|bi-weekly|monthly|quarterly|custom")
	cmd.Flags().IntVar(&interval, "interval", 1, "pattern interval")
	cmd.Flags().IntSliceVar(&days, "days", nil, "weekdays, 0=Sunday .. 6=Saturday")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 0, "day of month for monthly/quarterly")
	cmd.Flags().StringVar(&start, "start", time.Now().UTC().Format(dateLayout), "start date")
	cmd.Flags().StringVar(&end, "end", "", "request end date")
	cmd.Flags().StringVar(&ruleEnd, "rule-end", "", "rule end date")
	cmd.Flags().IntVar(&limit, "max", 0, "request occurrence limit")
	cmd.Flags().IntVar(&ruleLimit, "rule-max", 0, "rule occurrence limit")
	cmd.Flags().IntVar(&maxScanSteps, "max-scan-steps", recurrence.DefaultMaxScanSteps, "scan step cap")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newDrainOutboxCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "drain-outbox",
		Short: "Store generation records queued after failed writes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Env)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			dbClient, err := mongo.ConnectDB(cfg.Database.URI)
			if err != nil {
				return err
			}
			defer func() { _ = mongo.DisconnectDB(dbClient) }()

			rdb, err := lock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer rdb.Close()

			retrier := service.NewTrackingRetrier(
				outbox.NewRedisQueue(rdb, outbox.DefaultKey),
				mongo.NewMongoGenerationRecordRepository(dbClient.Database(cfg.Database.Name)),
				log,
			)
			res, err := retrier.Drain(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stored=%d requeued=%d\n", res.Stored, res.Requeued)
			return nil
		},
	}
}
