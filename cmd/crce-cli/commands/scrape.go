package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/cache"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/grading"
	"github.com/WillyEverGreen/CRCE-calc/internal/portal"
	"github.com/WillyEverGreen/CRCE-calc/internal/scrape"
	"github.com/WillyEverGreen/CRCE-calc/internal/stats"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	scrapePrn       *string
	scrapeDob       *string
	scrapeForce     *bool
	scrapeChromeBin *string
)

func init() {
	scrapePrn = scrapeCmd.Flags().String("prn", "", "The student's PRN.")
	scrapeDob = scrapeCmd.Flags().String("dob", "", "The student's date of birth as DD-MM-YYYY.")
	scrapeForce = scrapeCmd.Flags().Bool("force", false, "Ignore any cached result.")
	scrapeChromeBin = scrapeCmd.Flags().String("chrome", os.Getenv("CRCE_CHROME_BIN"), "The chrome binary to drive.")
	scrapeCmd.MarkFlagRequired("prn")
	scrapeCmd.MarkFlagRequired("dob")
	rootCmd.AddCommand(scrapeCmd)
}

func newLocalScraper(tel telemetry.API) (*scrape.Service, error) {
	timeAPI, err := chrono.NewStandardImpl()
	if err != nil {
		return nil, err
	}
	lookup, err := loadCredits()
	if err != nil {
		return nil, err
	}

	bootstrapper, err := portal.NewBootstrapper(
		portal.NewRodDriver(portal.RodOptions{Bin: *scrapeChromeBin}, tel),
		portal.DefaultBootstrapOptions(),
		timeAPI,
		tel,
	)
	if err != nil {
		return nil, err
	}
	fetcher, err := portal.NewFetcher(portal.DefaultFetchOptions(), lookup, tel)
	if err != nil {
		return nil, err
	}

	opts := scrape.DefaultOptions()
	return scrape.NewService(
		opts,
		admission.NewQueue(admission.DefaultOptions(), timeAPI, tel),
		bootstrapper,
		fetcher,
		cache.NewMemoryStore(16, opts.CacheTTL, timeAPI),
		stats.NewMemoryRecorder(timeAPI),
		timeAPI,
		tel,
	), nil
}

func formatOptional(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *value)
}

func renderResult(result grading.ScrapeResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Subject", "Marks", "Percentage", "Grade", "Point", "Credits"})
	for _, s := range result.Subjects {
		t.AppendRow(table.Row{
			s.Name,
			fmt.Sprintf("%g/%g", s.TotalObtained, s.TotalMax),
			formatOptional(s.Percentage),
			s.Grade,
			formatOptional(s.GradePoint),
			s.Credits,
		})
	}
	t.AppendFooter(table.Row{
		"SGPA",
		fmt.Sprintf("%g/%g", result.TotalMarksAll, result.MaxMarksAll),
		"",
		"",
		formatOptional(result.SGPA),
		"",
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape --prn <prn> --dob <DD-MM-YYYY> [--force]",
	Short: "Logs in to the portal and prints the marks and SGPA of a student.",
	RunE: func(cmd *cobra.Command, args []string) error {
		scraper, err := newLocalScraper(telemetry.SlogAPI{})
		if err != nil {
			return err
		}

		var result *grading.ScrapeResult
		var failure error
		started := time.Now()

		err = scraper.Scrape(cmd.Context(), scrape.Request{
			PRN:          *scrapePrn,
			DOB:          *scrapeDob,
			ForceRefresh: *scrapeForce,
		}, func(ev scrape.Event) {
			switch ev.Type {
			case scrape.EventProgress:
				if ev.Total > 0 {
					fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", ev.Current, ev.Total, ev.Message)
					return
				}
				fmt.Fprintln(os.Stderr, ev.Message)
			case scrape.EventResult:
				result = ev.Data
			case scrape.EventError:
				failure = errors.New(ev.Error)
			}
		})
		if failure != nil {
			return failure
		}
		if err != nil {
			return err
		}
		if result == nil {
			return errors.New("scrape finished without a result")
		}

		renderResult(*result)
		fmt.Fprintf(os.Stderr, "done in %s\n", time.Since(started).Round(time.Millisecond))
		return nil
	},
}
