package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/noahxzhu/timetable-notify/internal/links"
	"github.com/noahxzhu/timetable-notify/internal/parser"
	"github.com/noahxzhu/timetable-notify/internal/sheet"
	"github.com/noahxzhu/timetable-notify/internal/source"
)

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Print one group's schedule from a local spreadsheet",
	Long: `Print one group's schedule from a local spreadsheet.

Examples:
  timetable extract --file downloads/r_16.12.xls --group 158
  timetable extract --file schedule.xlsx --group "160 ТМ" --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		group, _ := cmd.Flags().GetString("group")
		charset, _ := cmd.Flags().GetString("charset")
		asJSON, _ := cmd.Flags().GetBool("json")

		if file == "" || group == "" {
			return fmt.Errorf("--file and --group are required")
		}

		grid, err := sheet.NewReader(charset).Read(file)
		if err != nil {
			return err
		}
		schedule := parser.ParseGroup(grid, group)

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"group": group, "file": file, "schedule": schedule})
		}

		if len(schedule) == 0 {
			fmt.Fprintf(out, "Group %s not found in %s\n", group, file)
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PAIR\tTIME\tSUBJECT\tTEACHER\tROOM")
		for _, e := range schedule {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Pair, e.Time, e.Subject, e.Teacher, e.Room)
		}
		return tw.Flush()
	},
}

// --- links ---

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List the timetable files on the students page",
	Long: `List the timetable files on the students page with their dates.
The file the watcher would pick is marked with "*".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		src := source.NewClient(source.Options{
			BaseURL:            cfg.Source.BaseURL,
			PageURL:            cfg.Source.PageURL,
			Timeout:            cfg.Source.Timeout,
			InsecureSkipVerify: cfg.Source.InsecureSkipVerify,
		})

		found, err := src.Links(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		selected, ok := links.Select(found)
		if !ok {
			fmt.Fprintln(out, "No schedule links found")
			return nil
		}

		now := time.Now()
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "\tDATE\tFILE\tDESCRIPTION")
		for _, l := range found {
			mark := ""
			if l == selected {
				mark = "*"
			}
			date := "-"
			if d, ok := links.Date(l, now); ok {
				date = d.Format("02.01.2006")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, date, l.Filename, l.Description)
		}
		return tw.Flush()
	},
}

func init() {
	extractCmd.Flags().String("file", "", "path to an .xls or .xlsx timetable")
	extractCmd.Flags().String("group", "", "group to extract, e.g. 158")
	extractCmd.Flags().String("charset", sheet.DefaultCharset, "fallback charset for legacy .xls files")
	extractCmd.Flags().Bool("json", false, "print JSON instead of a table")
}
