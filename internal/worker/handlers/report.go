package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/job"
	"github.com/nadmax/ecotask/internal/repository/models"
	"github.com/rs/zerolog/log"
)

const defaultReportDir = "./reports"

type ReportPayload struct {
	GroupBy    string `json:"group_by"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Format     string `json:"format"`
	ScheduleIn int    `json:"schedule_in"`

	outputPath string
}

type ReportSource interface {
	ReportRows(ctx context.Context, groupBy string, from, to time.Time) ([]models.ReportRow, error)
}

type ReportGenerator struct {
	source    ReportSource
	outputDir string
}

func NewReportGenerator(source ReportSource, outputDir string) *ReportGenerator {
	if outputDir == "" {
		outputDir = defaultReportDir
	}

	return &ReportGenerator{source: source, outputDir: outputDir}
}

// GenerateReportHandler writes an emission report for tasks created in the
// requested window, grouped by project, category, assignee or month.
func (rg *ReportGenerator) GenerateReportHandler(ctx context.Context, j *job.Job) error {
	payload, err := parsePayload(j.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	payload.outputPath = rg.outputDir

	logger := log.With().Str("job_id", j.ID).Logger()

	if payload.ScheduleIn > 0 {
		logger.Info().Int("seconds", payload.ScheduleIn).Msg("delaying report generation")

		select {
		case <-time.After(time.Duration(payload.ScheduleIn) * time.Second):
		case <-ctx.Done():
			logger.Warn().Msg("job cancelled during delay")
			return ctx.Err()
		}
	}

	startTime, endTime, err := parseTimeRange(payload)
	if err != nil {
		return fmt.Errorf("invalid time range: %w", err)
	}

	logger.Info().
		Str("group_by", payload.GroupBy).
		Str("format", payload.Format).
		Time("from", startTime).
		Time("to", endTime).
		Msg("generating emission report")

	rows, err := rg.source.ReportRows(ctx, payload.GroupBy, startTime, endTime)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if ctx.Err() != nil {
		logger.Warn().Msg("job cancelled after data generation")
		return ctx.Err()
	}

	outputFile, err := saveReport(payload, reportTable(payload.GroupBy, rows))
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	logger.Info().Str("file", outputFile).Int("rows", len(rows)).Msg("report generated")
	return nil
}

func parsePayload(payload map[string]any) (*ReportPayload, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var rp ReportPayload
	if err := json.Unmarshal(data, &rp); err != nil {
		return nil, err
	}

	if rp.GroupBy == "" {
		rp.GroupBy = models.GroupByProject
	}
	if !models.ValidGrouping(rp.GroupBy) {
		return nil, fmt.Errorf("unsupported group_by %q (available: project, category, assignee, month)", rp.GroupBy)
	}
	if rp.Format == "" {
		rp.Format = "csv"
	}
	if rp.Format != "csv" && rp.Format != "json" {
		return nil, fmt.Errorf("unsupported format: %s", rp.Format)
	}

	return &rp, nil
}

// parseTimeRange defaults to the last 30 days.
func parseTimeRange(payload *ReportPayload) (time.Time, time.Time, error) {
	var startTime, endTime time.Time
	var err error

	if payload.EndTime != "" {
		endTime, err = time.Parse(time.RFC3339, payload.EndTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_time format: %w", err)
		}
	} else {
		endTime = time.Now()
	}

	if payload.StartTime != "" {
		startTime, err = time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_time format: %w", err)
		}
	} else {
		startTime = endTime.AddDate(0, 0, -30)
	}

	if endTime.Before(startTime) {
		return time.Time{}, time.Time{}, errors.New("end_time is before start_time")
	}

	return startTime, endTime, nil
}

func reportTable(groupBy string, rows []models.ReportRow) [][]string {
	data := make([][]string, 0, len(rows)+2)
	data = append(data, []string{"Group", "Key", "Label", "Tasks", "Estimated Hours", "CO2 (kg)", "Tier"})

	emissions := make([]float64, 0, len(rows))
	tasks := 0
	for _, r := range rows {
		data = append(data, []string{
			groupBy,
			r.Key,
			r.Label,
			strconv.Itoa(r.TaskCount),
			formatFloat(r.Hours, 2),
			formatFloat(r.CO2Amount, 2),
			string(co2.Classify(r.CO2Amount)),
		})
		emissions = append(emissions, r.CO2Amount)
		tasks += r.TaskCount
	}

	if len(rows) > 0 {
		total := co2.Aggregate(emissions)
		data = append(data, []string{groupBy, "", "TOTAL", strconv.Itoa(tasks), "", formatFloat(total, 2), string(co2.Classify(total))})
	}

	return data
}

func formatFloat(val float64, precision int) string {
	return strconv.FormatFloat(val, 'f', precision, 64)
}

func saveReport(payload *ReportPayload, data [][]string) (string, error) {
	if err := os.MkdirAll(payload.outputPath, 0o755); err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("ecotask_co2_by_%s_%s.%s", payload.GroupBy, timestamp, payload.Format)
	fullPath := filepath.Join(payload.outputPath, filename)

	switch payload.Format {
	case "csv":
		return fullPath, saveAsCSV(fullPath, data)
	case "json":
		return fullPath, saveAsJSON(fullPath, data)
	default:
		return "", fmt.Errorf("unsupported format: %s", payload.Format)
	}
}

func saveAsCSV(path string, data [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if fileErr := file.Close(); fileErr != nil {
			log.Warn().Err(fileErr).Str("path", path).Msg("failed to close file")
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return err
	}

	return writer.Error()
}

func saveAsJSON(path string, data [][]string) error {
	if len(data) < 1 {
		return errors.New("insufficient data for JSON export: missing header row")
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if fileErr := file.Close(); fileErr != nil {
			log.Warn().Err(fileErr).Str("path", path).Msg("failed to close file")
		}
	}()

	headers := data[0]
	rows := data[1:]

	records := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]string)
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			}
		}

		records = append(records, record)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"generated_at": time.Now().Format(time.RFC3339),
		"data":         records,
		"total_rows":   len(records),
	})
}
