package output

import (
	"fmt"
	"strconv"
	"strings"
)

// Format selects how a report is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name. An empty name means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown report format %q (want text or json)", s)
}

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	if f == FormatJSON {
		return ".json"
	}
	return ".txt"
}

// MergedFilename is the file name of the crawl-wide report.
func MergedFilename(f Format) string {
	return "report" + f.Ext()
}

// WorkerFilename is the file name of one worker's report.
func WorkerFilename(f Format, workerID int) string {
	return "report_" + strconv.Itoa(workerID) + f.Ext()
}
