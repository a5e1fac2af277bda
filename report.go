package qaspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphi011/qaspace/internal/model"
)

const DefaultReportFile = "report.json"

type report struct {
	model.Run
	Summary model.RunSummary `json:"summary"`
}

var keyReplacer = strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")

// writeReport writes the run as json to dir/file and its attachments to
// dir/attachments/<run-id>/<key>/<name>. It returns the path of the report.
func writeReport(dir, file string, run model.Run) (string, error) {
	attachmentDir := filepath.Join(dir, "attachments", run.ID)

	for _, tr := range run.Results {
		if len(tr.Attachments) == 0 {
			continue
		}

		resultDir := filepath.Join(attachmentDir, keyReplacer.Replace(tr.Key))
		if err := os.MkdirAll(resultDir, 0o755); err != nil {
			return "", fmt.Errorf("creating attachment dir: %w", err)
		}

		for _, a := range tr.Attachments {
			path := filepath.Join(resultDir, filepath.Base(a.Name))
			if err := os.WriteFile(path, a.Data, 0o644); err != nil {
				return "", fmt.Errorf("writing attachment %s: %w", a.Name, err)
			}
		}
	}

	content, err := json.MarshalIndent(report{Run: run, Summary: run.Summary()}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling report: %w", err)
	}

	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	return path, nil
}
