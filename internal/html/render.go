package html

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"

	"github.com/raphi011/qaspace/internal/html/util"
	"github.com/raphi011/qaspace/internal/model"
)

//go:embed run.tmpl
var runTemplate string

//go:embed runs.tmpl
var runsTemplate string

//go:embed test-results.tmpl
var testResultsTemplate string

var templatesByName map[string]*template.Template

var funcs = template.FuncMap{
	"relativeTime": util.FormatRelativeTime,
}

func init() {
	templatesByName = make(map[string]*template.Template)

	templates := []struct {
		name     string
		template string
	}{
		{name: "run", template: runTemplate},
		{name: "runs", template: runsTemplate},
		{name: "test-results", template: testResultsTemplate},
	}

	for _, t := range templates {
		template, err := template.New(t.name).Funcs(funcs).Parse(t.template)
		if err != nil {
			panic(fmt.Sprintf("unable to parse html template %s: %v", t.name, err))
		}

		templatesByName[t.name] = template
	}
}

func RenderRun(run model.Run, w io.Writer) error {
	return templatesByName["run"].Execute(w, run)
}

func RenderRuns(runs []model.RunSummary, w io.Writer) error {
	return templatesByName["runs"].Execute(w, runs)
}

// RenderTestResults renders the history of a single ticket key.
func RenderTestResults(key string, results []model.TestResult, w io.Writer) error {
	return templatesByName["test-results"].Execute(w, struct {
		Key     string
		Results []model.TestResult
	}{key, results})
}
