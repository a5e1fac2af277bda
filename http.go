package qaspace

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raphi011/qaspace/internal/html"
	"github.com/raphi011/qaspace/internal/model"
)

type MalformedRequestError struct {
	param string
}

func (e MalformedRequestError) Error() string {
	return "malformed request param: " + e.param
}

func (s *Server) router() http.Handler {
	router := httprouter.New()

	router.GET("/runs", s.GetRuns)
	router.GET("/runs/:run-id", s.GetRun)
	router.GET("/runs/:run-id/results/:seq/attachments/:idx", s.GetAttachment)
	router.GET("/tests/:test-key", s.GetTestResults)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

func (s *Server) httpError(w http.ResponseWriter, err error) {
	var notFound model.NotFoundError
	var malformedRequest MalformedRequestError

	if errors.As(err, &notFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	} else if errors.As(err, &malformedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.log.Error("request failed", "error", err)

	w.WriteHeader(http.StatusInternalServerError)
}

func (s *Server) writeResponse(w http.ResponseWriter, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err = w.Write(body); err != nil {
		s.log.Warn("error writing body", "error", err)
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (s *Server) writeHTML(w http.ResponseWriter, render func(w io.Writer) error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := render(w); err != nil {
		s.log.Warn("error rendering html", "error", err)
	}
}

func (s *Server) GetRuns(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	runs, err := s.storage.LoadRuns(r.Context())
	if err != nil {
		s.httpError(w, err)
		return
	}

	summaries := make([]model.RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, run.Summary())
	}

	if wantsHTML(r) {
		s.writeHTML(w, func(w io.Writer) error { return html.RenderRuns(summaries, w) })
		return
	}

	s.writeResponse(w, summaries)
}

func (s *Server) GetRun(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	run, err := s.storage.LoadRun(r.Context(), p.ByName("run-id"))
	if err != nil {
		s.httpError(w, err)
		return
	}

	if wantsHTML(r) {
		s.writeHTML(w, func(w io.Writer) error { return html.RenderRun(run, w) })
		return
	}

	s.writeResponse(w, run)
}

func (s *Server) GetTestResults(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	key := p.ByName("test-key")

	results, err := s.storage.LoadTestResultsByKey(r.Context(), key)
	if err != nil {
		s.httpError(w, err)
		return
	}

	if wantsHTML(r) {
		s.writeHTML(w, func(w io.Writer) error { return html.RenderTestResults(key, results, w) })
		return
	}

	s.writeResponse(w, results)
}

func (s *Server) GetAttachment(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	a, err := s.getAttachment(r, p)
	if err != nil {
		s.httpError(w, err)
		return
	}

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Name+`"`)

	if _, err = w.Write(a.Data); err != nil {
		s.log.Warn("error writing body", "error", err)
	}
}

func (s *Server) getAttachment(r *http.Request, p httprouter.Params) (model.Attachment, error) {
	seq, err := strconv.Atoi(p.ByName("seq"))
	if err != nil {
		return model.Attachment{}, MalformedRequestError{param: "seq"}
	}

	idx, err := strconv.Atoi(p.ByName("idx"))
	if err != nil || idx < 0 {
		return model.Attachment{}, MalformedRequestError{param: "idx"}
	}

	runID := p.ByName("run-id")

	run, err := s.storage.LoadRun(r.Context(), runID)
	if err != nil {
		return model.Attachment{}, err
	}

	for _, tr := range run.Results {
		if tr.Seq != seq {
			continue
		}

		if idx >= len(tr.Attachments) {
			break
		}

		return tr.Attachments[idx], nil
	}

	return model.Attachment{}, model.NotFoundError{Kind: "attachment", ID: runID + "/" + p.ByName("seq") + "/" + p.ByName("idx")}
}
