package httpapi

import (
	"net/http"
	"strings"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/governance"
)

// parseFilter reads category and source, each repeatable or comma-separated.
func parseFilter(r *http.Request) governance.Filter {
	q := r.URL.Query()
	return governance.Filter{
		Categories: splitValues(q["category"]),
		Sources:    splitValues(q["source"]),
	}
}

func splitValues(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

type datasetsResponse struct {
	Datasets []core.DatasetRecord `json:"datasets"`
	Summary  governance.Summary   `json:"summary"`
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	recs, err := s.catalog.List(r.Context(), parseFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetsResponse{
		Datasets: recs,
		Summary:  governance.Summarize(recs, s.topN),
	})
}

func (s *Server) handleDatasetLoad(w http.ResponseWriter, r *http.Request) {
	body, err := uploadBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	res, err := s.catalog.Load(r.Context(), body, queryBool(r, "force"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDatasetExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="datasets.csv"`)
	if err := s.catalog.Export(r.Context(), w); err != nil {
		// Headers may be out already; log and cut the response short.
		s.log.Error("dataset export failed", loggerFields(r, err)...)
	}
}
