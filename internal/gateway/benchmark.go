package gateway

import (
	"net/http"

	"github.com/compresr/llm-gateway/internal/tasks"
)

// handleRunBenchmark runs synchronously. Runs take one call per prompt per
// enabled provider, so clients should allow for a long response.
func (g *Gateway) handleRunBenchmark(w http.ResponseWriter, r *http.Request) {
	task, err := tasks.Parse(r.PathValue("task"))
	if err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := g.bench.Run(r.Context(), task, nil)
	if err != nil {
		g.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (g *Gateway) handleGetBenchmark(w http.ResponseWriter, r *http.Request) {
	task, err := tasks.Parse(r.PathValue("task"))
	if err != nil {
		g.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, ok := g.bench.Results(task)
	if !ok {
		g.writeError(w, "no benchmark results for "+string(task), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
