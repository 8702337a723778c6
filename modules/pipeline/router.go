package pipeline

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/postpipe/pkg/requestid"
	svc "github.com/dmitrymomot/postpipe/svc/pipeline"
)

// RouterOptions configures the pipeline module. Service is required;
// Metrics is mounted at /metrics only when provided.
type RouterOptions struct {
	Service *svc.Service
	Metrics http.Handler
}

// Router creates the pipeline module router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/pipeline", pipeline.Router(pipeline.RouterOptions{
//	    Service: pipelineSvc,
//	    Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
//	}))
func Router(opts RouterOptions) chi.Router {
	h := &handlers{service: opts.Service}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Route("/posts", func(posts chi.Router) {
		posts.Post("/schedule", h.schedulePost)
		posts.Post("/{postID}/cancel", h.cancelPost)
		posts.Post("/{postID}/approve", h.approvePost)
	})
	r.Post("/cron/recovery-sweep", h.recoverySweep)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}
