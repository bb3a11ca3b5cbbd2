package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/newaysecurity/cctv-clocking/internal/web/handlers"
	"github.com/newaysecurity/cctv-clocking/internal/web/middleware"
)

func (s *Server) setupRoutes(sessionManager *middleware.SessionManager) {
	authHandler := handlers.NewAuthHandler(s.config, sessionManager)
	feedHandler := handlers.NewFeedHandler(s.pipeline)
	logsHandler := handlers.NewLogsHandler(s.gate)
	employeesHandler := handlers.NewEmployeesHandler(s.db, s.log)
	statusHandler := handlers.NewStatusHandler(s.pipeline)

	// Health check (no auth required)
	s.router.Get("/api/health", handlers.HealthCheck)
	s.router.Get("/healthz", handlers.HealthCheck)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionManager, s.config.Dashboard.EnableAuth))

			r.Get("/logs", logsHandler.Logs)
			r.Get("/daily_summary", logsHandler.DailySummary)

			r.Get("/employees", employeesHandler.List)
			r.Post("/employees", employeesHandler.Create)
			r.Delete("/employees/{name}", employeesHandler.Delete)

			r.Get("/status", statusHandler.Get)
		})
	})

	// The live feed and reference photos sit outside /api so they can be
	// embedded as <img> tags.
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(sessionManager, s.config.Dashboard.EnableAuth))
		r.Get("/video_feed", feedHandler.VideoFeed)
		r.Get("/faces/{name}/{file}", employeesHandler.Photo)
	})

	s.router.Get("/", s.serveIndex)
}

// serveIndex serves a minimal dashboard page wired to the JSON API.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>CCTV Clocking</title>
    <style>
        body { font-family: system-ui, sans-serif; margin: 0; background: #1a1a2e; color: #eee; }
        header { padding: 12px 24px; background: #16162a; }
        h1 { margin: 0; font-size: 20px; color: #00d9ff; }
        main { display: flex; gap: 24px; padding: 24px; flex-wrap: wrap; }
        img { max-width: 720px; border-radius: 6px; background: #000; }
        table { border-collapse: collapse; }
        td, th { padding: 4px 12px; border-bottom: 1px solid #2a2a3e; text-align: left; }
    </style>
</head>
<body>
    <header><h1>CCTV Clocking</h1></header>
    <main>
        <img src="/video_feed" alt="live feed">
        <div>
            <h2>Today</h2>
            <table id="summary"><tr><th>Name</th><th>In</th><th>Out</th><th>Duration</th></tr></table>
        </div>
    </main>
    <script>
        async function refresh() {
            const resp = await fetch('/api/daily_summary');
            if (!resp.ok) return;
            const data = await resp.json();
            const table = document.getElementById('summary');
            table.innerHTML = '<tr><th>Name</th><th>In</th><th>Out</th><th>Duration</th></tr>';
            for (const s of data.summaries) {
                const row = table.insertRow();
                for (const v of [s.name, s.first_in, s.last_out, s.duration]) {
                    row.insertCell().textContent = v;
                }
            }
        }
        refresh();
        setInterval(refresh, 30000);
    </script>
</body>
</html>`))
}
