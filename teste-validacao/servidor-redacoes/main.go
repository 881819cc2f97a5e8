// Upstream falso do app de redações para validar o gateway à mão:
//
//	go run ./teste-validacao/servidor-redacoes
//	UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway serve
package main

import (
	"encoding/json"
	"html/template"
	"net/http"
	"os"

	"admission-gateway/logging"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), "console", nil)

	addr := ":8081"
	if v := os.Getenv("STUB_ADDR"); v != "" {
		addr = v
	}

	logger.Info().Str("addr", addr).Msg("essay app stub listening")
	if err := http.ListenAndServe(addr, newUpstream(logger)); err != nil {
		logger.Fatal().Err(err).Msg("stub server error")
	}
}

// essayPage finaliza a redação pelo fluxo double-submit: lê o cookie csrf-token
// emitido pelo gateway e reenvia no header x-csrf-token.
var essayPage = template.Must(template.New("essay").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Redação {{.}}</title></head>
<body>
<h1>Redação {{.}}</h1>
<button id="finalizar">Finalizar</button>
<pre id="resultado"></pre>
<script>
document.getElementById("finalizar").onclick = async () => {
  const m = document.cookie.match(/(?:^|; )csrf-token=([^;]*)/);
  const res = await fetch("/api/essays/{{.}}/finalize", {
    method: "POST",
    headers: {"x-csrf-token": m ? m[1] : ""},
  });
  document.getElementById("resultado").textContent = res.status + " " + await res.text();
};
</script>
</body>
</html>
`))

// newUpstream responde o que o gateway repassou, para conferir headers e cookies.
func newUpstream(logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/redacoes/{essayID}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := essayPage.Execute(w, chi.URLParam(r, "essayID")); err != nil {
			logger.Warn().Err(err).Msg("essay page render failed")
		}
	})
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Msg("request reached upstream")

		var cookies []string
		for _, c := range r.Cookies() {
			cookies = append(cookies, c.Name)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method":          r.Method,
			"path":            r.URL.Path,
			"x_forwarded_for": r.Header.Get("X-Forwarded-For"),
			"x_csrf_token":    r.Header.Get("X-Csrf-Token") != "",
			"cookies":         cookies,
		})
	})
	return r
}
