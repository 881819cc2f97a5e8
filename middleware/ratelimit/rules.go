package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
)

// Rule associa um conjunto de rotas a uma classe de endpoint.
//
// Patterns usam a sintaxe de rotas do chi ("/api/drafts/{draftID}/assistant",
// "/api/auth/*"). Sem Patterns a regra casa qualquer caminho; sem Methods, qualquer método.
type Rule struct {
	Class     domain.Class
	Methods   []string
	Patterns  []string
	User      domain.Config
	Anonymous domain.Config
}

// ConfigFor escolhe a configuração conforme o tipo de principal.
func (r Rule) ConfigFor(kind domain.PrincipalKind) domain.Config {
	if kind == domain.PrincipalUser {
		return r.User
	}
	return r.Anonymous
}

// DefaultRules é a tabela padrão, em ordem de prioridade.
func DefaultRules() []Rule {
	ai := domain.Config{Window: time.Minute, MaxRequests: 10}
	auth := domain.Config{Window: 15 * time.Minute, MaxRequests: 10}
	upload := domain.Config{Window: time.Minute, MaxRequests: 20}

	return []Rule{
		{
			Class: domain.ClassAI,
			Patterns: []string{
				"/api/evaluate", "/api/evaluate/*",
				"/api/rewrite", "/api/rewrite/*",
				"/api/tts", "/api/tts/*",
				"/api/drafts/{draftID}/assistant", "/api/drafts/{draftID}/assistant/*",
			},
			User:      ai,
			Anonymous: ai,
		},
		{
			Class: domain.ClassAuth,
			Patterns: []string{
				"/api/auth", "/api/auth/*",
				"/auth/login", "/auth/signup", "/auth/reset-password",
			},
			User:      auth,
			Anonymous: auth,
		},
		{
			Class: domain.ClassUpload,
			Patterns: []string{
				"/api/upload", "/api/upload/*",
				"/api/essays/{essayID}/finalize",
				"/api/submissions/{submissionID}/finalize",
			},
			User:      upload,
			Anonymous: upload,
		},
		DefaultRule(),
	}
}

// DefaultRule casa tudo: mais folgada para usuários autenticados.
func DefaultRule() Rule {
	return Rule{
		Class:     domain.ClassDefault,
		User:      domain.Config{Window: time.Minute, MaxRequests: 100},
		Anonymous: domain.Config{Window: time.Minute, MaxRequests: 30},
	}
}

type compiledRule struct {
	Rule
	methods map[string]struct{}
	mux     *chi.Mux
}

// AnyRoute é o padrão reportado para regras sem Patterns.
const AnyRoute = "*"

// match devolve também o padrão que casou, para agregação de baixa cardinalidade.
func (cr compiledRule) match(method, path string) (string, bool) {
	if len(cr.methods) > 0 {
		if _, ok := cr.methods[method]; !ok {
			return "", false
		}
	}
	if cr.mux == nil {
		return AnyRoute, true
	}
	rctx := chi.NewRouteContext()
	if !cr.mux.Match(rctx, method, path) {
		return "", false
	}
	if p := rctx.RoutePattern(); p != "" {
		return p, true
	}
	return AnyRoute, true
}

// Classifier avalia a tabela de regras de cima para baixo.
// A tabela pode ser trocada em tempo de execução (Replace) sem lock no caminho da request.
type Classifier struct {
	rules atomic.Pointer[[]compiledRule]
}

func NewClassifier(rules []Rule) (*Classifier, error) {
	c := &Classifier{}
	if err := c.Replace(rules); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace compila e instala uma nova tabela. Em caso de erro a tabela atual continua.
// Tabela vazia vira DefaultRules; se a última regra não for coringa, DefaultRule é anexada.
func (c *Classifier) Replace(rules []Rule) error {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	last := rules[len(rules)-1]
	if len(last.Patterns) > 0 || len(last.Methods) > 0 {
		rules = append(append([]Rule(nil), rules...), DefaultRule())
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, r.Class, err)
		}
		compiled = append(compiled, cr)
	}
	c.rules.Store(&compiled)
	return nil
}

func compileRule(r Rule) (cr compiledRule, err error) {
	if r.Class == "" {
		return cr, fmt.Errorf("class is required")
	}
	cr.Rule = r
	if len(r.Methods) > 0 {
		cr.methods = make(map[string]struct{}, len(r.Methods))
		for _, m := range r.Methods {
			cr.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
		}
	}
	if len(r.Patterns) == 0 {
		return cr, nil
	}

	// chi entra em pânico com padrões malformados; vira erro de configuração.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("invalid pattern: %v", rec)
		}
	}()
	mux := chi.NewRouter()
	for _, p := range r.Patterns {
		if !strings.HasPrefix(p, "/") {
			return cr, fmt.Errorf("pattern %q must start with /", p)
		}
		mux.Handle(p, http.NotFoundHandler())
	}
	cr.mux = mux
	return cr, nil
}

// Match devolve a primeira regra que casa com método e caminho.
func (c *Classifier) Match(method, path string) Rule {
	rule, _ := c.match(method, path)
	return rule
}

func (c *Classifier) match(method, path string) (Rule, string) {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	method = strings.ToUpper(method)
	for _, cr := range *c.rules.Load() {
		if route, ok := cr.match(method, path); ok {
			return cr.Rule, route
		}
	}
	// inalcançável: a última regra é sempre coringa.
	return DefaultRule(), AnyRoute
}

// Classify monta a classificação completa para um principal já identificado.
func (c *Classifier) Classify(method, path string, kind domain.PrincipalKind, id string) Classification {
	rule, route := c.match(method, path)
	return Classification{
		Class:  rule.Class,
		Route:  route,
		Key:    domain.NewKey(rule.Class, kind, id),
		Config: rule.ConfigFor(kind),
	}
}

// Rules devolve uma cópia da tabela ativa.
func (c *Classifier) Rules() []Rule {
	compiled := *c.rules.Load()
	out := make([]Rule, 0, len(compiled))
	for _, cr := range compiled {
		out = append(out, cr.Rule)
	}
	return out
}

// Classification é o resultado de classify(request): chave composta e configuração.
type Classification struct {
	Class  domain.Class
	Route  string // padrão da regra que casou (AnyRoute para a regra coringa)
	Key    domain.Key
	Config domain.Config
}
