package main

import (
	"fmt"
	"net/http"
	"strings"

	"admission-gateway/config"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/spf13/cobra"
)

var (
	rulesUser string
	rulesIP   string
)

var rulesCmd = &cobra.Command{
	Use:   "rules [METHOD] PATH",
	Short: "Show which rate limit class a request falls into",
	Long: `Print the class, matched route, limit and key the gateway would use for a request.
Without PATH, print the active rule table in priority order.

  gateway rules
  gateway rules POST /api/drafts/42/assistant --user u-1
  gateway rules /auth/login --ip 203.0.113.7`,
	Args: cobra.MaximumNArgs(2),
	RunE: runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.Flags().StringVar(&rulesUser, "user", "", "authenticated user id")
	rulesCmd.Flags().StringVar(&rulesIP, "ip", "unknown", "client address for anonymous requests")
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	classifier, err := ratelimit.NewClassifier(rulesFromConfig(cfg.RateLimit.Rules))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for i, r := range classifier.Rules() {
			fmt.Fprintf(out, "%d. %-8s methods=%s patterns=%s user=%s anonymous=%s\n",
				i+1, r.Class, listOrAny(r.Methods), listOrAny(r.Patterns),
				describeLimit(r.User), describeLimit(r.Anonymous))
		}
		return nil
	}

	method, path := http.MethodGet, args[0]
	if len(args) == 2 {
		method, path = strings.ToUpper(args[0]), args[1]
	}

	kind, id := domain.PrincipalIP, rulesIP
	if rulesUser != "" {
		kind, id = domain.PrincipalUser, rulesUser
	}
	c := classifier.Classify(method, path, kind, id)

	fmt.Fprintf(out, "class:  %s\n", c.Class)
	fmt.Fprintf(out, "route:  %s\n", c.Route)
	fmt.Fprintf(out, "key:    %s\n", c.Key)
	fmt.Fprintf(out, "limit:  %s\n", describeLimit(c.Config))
	if err := c.Config.Validate(); err != nil {
		fmt.Fprintf(out, "note:   %v (every request of this class is rejected)\n", err)
	}
	return nil
}

func describeLimit(c domain.Config) string {
	return fmt.Sprintf("%d/%s", c.MaxRequests, c.Window)
}

func listOrAny(v []string) string {
	if len(v) == 0 {
		return "*"
	}
	return strings.Join(v, ",")
}
