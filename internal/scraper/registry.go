package scraper

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// UpstreamConfig describes one scraper service the registry can route to.
type UpstreamConfig struct {
	Name      string   `yaml:"name"`
	Address   string   `yaml:"address"`
	Countries []string `yaml:"countries"`
	Priority  int      `yaml:"priority"`
	// RequiresTaxID excludes the scraper when the request has no taxId,
	// e.g. registries that can only be queried by tax number.
	RequiresTaxID bool `yaml:"requires_tax_id"`
}

// RegistryConfig is the on-disk registry configuration.
type RegistryConfig struct {
	Scrapers []UpstreamConfig `yaml:"scrapers"`
}

// LoadRegistryConfig reads a registry configuration from a YAML file.
func LoadRegistryConfig(path string) (RegistryConfig, error) {
	var cfg RegistryConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "scraper: read registry config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "scraper: parse registry config %s", path)
	}
	return cfg, nil
}

type upstream struct {
	cfg    UpstreamConfig
	client Client
}

// Registry routes lookups to a set of upstream scrapers. Scrapers are
// filtered by applicability (country, required fields), sorted by priority
// and tried in order until one returns companies. It implements Client so
// a single upstream and a registry of upstreams are interchangeable.
type Registry struct {
	upstreams []upstream
}

// NewRegistry builds a registry from config. Each upstream gets its own
// HTTP client; opts are applied to every one of them.
func NewRegistry(cfg RegistryConfig, opts ...Option) (*Registry, error) {
	if len(cfg.Scrapers) == 0 {
		return nil, eris.New("scraper: registry config has no scrapers")
	}

	seen := make(map[string]bool, len(cfg.Scrapers))
	ups := make([]upstream, 0, len(cfg.Scrapers))
	for _, sc := range cfg.Scrapers {
		if sc.Name == "" {
			return nil, eris.New("scraper: registry entry with empty name")
		}
		if seen[sc.Name] {
			return nil, eris.Errorf("scraper: duplicate scraper name: %s", sc.Name)
		}
		if sc.Address == "" {
			return nil, eris.Errorf("scraper: scraper %s has no address", sc.Name)
		}
		seen[sc.Name] = true
		clientOpts := append([]Option{WithName(sc.Name)}, opts...)
		ups = append(ups, upstream{cfg: sc, client: NewHTTPClient(sc.Address, clientOpts...)})
	}
	return &Registry{upstreams: ups}, nil
}

// NewRegistryFromClients builds a registry over existing clients, mainly
// for tests.
func NewRegistryFromClients(cfgs []UpstreamConfig, clients []Client) (*Registry, error) {
	if len(cfgs) != len(clients) {
		return nil, eris.New("scraper: config/client count mismatch")
	}
	ups := make([]upstream, len(cfgs))
	for i := range cfgs {
		ups[i] = upstream{cfg: cfgs[i], client: clients[i]}
	}
	return &Registry{upstreams: ups}, nil
}

func (r *Registry) Name() string { return "scraper-registry" }

// Lookup tries each applicable upstream in priority order and returns the
// first non-empty result. The response message describes which scrapers
// were considered and why the rest were skipped.
func (r *Registry) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	if req.TaxID == "" && req.CompanyName == "" {
		return nil, &StatusError{
			StatusCode: http.StatusBadRequest,
			Message:    "Request must contain a taxId or companyName",
		}
	}

	applicable, notApplicable := r.applicable(req)
	applicability := fmt.Sprintf("Availability of scrapers: %s: [%s]. %s: [%s]",
		pluralize(len(applicable), "applicable scraper"), upstreamNames(applicable),
		pluralize(len(notApplicable), "not applicable scraper"), strings.Join(notApplicable, ","))

	if len(applicable) == 0 {
		msg := fmt.Sprintf("Request not sent to any scraper. %s: [%s]",
			pluralize(len(notApplicable), "not applicable scraper"), strings.Join(notApplicable, ","))
		zap.L().Info(msg)
		return &LookupResponse{Companies: []ScraperResult{}, Message: msg}, nil
	}

	for _, up := range applicable {
		zap.L().Debug("attempting scraper lookup",
			zap.String("scraper", up.cfg.Name),
			zap.String("country", req.Country),
		)
		resp, err := up.client.Lookup(ctx, req)
		if err != nil {
			return nil, eris.Wrapf(err, "scraper: lookup in %s failed", up.cfg.Name)
		}
		if n := countCompanies(resp); n > 0 {
			return &LookupResponse{
				Companies: resp.Companies,
				Message:   fmt.Sprintf("%s found by scraper %s. %s", pluralize(n, "company"), up.cfg.Name, applicability),
			}, nil
		}
	}

	return &LookupResponse{
		Companies: []ScraperResult{},
		Message:   "No match found in any scraper. " + applicability,
	}, nil
}

func (r *Registry) applicable(req LookupRequest) ([]upstream, []string) {
	var applicable []upstream
	var notApplicable []string
	for _, up := range r.upstreams {
		if reason := up.cfg.skipReason(req); reason != "" {
			notApplicable = append(notApplicable, up.cfg.Name+" "+reason)
			continue
		}
		applicable = append(applicable, up)
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		return applicable[i].cfg.Priority < applicable[j].cfg.Priority
	})
	return applicable, notApplicable
}

// skipReason returns a non-empty explanation when the scraper should not be
// sent this request.
func (c UpstreamConfig) skipReason(req LookupRequest) string {
	if c.RequiresTaxID && req.TaxID == "" {
		return "requires a present taxId"
	}
	if len(c.Countries) == 0 {
		return ""
	}
	for _, country := range c.Countries {
		if strings.EqualFold(country, req.Country) {
			return ""
		}
	}
	return fmt.Sprintf("is not registered for country %q", req.Country)
}

func countCompanies(resp *LookupResponse) int {
	n := 0
	for _, group := range resp.Companies {
		n += len(group.Companies)
	}
	return n
}

func upstreamNames(ups []upstream) string {
	names := make([]string, len(ups))
	for i, up := range ups {
		names[i] = up.cfg.Name
	}
	return strings.Join(names, ",")
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	if strings.HasSuffix(noun, "company") {
		noun = strings.TrimSuffix(noun, "company") + "companies"
	} else {
		noun += "s"
	}
	return fmt.Sprintf("%d %s", n, noun)
}
