// Package ragagent implements the retrieval agent: free-text parsed into
// structured filters, paginated and cached, reformulated on an empty
// result, and backed by a rate-limited LLM fallback when deterministic
// retrieval still finds nothing.
package ragagent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/cuemby/agentic-fabric/pkg/envelope"
	"github.com/cuemby/agentic-fabric/pkg/errs"
	"github.com/cuemby/agentic-fabric/pkg/events"
	"github.com/cuemby/agentic-fabric/pkg/filter"
	"github.com/cuemby/agentic-fabric/pkg/llm"
	"github.com/cuemby/agentic-fabric/pkg/metrics"
	"github.com/cuemby/agentic-fabric/pkg/persistence"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

// Config holds the agent's tuning knobs, normally sourced from
// config.Config.RAG plus the table it retrieves from.
type Config struct {
	Table                    string
	DefaultLimit             int
	MaxLimit                 int
	SummaryThreshold         int
	MaxFallbacksPerMin       int
	ReformulationMaxAttempts int
	CacheDisabled            bool
	DefaultListOnEmpty       bool
}

// SuffixStripper shortens a company name by removing a trailing corporate
// suffix, used by the "shorten company" reformulation strategy. A caller
// wanting locale-aware stripping can supply its own.
type SuffixStripper func(company string) string

var defaultSuffixes = []string{"gmbh", "sarl", "ltd.", "ltd", "inc.", "inc", "corp.", "corp", "co.", "co", "plc", "sa"}

// DefaultSuffixStripper removes the first matching suffix from
// defaultSuffixes found as a trailing token after comma/whitespace
// normalization. English/Western-registry biased by design; callers
// needing broader coverage supply their own SuffixStripper.
func DefaultSuffixStripper(company string) string {
	norm := strings.TrimSpace(strings.ReplaceAll(company, ",", " "))
	tokens := strings.Fields(norm)
	if len(tokens) < 2 {
		return company
	}
	last := strings.ToLower(strings.TrimSuffix(tokens[len(tokens)-1], "."))
	for _, suf := range defaultSuffixes {
		if strings.TrimSuffix(suf, ".") == last {
			return strings.Join(tokens[:len(tokens)-1], " ")
		}
	}
	return company
}

// Request is the decoded shape of a retrieval task's payload.
type Request struct {
	Prompt     string         `json:"prompt"`
	Filters    map[string]any `json:"filters"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
	IncludeRaw bool           `json:"include_raw"`
	ReturnJSON bool           `json:"return_json"`
}

// Agent is the RetrievalAgent: a persistence.ReadOnlyFacade reader plus
// an optional llm.Provider for the structured-extraction and fallback
// paths. A nil Provider means those paths never fire.
type Agent struct {
	facade   *persistence.ReadOnlyFacade
	cfg      Config
	provider llm.Provider
	stripper SuffixStripper

	cacheMu sync.RWMutex
	cache   map[string]types.Envelope

	fbLimiter *rate.Limiter
}

// New builds a RetrievalAgent. provider may be nil.
func New(facade *persistence.ReadOnlyFacade, cfg Config, provider llm.Provider) *Agent {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 200
	}
	if cfg.ReformulationMaxAttempts <= 0 {
		cfg.ReformulationMaxAttempts = 3
	}
	perMin := cfg.MaxFallbacksPerMin
	limiter := rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
	if perMin <= 0 {
		limiter = rate.NewLimiter(0, 0) // fallback disabled entirely
	}
	return &Agent{
		facade:    facade,
		cfg:       cfg,
		provider:  provider,
		stripper:  DefaultSuffixStripper,
		cache:     make(map[string]types.Envelope),
		fbLimiter: limiter,
	}
}

// SetSuffixStripper replaces the stripper used by the "shorten company"
// reformulation strategy. A nil s leaves the current one in place.
func (a *Agent) SetSuffixStripper(s SuffixStripper) {
	if s != nil {
		a.stripper = s
	}
}

var (
	emailRe    = regexp.MustCompile(`(?i)[\w.+-]+@[\w-]+\.[\w.-]+`)
	idRe       = regexp.MustCompile(`(?i)\bid[:=]?\s*([A-Za-z0-9_-]+)\b`)
	clientIDRe = regexp.MustCompile(`(?i)\bclient[_ ]?id[:=]?\s*([A-Za-z0-9_-]+)\b`)
	companyRe  = regexp.MustCompile(`(?i)\bat\s+([A-Za-z][\w&.,'-]*(?:\s+[A-Za-z][\w&.,'-]*)*)\s*$`)
)

// ruleBasedExtract pulls {id, email, company, client_id} tokens out of
// free text with a small set of regexes. Returns an empty map if nothing
// matched.
func ruleBasedExtract(prompt string) map[string]any {
	out := make(map[string]any)
	if m := clientIDRe.FindStringSubmatch(prompt); m != nil {
		out["client_id"] = m[1]
	}
	if m := emailRe.FindString(prompt); m != "" {
		out["email"] = m
	}
	if m := idRe.FindStringSubmatch(prompt); m != nil && out["client_id"] == nil {
		out["id"] = m[1]
	}
	if m := companyRe.FindStringSubmatch(prompt); m != nil {
		out["company"] = titleCase(strings.TrimSpace(m[1]))
	}
	return out
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
	}
	return strings.Join(words, " ")
}

// Run implements agent.Agent.
func (a *Agent) Run(ctx context.Context, task types.Task) (types.Envelope, error) {
	var req Request
	if err := decodePayload(task.Payload, &req); err != nil {
		return envelope.Error("ragagent", task.TaskID, &errs.ValidationError{Reason: "malformed retrieval request: " + err.Error()}), nil
	}

	filtersGiven := len(req.Filters) > 0
	filters := req.Filters
	originalEmpty := !filtersGiven

	if !filtersGiven {
		filters = ruleBasedExtract(req.Prompt)
		originalEmpty = len(filters) == 0
		if originalEmpty && a.provider != nil {
			if extracted, err := a.provider.ExtractFilters(ctx, req.Prompt); err == nil && len(extracted) > 0 {
				filters = extracted
				originalEmpty = false
			}
		}
	}

	limit := clamp(req.Limit, 1, a.cfg.MaxLimit, a.cfg.DefaultLimit)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	source := "persistence." + a.cfg.Table

	if originalEmpty && req.ReturnJSON && a.cfg.DefaultListOnEmpty {
		page, total, err := a.query(ctx, nil, limit, offset)
		if err != nil {
			return types.Envelope{}, err
		}
		return a.assemble(source, task.TaskID, page, total, limit, offset, nil, "miss", "", nil, req.IncludeRaw), nil
	}

	fset := toFilterSet(filters, a.facade.Capabilities())
	cacheKey := ""
	if !a.cfg.CacheDisabled {
		cacheKey = cacheKeyFor(filters, limit, offset)
		if cached, ok := a.cacheGet(cacheKey); ok {
			metrics.RAGCacheHitsTotal.Inc()
			hit := cached
			hit.Metadata.Cache = "hit"
			return hit, nil
		}
		metrics.RAGCacheMissesTotal.Inc()
	}

	page, total, err := a.query(ctx, fset, limit, offset)
	if err != nil {
		return types.Envelope{}, err
	}

	var attempts []types.ReformulationAttempt
	fallback := ""

	if total == 0 && len(fset) > 0 {
		page, total, attempts = a.reformulate(ctx, fset, limit, offset)
	}

	if total == 0 && a.provider != nil {
		if a.allowFallback() {
			answer, err := a.provider.Reason(ctx, req.Prompt, nil)
			if err == nil {
				page = []map[string]any{{"answer": answer}}
				total = 1
				fallback = "agent"
				metrics.RAGFallbacksTotal.WithLabelValues("answered").Inc()
				events.Emit(events.Event{Type: events.EventFallbackInvoked, Flow: "rag", TaskID: task.TaskID})
			} else {
				metrics.RAGFallbacksTotal.WithLabelValues("error").Inc()
			}
		} else {
			fallback = "suppressed"
			metrics.RAGFallbacksTotal.WithLabelValues("suppressed").Inc()
			events.Emit(events.Event{Type: events.EventFallbackSuppressed, Flow: "rag", TaskID: task.TaskID})
		}
	}

	env := a.assemble(source, task.TaskID, page, total, limit, offset, fset.ToMap(), "miss", fallback, attempts, req.IncludeRaw)

	if !a.cfg.CacheDisabled && fallback == "" {
		a.cacheSet(cacheKey, env)
	}

	return env, nil
}

// query runs a filtered scan against the facade and returns the page
// (after offset/limit slicing done locally so total_count can reflect the
// full match count independent of how the page was cut) plus the full
// match count.
func (a *Agent) query(ctx context.Context, fset filter.Set, limit, offset int) ([]map[string]any, int, error) {
	all, err := a.facade.Query(ctx, a.cfg.Table, persistence.QueryOptions{Filters: fset})
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	page := all
	if offset > 0 {
		if offset >= len(page) {
			page = nil
		} else {
			page = page[offset:]
		}
	}
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, total, nil
}

// reformulate applies, in order, "drop email", "shorten company", "drop
// company" until one produces a non-empty result or attempts are
// exhausted.
func (a *Agent) reformulate(ctx context.Context, fset filter.Set, limit, offset int) ([]map[string]any, int, []types.ReformulationAttempt) {
	var attempts []types.ReformulationAttempt
	caps := a.facade.Capabilities()
	strategies := []struct {
		reason string
		apply  func(filter.Set) (filter.Set, bool)
	}{
		{"drop_email", func(s filter.Set) (filter.Set, bool) {
			if _, ok := s.Get("email"); !ok {
				return nil, false
			}
			return s.Without("email"), true
		}},
		{"shorten_company", func(s filter.Set) (filter.Set, bool) {
			f, ok := s.Get("company")
			if !ok {
				return nil, false
			}
			c := companyValue(f)
			shortened := a.stripper(c)
			if shortened == c {
				return nil, false
			}
			return append(s.Without("company"), companyFilter(shortened, caps)), true
		}},
		{"drop_company", func(s filter.Set) (filter.Set, bool) {
			if _, ok := s.Get("company"); !ok {
				return nil, false
			}
			return s.Without("company"), true
		}},
	}

	current := fset
	for _, strat := range strategies {
		if len(attempts) >= a.cfg.ReformulationMaxAttempts {
			break
		}
		next, applicable := strat.apply(current)
		if !applicable {
			continue
		}
		page, total, err := a.query(ctx, next, limit, offset)
		metrics.RAGReformulationsTotal.WithLabelValues(strat.reason).Inc()
		attempts = append(attempts, types.ReformulationAttempt{Reason: strat.reason, Filters: next.ToMap(), ResultCount: total})
		current = next
		if err == nil && total > 0 {
			return page, total, attempts
		}
	}
	return nil, 0, attempts
}

func (a *Agent) assemble(source, taskID string, page []map[string]any, total, limit, offset int, queryFilters map[string]any, cache, fallback string, attempts []types.ReformulationAttempt, includeRaw bool) types.Envelope {
	env := envelope.FromRecords(source, taskID, page, "id", func(meta *types.Metadata) {
		meta.QueryFilters = queryFilters
		meta.Limit = &limit
		meta.Offset = &offset
		if cache != "" {
			meta.Cache = cache
		}
		if fallback != "" {
			meta.Fallback = fallback
		}
		if len(attempts) > 0 {
			meta.ReformulationAttempts = attempts
		}
		if total > a.cfg.SummaryThreshold && a.cfg.SummaryThreshold > 0 {
			meta.TotalCount = total
			meta.Truncated = true
			meta.Summary = summarize(page, queryFilters)
		}
	})
	if includeRaw {
		env = envelope.WithRawRow(env, page)
	}
	return env
}

// summarize counts rows per distinct value of the first query-filter
// column in sorted key order, or reports the plain page size if no filter
// was applied.
func summarize(rows []map[string]any, queryFilters map[string]any) map[string]int {
	out := map[string]int{}
	if len(queryFilters) == 0 {
		out["returned"] = len(rows)
		return out
	}
	var col string
	for k := range queryFilters {
		if col == "" || k < col {
			col = k
		}
	}
	for _, r := range rows {
		key := col + ":" + toStringKey(r[col])
		out[key]++
	}
	return out
}

func toStringKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// allowFallback reports whether the fallback budget has room for one more
// call this window, consuming a token if so. Backed by a token bucket
// refilling at MaxFallbacksPerMin/60 per second with a burst equal to the
// full per-minute budget, which approximates the sliding window closely
// enough for a soft rate limit.
func (a *Agent) allowFallback() bool {
	return a.fbLimiter.Allow()
}

func (a *Agent) cacheGet(key string) (types.Envelope, bool) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	env, ok := a.cache[key]
	return env, ok
}

func (a *Agent) cacheSet(key string, env types.Envelope) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.cache[key] = env
}

func cacheKeyFor(filters map[string]any, limit, offset int) string {
	return envelope.RowHash(map[string]any{"filters": filters, "limit": limit, "offset": offset})
}

func clamp(v, min, max, def int) int {
	if v <= 0 {
		v = def
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

func toFilterSet(filters map[string]any, caps types.CapabilityMap) filter.Set {
	fset := make(filter.Set, 0, len(filters))
	for k, v := range filters {
		if k == "company" {
			fset = append(fset, companyFilter(toStr(v), caps))
			continue
		}
		fset = append(fset, filter.Eq(k, v))
	}
	return fset
}

// companyFilter builds the operator shape the adapter can execute for a
// company name: containment when the adapter supports ilike, exact match
// otherwise.
func companyFilter(company string, caps types.CapabilityMap) filter.Filter {
	if caps.ILike {
		return filter.Ilike("company", "%"+company+"%")
	}
	return filter.Eq("company", company)
}

// companyValue recovers the plain company string from whichever shape
// companyFilter produced.
func companyValue(f filter.Filter) string {
	s := toStr(f.Val)
	if f.Kind == filter.KindIlike {
		s = strings.Trim(s, "%")
	}
	return s
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodePayload(payload map[string]any, req *Request) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, req)
}
