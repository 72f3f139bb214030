package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/synnergy-labs/challenge-gate/apierr"
	"github.com/synnergy-labs/challenge-gate/kv"
)

// Weights are the scorer's per-signal contributions, bounded so the
// total cannot exceed 1.0. All fields are tunable.
type Weights struct {
	BotUA          float64
	MissingUA      float64
	MissingOrigin  float64
	MissingReferer float64
	HeadlessUACH   float64
	LongViaChain   float64
	ASNScale       float64
	ASNCap         float64
}

// DefaultWeights is the reference weight table. No single signal reaches
// BlockThreshold on its own: the strongest, a bot-pattern user agent
// (0.35), blocks only together with further signals, such as a headless
// Sec-CH-UA (0.55 total) or a missing Origin and Referer (0.47 total).
var DefaultWeights = Weights{
	BotUA:          0.35,
	MissingUA:      0.10,
	MissingOrigin:  0.08,
	MissingReferer: 0.04,
	HeadlessUACH:   0.20,
	LongViaChain:   0.08,
	ASNScale:       0.20,
	ASNCap:         0.20,
}

// BlockThreshold is the total score at or above which a request is
// blocked with status "risk".
const BlockThreshold = 0.45

var botPattern = regexp.MustCompile(`(?i)bot|crawl|spider|curl|wget|headless|scrape`)

var legitBrowserPattern = regexp.MustCompile(`(?i)mozilla|chrome|safari|firefox|edg/`)

// ASNTable is the YAML-backed per-ASN base-score table.
type ASNTable struct {
	BaseScores map[string]float64 `mapstructure:"base_scores"`
}

// LoadASNTable reads an ASN base-score table from a YAML file at path.
func LoadASNTable(path string) (*ASNTable, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("risk: load ASN table: %w", err)
	}
	var t ASNTable
	if err := v.Unmarshal(&t); err != nil {
		return nil, fmt.Errorf("risk: unmarshal ASN table: %w", err)
	}
	if t.BaseScores == nil {
		t.BaseScores = make(map[string]float64)
	}
	return &t, nil
}

// Scorer evaluates the header/ASN risk score for a single request.
type Scorer struct {
	Weights    Weights
	ASNTable   *ASNTable
	Store      kv.Store
	LookupASN  func(ctx context.Context, ip string) (string, error)
	httpClient *http.Client
}

// NewScorer builds a Scorer. asnTable may be nil, in which case ASN
// scoring contributes zero.
func NewScorer(weights Weights, asnTable *ASNTable, store kv.Store) *Scorer {
	s := &Scorer{
		Weights:    weights,
		ASNTable:   asnTable,
		Store:      store,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	s.LookupASN = s.lookupASNOverHTTP
	return s
}

// Headers is the subset of an inbound HTTP request the scorer reads.
type Headers struct {
	UserAgent string
	Origin    string
	Referer   string
	SecCHUA   string
	Via       string
	RemoteIP  string
}

// Score computes the weighted risk score for h and returns it together
// with the human-readable reasons that contributed. A score >=
// BlockThreshold means the request should be blocked.
func (s *Scorer) Score(ctx context.Context, h Headers) (float64, []string) {
	var total float64
	var reasons []string
	add := func(amount float64, reason string) {
		if amount <= 0 {
			return
		}
		total += amount
		reasons = append(reasons, reason)
	}

	switch {
	case h.UserAgent == "":
		add(s.Weights.MissingUA, "missing user-agent")
	case botPattern.MatchString(h.UserAgent):
		add(s.Weights.BotUA, "bot-pattern user-agent")
	case !legitBrowserPattern.MatchString(h.UserAgent):
		add(s.Weights.MissingUA, "non-browser user-agent token")
	}

	if !isParseableOrigin(h.Origin) {
		add(s.Weights.MissingOrigin, "missing or unparseable origin")
	}
	if h.Referer == "" {
		add(s.Weights.MissingReferer, "missing referer")
	}
	if strings.Contains(strings.ToLower(h.SecCHUA), "headless") {
		add(s.Weights.HeadlessUACH, "sec-ch-ua reports headless")
	}
	if viaChainLength(h.Via) >= 3 {
		add(s.Weights.LongViaChain, "via chain length >= 3")
	}

	asnScore := s.asnScore(ctx, h.RemoteIP)
	add(asnScore, "asn risk score")

	if total > 1.0 {
		total = 1.0
	}
	return total, reasons
}

// Evaluate runs Score and returns a *apierr.Error with Kind
// KindRiskBlocked when the total meets BlockThreshold.
func (s *Scorer) Evaluate(ctx context.Context, h Headers) *apierr.Error {
	total, reasons := s.Score(ctx, h)
	if total >= BlockThreshold {
		return apierr.Blocked(apierr.KindRiskBlocked, reasons)
	}
	return nil
}

func isParseableOrigin(origin string) bool {
	return origin != "" && (strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://"))
}

func viaChainLength(via string) int {
	if via == "" {
		return 0
	}
	return len(strings.Split(via, ","))
}

// asnScore resolves the requesting IP's ASN (via LookupASN, cached in
// kv.Store) and returns min(base*scale, cap) plus the dynamic per-ASN
// increment once that ASN has >= 5 blocked IPs attributed to it.
func (s *Scorer) asnScore(ctx context.Context, ip string) float64 {
	if s.ASNTable == nil || ip == "" || s.LookupASN == nil {
		return 0
	}
	asn, err := s.resolveASN(ctx, ip)
	if err != nil || asn == "" {
		return 0
	}
	base := s.ASNTable.BaseScores[asn]
	score := base * s.Weights.ASNScale
	if score > s.Weights.ASNCap {
		score = s.Weights.ASNCap
	}
	score += s.dynamicIncrement(ctx, asn)
	return score
}

// resolveASN consults the risk:ipasn:{ip} cache before falling back to
// LookupASN; results are cached for a day on success, an hour on
// failure.
func (s *Scorer) resolveASN(ctx context.Context, ip string) (string, error) {
	if s.Store != nil {
		if cached, err := s.Store.Get(ctx, "risk:ipasn:"+ip); err == nil {
			return string(cached), nil
		}
	}
	asn, err := s.LookupASN(ctx, ip)
	if s.Store != nil {
		if err != nil {
			_ = s.Store.Set(ctx, "risk:ipasn:"+ip, []byte(""), time.Hour)
		} else {
			_ = s.Store.Set(ctx, "risk:ipasn:"+ip, []byte(asn), 24*time.Hour)
		}
	}
	return asn, err
}

// dynamicIncrement reads the risk:asn:{asn} blocked-IP counter and
// returns an extra 0.05 once it reaches 5.
func (s *Scorer) dynamicIncrement(ctx context.Context, asn string) float64 {
	if s.Store == nil {
		return 0
	}
	raw, err := s.Store.Get(ctx, "risk:asn:"+asn)
	if err != nil {
		return 0
	}
	var rec struct {
		BlockedCount int `json:"blockedCount"`
	}
	if json.Unmarshal(raw, &rec) != nil {
		return 0
	}
	if rec.BlockedCount >= 5 {
		return 0.05
	}
	return 0
}

// RecordBlockedIP increments the blocked-IP counter for an IP's ASN,
// called by the caller once an IP has been rate-limit-blocked, so
// future requests from the same ASN score higher.
func (s *Scorer) RecordBlockedIP(ctx context.Context, ip string) {
	if s.Store == nil {
		return
	}
	asn, err := s.resolveASN(ctx, ip)
	if err != nil || asn == "" {
		return
	}
	raw, _ := s.Store.Get(ctx, "risk:asn:"+asn)
	var rec struct {
		BlockedCount int `json:"blockedCount"`
	}
	_ = json.Unmarshal(raw, &rec)
	rec.BlockedCount++
	encoded, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = s.Store.Set(ctx, "risk:asn:"+asn, encoded, 7*24*time.Hour)
}

// lookupASNOverHTTP is the default LookupASN: a 2-second-timeout GET
// against an external ASN lookup service, expecting a JSON body of the
// form {"asn": "AS15169"}. Production deployments may override LookupASN
// with a richer client.
func (s *Scorer) lookupASNOverHTTP(ctx context.Context, ip string) (string, error) {
	endpoint := asnLookupEndpoint()
	if endpoint == "" {
		return "", fmt.Errorf("risk: no ASN lookup endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/"+ip, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("risk: ASN lookup returned %d", resp.StatusCode)
	}
	var body struct {
		ASN string `json:"asn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.ASN, nil
}

func asnLookupEndpoint() string {
	return viper.GetString("risk.asn_lookup_endpoint")
}
