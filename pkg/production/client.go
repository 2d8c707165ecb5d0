// Package production is a typed client for the dashboard backend's
// production-charts API: module/assembly output, hourly distributions and
// NG analysis. Every request obtains its bearer token from a TokenSource,
// so the session manager stays the single token authority.
package production

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 30 * time.Second

// TokenSource yields a currently valid access token. session.Manager
// satisfies it.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// Period selects the reporting window of the chart endpoints.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// LineType selects between the module and final-assembly lines.
type LineType string

const (
	LineModule   LineType = "module"
	LineAssembly LineType = "assembly"
)

// ProductionPoint is one bucket of a production series: one hour for daily
// queries, one day otherwise.
type ProductionPoint struct {
	ProductionDate string `json:"production_date"`
	Hour           string `json:"hour,omitempty"`
	Total          int    `json:"total"`
	CountA         int    `json:"count_a"`
	CountB         int    `json:"count_b"`
	NGCount        int    `json:"ng_count"`
	OKCount        int    `json:"ok_count"`
}

// ProductionSummary aggregates a production series, including the yield and
// the trend against the preceding period.
type ProductionSummary struct {
	TotalA       int     `json:"total_a"`
	TotalB       int     `json:"total_b"`
	Total        int     `json:"total"`
	OKCount      int     `json:"ok_count"`
	NGCount      int     `json:"ng_count"`
	PureNGCount  int     `json:"pure_ng_count"`
	FixedCount   int     `json:"fixed_count"`
	YieldRate    float64 `json:"yield_rate"`
	YieldTrend   float64 `json:"yield_trend"`
	AverageDaily float64 `json:"average_daily"`
	DaysCount    int     `json:"days_count"`
	Trend        float64 `json:"trend"`
}

type ProductionReport struct {
	Period         Period            `json:"period"`
	StartDate      string            `json:"start_date"`
	EndDate        string            `json:"end_date"`
	ProductionData []ProductionPoint `json:"production_data"`
	Summary        ProductionSummary `json:"summary"`
}

// HourlyBucket is one of the 24 buckets of an hourly distribution.
type HourlyBucket struct {
	Hour    string  `json:"hour"`
	Average float64 `json:"average"`
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Total   int     `json:"total"`
	Count   int     `json:"count"`
}

type HourlySummary struct {
	TotalProduction int    `json:"total_production"`
	PeakHour        string `json:"peak_hour"`
	ActiveHours     int    `json:"active_hours"`
}

type HourlyDistribution struct {
	LineType         LineType       `json:"line_type"`
	Period           Period         `json:"period"`
	StartDate        string         `json:"start_date"`
	EndDate          string         `json:"end_date"`
	Days             int            `json:"days"`
	DistributionData []HourlyBucket `json:"distribution_data"`
	Summary          HourlySummary  `json:"summary"`
}

// TrendPoint is one day of a trend series. Module lines carry the A/B
// split, assembly lines the OK/NG split; days without production keep a
// zero total and no moving average.
type TrendPoint struct {
	ProductionDate string  `json:"production_date"`
	Total          int     `json:"total"`
	CountA         int     `json:"count_a,omitempty"`
	CountB         int     `json:"count_b,omitempty"`
	NGCount        int     `json:"ng_count,omitempty"`
	OKCount        int     `json:"ok_count,omitempty"`
	YieldRate      float64 `json:"yield_rate,omitempty"`
	MovingAvg      float64 `json:"moving_avg,omitempty"`
}

// TrendStatistics summarizes the non-zero days of a trend series.
// TrendDirection is "increasing", "decreasing", "stable" or
// "insufficient_data" when fewer than seven production days exist.
type TrendStatistics struct {
	Mean           float64 `json:"mean"`
	Median         float64 `json:"median"`
	StdDev         float64 `json:"std_dev"`
	Min            int     `json:"min"`
	Max            int     `json:"max"`
	TrendDirection string  `json:"trend_direction"`
	TrendStrength  float64 `json:"trend_strength"`
}

type TrendAnalysis struct {
	LineType   LineType        `json:"line_type"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
	Days       int             `json:"days"`
	TrendData  []TrendPoint    `json:"trend_data"`
	Statistics TrendStatistics `json:"statistics"`
}

// ComparisonPoint pairs one day of module output against assembly output.
// ModulePairs is min(count_a, count_b), the number of complete module
// sets; Efficiency is assembly output relative to those pairs.
type ComparisonPoint struct {
	Date          string  `json:"date"`
	Module        int     `json:"module"`
	ModuleA       int     `json:"module_a"`
	ModuleB       int     `json:"module_b"`
	ModulePairs   int     `json:"module_pairs"`
	Assembly      int     `json:"assembly"`
	AssemblyOK    int     `json:"assembly_ok"`
	AssemblyNG    int     `json:"assembly_ng"`
	AssemblyYield float64 `json:"assembly_yield"`
	Efficiency    float64 `json:"efficiency"`
}

type ComparisonStatistics struct {
	Correlation      float64 `json:"correlation"`
	TotalModule      int     `json:"total_module"`
	TotalModulePairs int     `json:"total_module_pairs"`
	TotalAssembly    int     `json:"total_assembly"`
	AvgEfficiency    float64 `json:"avg_efficiency"`
}

type Comparison struct {
	StartDate      string               `json:"start_date"`
	EndDate        string               `json:"end_date"`
	Period         Period               `json:"period"`
	ComparisonData []ComparisonPoint    `json:"comparison_data"`
	Statistics     ComparisonStatistics `json:"statistics"`
}

// NGReasonItem is one normalized NG reason with its pure-NG/FIXED split.
type NGReasonItem struct {
	Reason  string  `json:"reason"`
	PureNG  int     `json:"pure_ng"`
	Fixed   int     `json:"fixed"`
	Total   int     `json:"total"`
	FixRate float64 `json:"fix_rate"`
}

type NGTrendPoint struct {
	Date       string  `json:"date"`
	Total      int     `json:"total"`
	OKCount    int     `json:"ok_count"`
	PureNG     int     `json:"pure_ng"`
	FixedCount int     `json:"fixed_count"`
	TotalNG    int     `json:"total_ng"`
	YieldRate  float64 `json:"yield_rate"`
	NGRate     float64 `json:"ng_rate"`
	FixRate    float64 `json:"fix_rate"`
}

type NGAnalysis struct {
	Period       Period         `json:"period"`
	StartDate    string         `json:"start_date"`
	EndDate      string         `json:"end_date"`
	DailyNGTrend []NGTrendPoint `json:"daily_ng_trend"`
	ReasonItems  []NGReasonItem `json:"reason_items"`
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	tracer     trace.Tracer
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing production API base URL: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		tokens:     tokens,
		tracer:     otel.Tracer("fwh/production"),
	}, nil
}

// ModuleProduction fetches the module line's production report. targetDate
// is optional (YYYY-MM-DD); empty means today.
func (c *Client) ModuleProduction(ctx context.Context, period Period, targetDate string) (ProductionReport, error) {
	var report ProductionReport
	err := c.get(ctx, "/production-charts/module/production", periodQuery(period, targetDate), &report)

	return report, err
}

// AssemblyProduction fetches the final-assembly line's production report.
func (c *Client) AssemblyProduction(ctx context.Context, period Period, targetDate string) (ProductionReport, error) {
	var report ProductionReport
	err := c.get(ctx, "/production-charts/assembly/production", periodQuery(period, targetDate), &report)

	return report, err
}

// HourlyDistribution fetches the per-hour distribution over the period, or
// over the trailing number of days when days > 0 and targetDate is empty.
func (c *Client) HourlyDistribution(ctx context.Context, lineType LineType, period Period, targetDate string, days int) (HourlyDistribution, error) {
	q := periodQuery(period, targetDate)
	q.Set("line_type", string(lineType))
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}

	var dist HourlyDistribution
	err := c.get(ctx, "/production-charts/hourly-distribution", q, &dist)

	return dist, err
}

// TrendAnalysis fetches the daily trend of a line with a 7-day moving
// average. days covers the trailing window (0 = server default of 30,
// bounded 7..90 server-side).
func (c *Client) TrendAnalysis(ctx context.Context, lineType LineType, days int) (TrendAnalysis, error) {
	q := url.Values{}
	q.Set("line_type", string(lineType))
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}

	var trend TrendAnalysis
	err := c.get(ctx, "/production-charts/trend-analysis", q, &trend)

	return trend, err
}

// Comparison fetches the module-vs-assembly comparison over a date range
// (both dates YYYY-MM-DD, required by the backend).
func (c *Client) Comparison(ctx context.Context, period Period, startDate, endDate string) (Comparison, error) {
	q := url.Values{}
	q.Set("start_date", startDate)
	q.Set("end_date", endDate)
	q.Set("period", string(period))

	var comp Comparison
	err := c.get(ctx, "/production-charts/comparison", q, &comp)

	return comp, err
}

// NGAnalysis fetches the NG breakdown with normalized reasons. searchTerm
// filters reasons server-side; limit caps the Top-N list (0 = server
// default).
func (c *Client) NGAnalysis(ctx context.Context, period Period, targetDate, searchTerm string, limit int) (NGAnalysis, error) {
	q := periodQuery(period, targetDate)
	if searchTerm != "" {
		q.Set("search_term", searchTerm)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var analysis NGAnalysis
	err := c.get(ctx, "/production-charts/ng-analysis", q, &analysis)

	return analysis, err
}

func periodQuery(period Period, targetDate string) url.Values {
	q := url.Values{}
	q.Set("period", string(period))
	if targetDate != "" {
		q.Set("target_date", targetDate)
	}

	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values, decodeInto any) error {
	ctx, span := c.tracer.Start(ctx, "production.get")
	defer span.End()

	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return fmt.Errorf("getting a valid token: %w", err)
	}

	u, err := url.JoinPath(c.baseURL.String(), path)
	if err != nil {
		return fmt.Errorf("building request URL: %w", err)
	}
	u += "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("production API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(decodeInto); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
