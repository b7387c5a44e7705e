// Traffic simulator for exercising LeadWatch end to end.
//
// Usage:
//
//	go run ./cmd/trafficsim -url http://localhost:8080
//
// This tool:
//  1. Generates organic clicks and leads plus one burst per fraud scenario
//  2. Posts every event through the ingestion API with a worker pool
//  3. Reads back the alert feed and the stats summary
//  4. Reports which scenarios were detected and which were missed
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Click is the ingestion payload for POST /clicks.
type Click struct {
	IP        string  `json:"ip"`
	Campaign  string  `json:"campaign"`
	UserAgent *string `json:"userAgent,omitempty"`
	IsBot     bool    `json:"isBot"`
	IsVPN     bool    `json:"isVpn"`
	IsFraud   bool    `json:"isFraud"`
	UserID    *string `json:"userId,omitempty"`
}

// Lead is the ingestion payload for POST /leads.
type Lead struct {
	Email       *string `json:"email,omitempty"`
	IP          *string `json:"ip,omitempty"`
	Campaign    *string `json:"campaign,omitempty"`
	IsDuplicate bool    `json:"isDuplicate"`
	UserID      *string `json:"userId,omitempty"`
}

// Alert is the subset of an alert the simulator reads back.
type Alert struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
}

// Stats is the subset of GET /stats the simulator prints.
type Stats struct {
	WindowDays        int     `json:"windowDays"`
	TotalClicks       int64   `json:"totalClicks"`
	TotalLeads        int64   `json:"totalLeads"`
	FraudClickRate    float64 `json:"fraudClickRate"`
	BotClickRate      float64 `json:"botClickRate"`
	VPNClickRate      float64 `json:"vpnClickRate"`
	DuplicateLeadRate float64 `json:"duplicateLeadRate"`
}

type event struct {
	path string
	body any
}

// scenario is a burst of traffic that should raise one alert type.
type scenario struct {
	name   string
	expect string
	events []event
}

// Results tracks simulator counters.
type Results struct {
	Sent      int64
	Errors    int64
	LatencyMs int64
}

func ptr(s string) *string { return &s }

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "LeadWatch base URL")
	organic := flag.Int("organic", 200, "Number of organic clicks and leads")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Uint64("seed", 1, "Random seed")
	verbose := flag.Bool("verbose", false, "Print every alert")
	flag.Parse()

	fmt.Println("LEADWATCH TRAFFIC SIMULATOR")
	fmt.Printf("\nLeadWatch URL: %s\n", *baseURL)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Organic:       %d\n", *organic)
	fmt.Printf("Seed:          %d\n\n", *seed)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: LeadWatch not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure LeadWatch is running:")
		fmt.Println("  go run ./cmd/leadwatch")
		os.Exit(1)
	}
	fmt.Println("LeadWatch is healthy")

	rng := rand.New(rand.NewPCG(*seed, *seed^0x5eed))
	scenarios := buildScenarios(rng)
	events := organicTraffic(rng, *organic)
	for _, s := range scenarios {
		events = append(events, s.events...)
	}
	rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

	fmt.Printf("\nPosting %d events with %d workers...\n", len(events), *workers)
	start := time.Now()
	results := post(events, *baseURL, *workers)
	duration := time.Since(start)

	alerts, err := fetchAlerts(*baseURL)
	if err != nil {
		fmt.Printf("ERROR: failed to fetch alerts: %v\n", err)
		os.Exit(1)
	}
	stats, err := fetchStats(*baseURL)
	if err != nil {
		fmt.Printf("ERROR: failed to fetch stats: %v\n", err)
		os.Exit(1)
	}

	printResults(results, duration, scenarios, alerts, stats, *verbose)
}

// buildScenarios returns one traffic burst per alert type.
func buildScenarios(rng *rand.Rand) []scenario {
	spamIP := fmt.Sprintf("10.%d.%d.5", rng.IntN(256), rng.IntN(256))
	var ipSpam []event
	for i := 0; i < 12; i++ {
		ipSpam = append(ipSpam, event{"/leads", Lead{
			IP:    ptr(spamIP),
			Email: ptr(fmt.Sprintf("burst%d@mailinator.test", i%4)),
		}})
	}

	rapidUser := fmt.Sprintf("user-rapid-%d", rng.IntN(1000))
	var rapid []event
	for i := 0; i < 6; i++ {
		rapid = append(rapid, event{"/leads", Lead{UserID: ptr(rapidUser)}})
	}

	vpnIP := fmt.Sprintf("185.%d.%d.9", rng.IntN(256), rng.IntN(256))
	var vpn []event
	for i := 0; i < 4; i++ {
		vpn = append(vpn, event{"/clicks", Click{
			IP:       vpnIP,
			Campaign: "retarget",
			IsVPN:    true,
			UserID:   ptr(fmt.Sprintf("vpn-user-%d", i)),
		}})
	}

	var bots []event
	for i := 0; i < 15; i++ {
		bots = append(bots, event{"/clicks", Click{
			IP:        fmt.Sprintf("203.0.113.%d", i),
			Campaign:  []string{"spring", "summer"}[i%2],
			UserAgent: ptr("python-requests/2.31"),
			IsBot:     true,
			IsFraud:   true,
		}})
	}

	var dupes []event
	for i := 0; i < 12; i++ {
		dupes = append(dupes, event{"/leads", Lead{
			Campaign:    ptr("black-friday"),
			Email:       ptr(fmt.Sprintf("dupe%d@example.test", i)),
			IsDuplicate: i < 10,
		}})
	}

	return []scenario{
		{"12 leads from one IP", "IP_SPAM", ipSpam},
		{"4 emails behind one IP", "EMAIL_SPAM", ipSpam[:0]},
		{"6 leads from one user", "RAPID_FIRE", rapid},
		{"4 VPN clicks from one IP", "VPN_DETECTED", vpn},
		{"15 scripted clicks", "BOT_DETECTED", bots},
		{"10 of 12 duplicates", "DUPLICATE_BURST", dupes},
	}
}

// organicTraffic spreads clicks and leads thinly across IPs and campaigns.
func organicTraffic(rng *rand.Rand, n int) []event {
	agents := []string{
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5)",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X)",
	}
	campaigns := []string{"spring", "summer", "retarget", "newsletter"}

	events := make([]event, 0, 2*n)
	for i := 0; i < n; i++ {
		ip := fmt.Sprintf("192.0.%d.%d", i/250, i%250+1)
		campaign := campaigns[rng.IntN(len(campaigns))]
		events = append(events, event{"/clicks", Click{
			IP:        ip,
			Campaign:  campaign,
			UserAgent: ptr(agents[rng.IntN(len(agents))]),
		}})
		if rng.IntN(3) == 0 {
			events = append(events, event{"/leads", Lead{
				IP:       ptr(ip),
				Email:    ptr(fmt.Sprintf("person%d@example.test", i)),
				Campaign: ptr(campaign),
			}})
		}
	}
	return events
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func post(events []event, baseURL string, numWorkers int) *Results {
	results := &Results{}
	work := make(chan event, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for ev := range work {
				start := time.Now()
				err := send(client, baseURL+ev.path, ev.body)
				atomic.AddInt64(&results.LatencyMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&results.Sent, 1)
				if err != nil {
					atomic.AddInt64(&results.Errors, 1)
					fmt.Printf("ERROR: POST %s -> %v\n", ev.path, err)
				}
			}
		}()
	}

	for _, ev := range events {
		work <- ev
	}
	close(work)
	wg.Wait()

	return results
}

func send(client *http.Client, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func fetchAlerts(baseURL string) ([]Alert, error) {
	var out struct {
		Alerts []Alert `json:"alerts"`
	}
	// Window overrides give the request its own cache entry, so the feed
	// reflects the traffic just posted.
	err := getJSON(baseURL+"/alerts?ip_spam_window=61m", &out)
	return out.Alerts, err
}

func fetchStats(baseURL string) (*Stats, error) {
	var s Stats
	if err := getJSON(baseURL+"/stats?days=1", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printResults(r *Results, duration time.Duration, scenarios []scenario, alerts []Alert, s *Stats, verbose bool) {
	fmt.Println("\nSIMULATION RESULTS")

	fmt.Printf("\nINGESTION\n")
	fmt.Printf("   Events Sent:   %d\n", r.Sent)
	fmt.Printf("   Errors:        %d\n", r.Errors)
	fmt.Printf("   Duration:      %v\n", duration.Round(time.Millisecond))
	if r.Sent > 0 {
		fmt.Printf("   Avg Latency:   %.2f ms\n", float64(r.LatencyMs)/float64(r.Sent))
		fmt.Printf("   Throughput:    %.2f events/sec\n", float64(r.Sent)/duration.Seconds())
	}

	detected := make(map[string]int)
	for _, a := range alerts {
		detected[a.Type]++
	}

	fmt.Printf("\nSCENARIOS\n")
	missed := 0
	for _, sc := range scenarios {
		mark := "detected"
		if detected[sc.expect] == 0 {
			mark = "MISSED"
			missed++
		}
		fmt.Printf("   %-16s %-28s %s\n", sc.expect, sc.name, mark)
	}

	fmt.Printf("\nALERT FEED (%d alerts)\n", len(alerts))
	types := make([]string, 0, len(detected))
	for t := range detected {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		fmt.Printf("   %-16s %d\n", t, detected[t])
	}
	if verbose {
		for _, a := range alerts {
			fmt.Printf("   [%-8s] %s\n", a.Severity, a.Title)
		}
	}

	fmt.Printf("\nSTATS (last %d days)\n", s.WindowDays)
	fmt.Printf("   Clicks:          %d\n", s.TotalClicks)
	fmt.Printf("   Leads:           %d\n", s.TotalLeads)
	fmt.Printf("   Fraud Clicks:    %.2f%%\n", s.FraudClickRate)
	fmt.Printf("   Bot Clicks:      %.2f%%\n", s.BotClickRate)
	fmt.Printf("   VPN Clicks:      %.2f%%\n", s.VPNClickRate)
	fmt.Printf("   Duplicate Leads: %.2f%%\n", s.DuplicateLeadRate)

	fmt.Println()
	if missed > 0 {
		fmt.Printf("%d of %d scenarios missed\n", missed, len(scenarios))
		os.Exit(2)
	}
	fmt.Printf("All %d scenarios detected\n", len(scenarios))
}
