package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/logging"
)

// SimConfig drives a booking race: Contenders patients try to book each of
// up to SlotLimit open slots at the same moment.
type SimConfig struct {
	APIBaseURL  string
	Contenders  int
	SlotLimit   int
	Concurrency int
}

type target struct {
	DoctorID string
	Date     string
	Time     string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = percentile(latencies, 50)
	p95 = percentile(latencies, 95)
	p99 = percentile(latencies, 99)
	return avg, min, max, p50, p95, p99
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Metrics struct {
	Booking OperationMetrics
	Join    OperationMetrics

	// slots won by more than one patient; must stay zero
	DoubleBooked int64
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	logger := logging.New(getEnv("APP_ENV", "dev"), "simulate")

	cfg := SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Contenders:  getInt("SIM_CONTENDERS", 20),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 50),
		Concurrency: getInt("SIM_CONCURRENCY", 4),
	}
	if cfg.Contenders <= 0 || cfg.SlotLimit <= 0 || cfg.Concurrency <= 0 {
		logger.Fatal().Interface("config", cfg).Msg("SIM_CONTENDERS, SIM_SLOT_LIMIT and SIM_CONCURRENCY must be > 0")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	targets, err := sim.loadTargets(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load open slots")
	}
	logger.Info().
		Int("slots", len(targets)).
		Int("contenders", cfg.Contenders).
		Msg("starting booking race")

	start := time.Now()
	sim.Run(ctx, targets)
	sim.PrintReport(time.Since(start))
}

// loadTargets collects open slots across all doctors.
func (s *Simulator) loadTargets(ctx context.Context) ([]target, error) {
	var doctors []struct {
		ID string `json:"id"`
	}
	if err := s.getJSON(ctx, "/doctors", &doctors); err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}

	var targets []target
	for _, d := range doctors {
		var days []struct {
			Date  string `json:"date"`
			Slots []struct {
				Time string `json:"time"`
			} `json:"slots"`
		}
		if err := s.getJSON(ctx, "/doctors/"+d.ID+"/slots", &days); err != nil {
			return nil, fmt.Errorf("list slots for %s: %w", d.ID, err)
		}
		for _, day := range days {
			for _, slot := range day.Slots {
				targets = append(targets, target{DoctorID: d.ID, Date: day.Date, Time: slot.Time})
				if len(targets) >= s.config.SlotLimit {
					return targets, nil
				}
			}
		}
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no open slots, run the seed first")
	}
	return targets, nil
}

func (s *Simulator) Run(ctx context.Context, targets []target) {
	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup

	for _, t := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(t target) {
			defer wg.Done()
			defer func() { <-sem }()
			s.race(ctx, t)
		}(t)
	}

	wg.Wait()
}

// race fires Contenders bookings for one slot at once and checks that at
// most one of them won.
func (s *Simulator) race(ctx context.Context, t target) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var (
		wg      sync.WaitGroup
		release = make(chan struct{})
		winners int64
		links   = make(chan uuid.UUID, s.config.Contenders)
	)

	for i := 0; i < s.config.Contenders; i++ {
		patientID := fmt.Sprintf("sim-%s-%d", strings.ToLower(gofakeit.FirstName()), rng.Intn(1_000_000))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			if id, ok := s.book(ctx, t, patientID); ok {
				atomic.AddInt64(&winners, 1)
				links <- id
			}
		}()
	}

	close(release)
	wg.Wait()
	close(links)

	if winners > 1 {
		atomic.AddInt64(&s.metrics.DoubleBooked, 1)
		s.log.Error().
			Str("doctor_id", t.DoctorID).
			Str("date", t.Date).
			Str("time", t.Time).
			Int64("winners", winners).
			Msg("slot booked more than once")
	}

	for id := range links {
		s.join(ctx, id)
	}
}

func (s *Simulator) book(ctx context.Context, t target, patientID string) (uuid.UUID, bool) {
	body, _ := json.Marshal(map[string]string{
		"doctor_id":  t.DoctorID,
		"patient_id": patientID,
		"date":       t.Date,
		"time":       t.Time,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, false, false)
		return uuid.Nil, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&appt)
		s.metrics.Booking.Record(latency, true, false)
		return appt.ID, true
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		s.metrics.Booking.Record(latency, false, false)
	}
	return uuid.Nil, false
}

func (s *Simulator) join(ctx context.Context, id uuid.UUID) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s/join", s.config.APIBaseURL, id), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Join.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	s.metrics.Join.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (s *Simulator) PrintReport(elapsed time.Duration) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BOOKING RACE REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Elapsed: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Printf("Double booked slots: %d\n", atomic.LoadInt64(&s.metrics.DoubleBooked))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking, "Winners")
	printOperationReport("Join", &s.metrics.Join, "Success")
}

func printOperationReport(name string, om *OperationMetrics, successLabel string) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  %s: %d (%.1f%%)\n", successLabel, success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Failures: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
