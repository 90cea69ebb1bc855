package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/config"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/db"
	"github.com/LambdaCodeStudio/Clinica-Backend/pkg/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	PatientLimit    int
	PairLimit       int
	DaysAhead       int
	PostgresDSN     string
	Location        *time.Location
}

// assignment is a practitioner allowed to perform a treatment.
type assignment struct {
	PractitionerID uuid.UUID
	TreatmentID    uuid.UUID
	Minutes        int
}

type DataPool struct {
	Patients     []uuid.UUID
	Assignments  []assignment
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

// TakeAppointment removes and returns a random live appointment id.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return id, true
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	ReadByID   OperationMetrics
	ListDay    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	cfg, logger := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2, ApplicationName: "clinic-simulate"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("assignments", len(dataPool.Assignments)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := countOverlaps(context.Background(), pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("overlap check failed")
	}
	if overlaps > 0 {
		logger.Error().Int("pairs", overlaps).Msg("overlapping live appointments found")
		os.Exit(1)
	}
	logger.Info().Msg("no overlapping live appointments")
}

func loadConfig() (SimConfig, zerolog.Logger) {
	baseCfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "prod")
		fallback.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.Component(logging.New(baseCfg.LogLevel, baseCfg.Env), "simulate")

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.25),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 2000),
		PairLimit:       getInt("SIM_PAIR_LIMIT", 200),
		DaysAhead:       getInt("SIM_DAYS_AHEAD", 5),
		PostgresDSN:     baseCfg.PostgresDSN,
		Location:        baseCfg.ClinicLocation,
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, logger
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT p.id, t.id, t.duration_minutes
		FROM practitioners p
		JOIN treatments t ON t.active
		WHERE p.active
		  AND (
		    NOT EXISTS (SELECT 1 FROM treatment_practitioners tp WHERE tp.treatment_id = t.id)
		    OR EXISTS (SELECT 1 FROM treatment_practitioners tp WHERE tp.treatment_id = t.id AND tp.practitioner_id = p.id)
		  )
		LIMIT $1
	`, cfg.PairLimit)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	for rows.Next() {
		var a assignment
		if err := rows.Scan(&a.PractitionerID, &a.TreatmentID, &a.Minutes); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Assignments = append(dataPool.Assignments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Assignments) == 0 {
		return nil, fmt.Errorf("no eligible practitioner/treatment pairs loaded")
	}
	return dataPool, nil
}

// countOverlaps counts pairs of live appointments that share a practitioner
// and intersect in time. Anything above zero is a scheduler bug.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.practitioner_id = b.practitioner_id
		 AND a.id < b.id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.state NOT IN ('canceled', 'rescheduled')
		  AND b.state NOT IN ('canceled', 'rescheduled')
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListDay(ctx, rng)
			}
		}
	}
}

// randomWindow picks a quarter-hour aligned start between 08:00 and 18:00
// on one of the next DaysAhead clinic days. The narrow grid makes
// concurrent workers collide often.
func (s *Simulator) randomWindow(rng *rand.Rand, minutes int) (time.Time, time.Time) {
	now := time.Now().In(s.config.Location)
	day := time.Date(now.Year(), now.Month(), now.Day()+1+rng.Intn(s.config.DaysAhead), 8, 0, 0, 0, s.config.Location)
	start := day.Add(time.Duration(rng.Intn(40)) * 15 * time.Minute)
	return start, start.Add(time.Duration(minutes) * time.Minute)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	a := s.pool.Assignments[rng.Intn(len(s.pool.Assignments))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start, end := s.randomWindow(rng, a.Minutes)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.send(ctx, http.MethodPost, "/appointments", "", map[string]any{
		"patient_id":      patientID,
		"practitioner_id": a.PractitionerID,
		"treatment_id":    a.TreatmentID,
		"start_time":      start.Format(time.RFC3339),
		"end_time":        end.Format(time.RFC3339),
		"notes":           "simulated visit for " + gofakeit.FirstName(),
	}, &created)

	success := err == nil && status == http.StatusCreated
	if success && created.ID != uuid.Nil {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	// duration is unknown here, so pick a common one; the API validates the window
	start, end := s.randomWindow(rng, 30)
	var res struct {
		Successor struct {
			ID uuid.UUID `json:"id"`
		} `json:"successor"`
	}
	status, latency, err := s.send(ctx, http.MethodPost, "/appointments/"+id.String()+"/reschedule", randomRole(rng), map[string]any{
		"start_time": start.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
		"reason":     "simulated reschedule",
	}, &res)

	success := err == nil && status == http.StatusCreated
	switch {
	case success:
		s.pool.AddAppointment(res.Successor.ID)
	case status == http.StatusConflict:
		// slot taken or lock busy; the original may still be live
		s.pool.AddAppointment(id)
	}
	s.metrics.Reschedule.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	status, latency, err := s.send(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel", randomRole(rng), map[string]any{
		"reason": "simulated cancellation",
	}, nil)

	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	status, latency, err := s.send(ctx, http.MethodGet, "/appointments/"+id.String(), "", nil, nil)
	s.metrics.ReadByID.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListDay(ctx context.Context, rng *rand.Rand) {
	now := time.Now().In(s.config.Location)
	day := now.AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)).Format("2006-01-02")

	path := "/appointments?date=" + day + "&limit=50"
	if rng.Intn(2) == 0 {
		a := s.pool.Assignments[rng.Intn(len(s.pool.Assignments))]
		path = fmt.Sprintf("/appointments?practitioner=%s&date=%s&state=scheduled,confirmed", a.PractitionerID, day)
	}

	status, latency, err := s.send(ctx, http.MethodGet, path, "", nil, nil)
	s.metrics.ListDay.Record(latency, err == nil && status == http.StatusOK, false)
}

func randomRole(rng *rand.Rand) string {
	roles := []string{"patient", "practitioner", "receptionist"}
	return roles[rng.Intn(len(roles))]
}

func (s *Simulator) send(ctx context.Context, method, path, role string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-Role", role)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by day", &s.metrics.ListDay)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
