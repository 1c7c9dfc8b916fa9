package data

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MemoryStore serves snapshots from appointments held in memory.
type MemoryStore struct {
	byTenant map[string][]Appointment // sorted by StartsAt
	loc      *time.Location
}

// NewMemoryStore builds a store from a fixed set of appointments.
func NewMemoryStore(appointments []Appointment, loc *time.Location) *MemoryStore {
	store := &MemoryStore{
		byTenant: make(map[string][]Appointment),
		loc:      loc,
	}
	for _, a := range appointments {
		store.byTenant[a.TenantID] = append(store.byTenant[a.TenantID], a)
	}
	for _, list := range store.byTenant {
		sortByStart(list)
	}
	return store
}

// LoadMemoryStore reads every {tenantId}.jsonl file in dataDir into a store.
func LoadMemoryStore(dataDir string, loc *time.Location, logger *zap.Logger) (*MemoryStore, error) {
	all, err := ReadAppointments(dataDir, logger)
	if err != nil {
		return nil, err
	}
	return NewMemoryStore(all, loc), nil
}

// ReadAppointments walks dataDir for {tenantId}.jsonl files. Each line is one
// Appointment; its tenant defaults to the file name. Unreadable files are
// logged and skipped.
func ReadAppointments(dataDir string, logger *zap.Logger) ([]Appointment, error) {
	var all []Appointment

	err := filepath.Walk(dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}

		tenantID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		appointments, err := loadJSONL(path, tenantID)
		if err != nil {
			logger.Warn("failed to load file", zap.String("path", path), zap.Error(err))
			return nil
		}

		all = append(all, appointments...)
		logger.Info("loaded appointments",
			zap.String("tenantId", tenantID),
			zap.Int("count", len(appointments)),
		)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking data directory: %w", err)
	}

	return all, nil
}

func loadJSONL(path, tenantID string) ([]Appointment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var appointments []Appointment
	scanner := bufio.NewScanner(file)

	// Notes can make lines long
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var a Appointment
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if a.TenantID == "" {
			a.TenantID = tenantID
		}
		appointments = append(appointments, a)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return appointments, nil
}

func (m *MemoryStore) Snapshot(_ context.Context, tenantID, date string) (*Snapshot, error) {
	start, end, err := DayBounds(date, m.loc)
	if err != nil {
		return nil, err
	}

	out := make([]Appointment, 0)
	for _, a := range m.byTenant[tenantID] {
		if !a.StartsAt.Before(start) && a.StartsAt.Before(end) {
			out = append(out, a)
		}
	}

	return &Snapshot{TenantID: tenantID, Date: date, Appointments: out}, nil
}

// Tenants returns the IDs of every tenant with loaded appointments.
func (m *MemoryStore) Tenants() []string {
	ids := make([]string, 0, len(m.byTenant))
	for id := range m.byTenant {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) Close() error {
	m.byTenant = nil
	return nil
}

func sortByStart(list []Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartsAt.Before(list[j].StartsAt)
	})
}

var _ SnapshotSource = (*MemoryStore)(nil)
