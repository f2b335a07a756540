package engine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

const (
	// LadderLength is the fixed number of rungs per account.
	LadderLength = 6
	// EngineVersion is stamped into run manifests.
	EngineVersion = "1.2.0"
	// DefaultTimezone is where day boundaries are computed.
	DefaultTimezone = "Asia/Seoul"
)

// Config holds the simulation parameters.
type Config struct {
	Ladder         []RungSpec
	InitialCapital decimal.Decimal
	FeeRate        decimal.Decimal
	MaxAccounts    int
	HorizonDays    int
	// AnchorOffset is the anchor time of day, measured from local midnight.
	AnchorOffset time.Duration
	Location     *time.Location
}

// DefaultLadder alternates long and short with roughly doubling size.
func DefaultLadder() []RungSpec {
	sizes := []int64{669, 1344, 1347, 2705, 2712, 5446}
	ladder := make([]RungSpec, 0, len(sizes))
	for i, size := range sizes {
		rung := RungSpec{
			Direction:     Long,
			NotionalSize:  decimal.NewFromInt(size),
			TakeProfitPct: decimal.RequireFromString("0.16"),
			StopLossPct:   decimal.RequireFromString("0.04"),
		}
		if i%2 == 1 {
			rung.Direction = Short
			rung.TakeProfitPct = decimal.RequireFromString("0.12")
		}
		ladder = append(ladder, rung)
	}
	return ladder
}

func DefaultConfig() Config {
	return Config{
		Ladder:         DefaultLadder(),
		InitialCapital: decimal.NewFromInt(100_000),
		FeeRate:        decimal.RequireFromString("0.0002"),
		MaxAccounts:    30,
		HorizonDays:    30,
		AnchorOffset:   0,
		Location:       LoadLocation(DefaultTimezone),
	}
}

// LoadLocation resolves an IANA zone name, falling back to UTC for "" and
// to a fixed +09:00 zone for Asia/Seoul if the database lookup fails.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimezone {
			return time.FixedZone("KST", 9*60*60)
		}
		return time.UTC
	}
	return loc
}

// ParseAnchor parses an HH:MM time of day.
func ParseAnchor(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("anchor time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Validate reports every problem found, wrapped in ErrConfigInvalid.
func (c Config) Validate() error {
	var problems []string
	if len(c.Ladder) != LadderLength {
		problems = append(problems, fmt.Sprintf("ladder must have %d rungs, got %d", LadderLength, len(c.Ladder)))
	}
	for i, r := range c.Ladder {
		if r.Direction != Long && r.Direction != Short {
			problems = append(problems, fmt.Sprintf("rung %d: unknown direction", i+1))
		}
		if !r.NotionalSize.IsPositive() {
			problems = append(problems, fmt.Sprintf("rung %d: notional size must be positive", i+1))
		}
		if !r.TakeProfitPct.IsPositive() {
			problems = append(problems, fmt.Sprintf("rung %d: take profit must be positive", i+1))
		}
		if !r.StopLossPct.IsPositive() {
			problems = append(problems, fmt.Sprintf("rung %d: stop loss must be positive", i+1))
		}
		if r.Direction == Long && r.StopLossPct.GreaterThanOrEqual(one) {
			problems = append(problems, fmt.Sprintf("rung %d: long stop loss must be below 1", i+1))
		}
		if r.Direction == Short && r.TakeProfitPct.GreaterThanOrEqual(one) {
			problems = append(problems, fmt.Sprintf("rung %d: short take profit must be below 1", i+1))
		}
	}
	if !c.InitialCapital.IsPositive() {
		problems = append(problems, "initial capital must be positive")
	}
	if c.FeeRate.IsNegative() {
		problems = append(problems, "fee rate must not be negative")
	}
	if c.MaxAccounts < 0 {
		problems = append(problems, "max accounts must not be negative")
	}
	if c.HorizonDays < 0 {
		problems = append(problems, "horizon days must not be negative")
	}
	if c.AnchorOffset < 0 || c.AnchorOffset >= 24*time.Hour {
		problems = append(problems, "anchor time must fall within the day")
	}
	if c.Location == nil {
		problems = append(problems, "location is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ConfigSnapshot pins the effective parameters of a run.
type ConfigSnapshot struct {
	Version    string            `json:"version"`
	ConfigHash string            `json:"config_hash"`
	Timestamp  uint64            `json:"timestamp"`
	Values     map[string]string `json:"values"`
}

// Values flattens the config into stable string pairs.
func (c Config) Values() map[string]string {
	values := map[string]string{
		"initial_capital": c.InitialCapital.String(),
		"fee_rate":        c.FeeRate.String(),
		"max_accounts":    fmt.Sprint(c.MaxAccounts),
		"horizon_days":    fmt.Sprint(c.HorizonDays),
		"anchor_offset":   c.AnchorOffset.String(),
	}
	if c.Location != nil {
		values["location"] = c.Location.String()
	}
	for i, r := range c.Ladder {
		values[fmt.Sprintf("rung_%d", i+1)] = fmt.Sprintf("%s/%s/%s/%s",
			r.Direction, r.NotionalSize, r.TakeProfitPct, r.StopLossPct)
	}
	return values
}

// Snapshot hashes the config values. encoding/json sorts map keys, so equal
// configs hash equally.
func (c Config) Snapshot() *ConfigSnapshot {
	values := c.Values()
	configBytes, _ := json.Marshal(values)
	return &ConfigSnapshot{
		Version:    EngineVersion,
		ConfigHash: fmt.Sprintf("%x", sha256.Sum256(configBytes)),
		Timestamp:  uint64(time.Now().UnixMilli()),
		Values:     values,
	}
}

// RunManifest records enough to reproduce a run.
type RunManifest struct {
	JobID          string          `json:"job_id"`
	Symbol         string          `json:"symbol"`
	ConfigSnapshot *ConfigSnapshot `json:"config_snapshot"`
	DataChecksum   string          `json:"data_checksum"`
	Bars           int             `json:"bars"`
	EngineVersion  string          `json:"engine_version"`
	CreatedAt      uint64          `json:"created_at"`
}

func NewRunManifest(jobID, symbol string, cfg Config, series *Series) *RunManifest {
	return &RunManifest{
		JobID:          jobID,
		Symbol:         symbol,
		ConfigSnapshot: cfg.Snapshot(),
		DataChecksum:   Checksum(series.Bars()),
		Bars:           series.Len(),
		EngineVersion:  EngineVersion,
		CreatedAt:      uint64(time.Now().UnixMilli()),
	}
}
