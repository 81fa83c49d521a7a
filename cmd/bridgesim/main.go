package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// bridgesim stands in for the hardware bridge. It speaks the same
// subcommands, keeps relay state in a JSON file between invocations and
// produces plausible raw readings.
//
//	bridgesim status --json
//	bridgesim light on|off
//	bridgesim heater on|off
//	bridgesim pump on|off [--sec N]
//	bridgesim circulation on|off [--sec N]
//	bridgesim camera-snap --out PATH [--json]

var (
	statePath = flag.String("state", envOr("BRIDGESIM_STATE", filepath.Join(os.TempDir(), "bridgesim_state.json")), "Path of the simulated relay state file")
	failRate  = flag.Float64("fail-rate", 0.0, "Probability of a simulated serial failure (0.0-1.0)")
	tankLow   = flag.Bool("tank-low", false, "Report the water tank as low")
	lockout   = flag.Bool("lockout", false, "Report the heater lockout as active")
)

type simState struct {
	LightOn        bool      `json:"light_on"`
	HeaterOn       bool      `json:"heater_on"`
	PumpUntil      time.Time `json:"pump_until"`
	CirculateUntil time.Time `json:"circulate_until"`
	SoilRaw        float64   `json:"soil_raw"`
	TempC          float64   `json:"temp_c"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func defaultState() *simState {
	return &simState{
		SoilRaw:   560,
		TempC:     22.5,
		UpdatedAt: time.Now(),
	}
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bridgesim [flags] status|light|heater|pump|circulation|camera-snap ...")
		os.Exit(2)
	}

	if *failRate > 0 && rand.Float64() < *failRate {
		fmt.Fprintln(os.Stderr, "ERROR: serial read timed out")
		os.Exit(1)
	}

	state, err := loadState(*statePath)
	if err != nil {
		logger.Warn("Failed to load state, starting fresh", zap.Error(err))
		state = defaultState()
	}
	advance(state, time.Now())

	code := run(state, args, logger)

	if err := saveState(*statePath, state); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(state *simState, args []string, logger *zap.Logger) int {
	sub, rest := args[0], args[1:]
	now := time.Now()

	switch sub {
	case "status":
		fs := flag.NewFlagSet("status", flag.ContinueOnError)
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		payload := statusPayload(state, now)
		if *asJSON {
			out, _ := json.Marshal(payload)
			fmt.Println(string(out))
		} else {
			fmt.Println(payload)
		}
		return 0

	case "light", "heater":
		on, err := parseOnOff(rest)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if sub == "light" {
			state.LightOn = on
		} else {
			if on && *lockout {
				fmt.Fprintln(os.Stderr, "ERROR: heater lockout active")
				return 1
			}
			state.HeaterOn = on
		}
		logger.Debug("Relay switched", zap.String("relay", sub), zap.Bool("on", on))
		fmt.Printf("OK %s %s\n", sub, onOff(on))
		return 0

	case "pump", "circulation":
		if len(rest) == 0 {
			fmt.Fprintf(os.Stderr, "%s: missing on|off\n", sub)
			return 2
		}
		on, err := parseOnOff(rest[:1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fs := flag.NewFlagSet(sub, flag.ContinueOnError)
		sec := fs.Int("sec", 10, "run time in seconds")
		if err := fs.Parse(rest[1:]); err != nil {
			return 2
		}
		until := time.Time{}
		if on {
			until = now.Add(time.Duration(*sec) * time.Second)
		}
		if sub == "pump" {
			if on && *tankLow {
				fmt.Fprintln(os.Stderr, "ERROR: water tank low")
				return 1
			}
			state.PumpUntil = until
			if on {
				// Each second of pumping wets the soil by a few ADC codes.
				state.SoilRaw = math.Max(390, state.SoilRaw-float64(*sec)*6)
			}
		} else {
			state.CirculateUntil = until
		}
		fmt.Printf("OK %s %s %ds\n", sub, onOff(on), *sec)
		return 0

	case "camera-snap":
		fs := flag.NewFlagSet("camera-snap", flag.ContinueOnError)
		out := fs.String("out", filepath.Join(os.TempDir(), "plant_latest.jpg"), "output path")
		fs.Int("timeout-ms", 1200, "capture timeout")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		n, err := writePlaceholderJPEG(*out)
		result := map[string]any{"ok": err == nil, "path": *out, "bytes": n}
		if err != nil {
			result["stderr"] = err.Error()
		}
		if *asJSON {
			data, _ := json.Marshal(result)
			fmt.Println(string(data))
		} else {
			fmt.Println(result)
		}
		if err != nil {
			return 2
		}
		return 0
	}

	fmt.Fprintln(os.Stderr, "unknown subcommand")
	return 2
}

// advance drifts the simulated environment by the time since the last call.
func advance(s *simState, now time.Time) {
	elapsed := now.Sub(s.UpdatedAt).Hours()
	if elapsed < 0 {
		elapsed = 0
	}
	s.SoilRaw = math.Min(822, s.SoilRaw+elapsed*8)
	if s.HeaterOn {
		s.TempC = math.Min(32, s.TempC+elapsed*1.5)
	} else {
		s.TempC = math.Max(16, s.TempC-elapsed*0.5)
	}
	s.UpdatedAt = now
}

// statusPayload uses the raw field names of the real firmware.
func statusPayload(s *simState, now time.Time) map[string]any {
	pumpRem := remaining(s.PumpUntil, now)
	circRem := remaining(s.CirculateUntil, now)
	lightRaw := 40 + rand.Float64()*20
	if s.LightOn {
		lightRaw = 700 + rand.Float64()*100
	}
	return map[string]any{
		"co2_ppm":                   math.Round(550 + rand.Float64()*150),
		"temp_c":                    round2(s.TempC + rand.Float64()*0.4 - 0.2),
		"humidity_pct":              round2(55 + rand.Float64()*10),
		"light_raw":                 math.Round(lightRaw),
		"soil_raw":                  math.Round(s.SoilRaw + rand.Float64()*6 - 3),
		"water_tank_ok":             !*tankLow,
		"light_on":                  s.LightOn,
		"heater_on":                 s.HeaterOn,
		"heater_lockout":            *lockout,
		"water_pump_on":             pumpRem > 0,
		"circulation_on":            circRem > 0,
		"water_pump_remaining_sec":  pumpRem,
		"circulation_remaining_sec": circRem,
		"source":                    "bridgesim",
	}
}

func remaining(until, now time.Time) int {
	if until.IsZero() || !until.After(now) {
		return 0
	}
	return int(math.Ceil(until.Sub(now).Seconds()))
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errors.New("expected exactly one of on|off")
	}
	switch args[0] {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid state %q, expected on|off", args[0])
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// writePlaceholderJPEG writes a minimal JPEG (start and end markers only).
func writePlaceholderJPEG(path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	data := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xFF, 0xD9}
	return len(data), os.WriteFile(path, data, 0o644)
}

func loadState(path string) (*simState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultState(), nil
		}
		return nil, err
	}
	s := defaultState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func saveState(path string, s *simState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
