// Package harnessconfig loads the boiler's physical Config plus the
// harness's own connection settings from a YAML file with environment
// override, using viper: env wins, falling back to a default via
// viper's AutomaticEnv/SetDefault rather than a flat getEnv helper,
// since the harness config is a nested document rather than a handful
// of flat variables.
package harnessconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/zakarynichols/steamboiler/internal/config"
)

// Harness holds everything cmd/boilerd needs beyond the boiler physics:
// where to listen for the plant-link, where to serve the status API, and
// an optional journal database URL.
type Harness struct {
	Boiler config.Config

	PlantLinkAddr string
	APIAddr       string
	DatabaseURL   string // empty disables journaling
	LogLevel      string
}

// Load reads path (if it exists) and overlays environment variables
// prefixed STEAMBOILER_, e.g. STEAMBOILER_PLANTLINKADDR.
func Load(path string) (*Harness, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("steamboiler")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("plantlinkaddr", ":7000")
	v.SetDefault("apiaddr", ":8080")
	v.SetDefault("loglevel", "info")
	v.SetDefault("boiler.pumpcount", 4)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("harnessconfig: read %s: %w", path, err)
		}
	}

	h := &Harness{
		PlantLinkAddr: v.GetString("plantlinkaddr"),
		APIAddr:       v.GetString("apiaddr"),
		DatabaseURL:   v.GetString("databaseurl"),
		LogLevel:      v.GetString("loglevel"),
	}

	boiler := config.Config{
		Capacity:     v.GetFloat64("boiler.capacity"),
		NormalMin:    v.GetFloat64("boiler.normalmin"),
		NormalMax:    v.GetFloat64("boiler.normalmax"),
		LimitMin:     v.GetFloat64("boiler.limitmin"),
		LimitMax:     v.GetFloat64("boiler.limitmax"),
		MaxSteamRate: v.GetFloat64("boiler.maxsteamrate"),
		PumpCount:    v.GetInt("boiler.pumpcount"),
	}
	caps := v.GetStringMap("boiler.pumpcapacity")
	for i := 0; i < boiler.PumpCount && i < config.MaxPumps; i++ {
		key := fmt.Sprintf("%d", i)
		if val, ok := caps[key]; ok {
			if f, ok := val.(float64); ok {
				boiler.PumpCapacity[i] = f
			}
		}
	}
	if len(caps) == 0 {
		// No pump capacities configured in YAML/env: fall back to the
		// viper slice form boiler.pumpcapacities, a plain float64 list.
		list := v.GetStringSlice("boiler.pumpcapacities")
		for i := 0; i < len(list) && i < config.MaxPumps; i++ {
			var f float64
			fmt.Sscanf(list[i], "%f", &f)
			boiler.PumpCapacity[i] = f
		}
	}
	h.Boiler = boiler

	if err := h.Boiler.Validate(); err != nil {
		return nil, fmt.Errorf("harnessconfig: %w", err)
	}
	return h, nil
}
