// Package config holds the immutable boiler parameters the controller is
// built from. Nothing in this package touches the filesystem or environment;
// loading from YAML/env lives in the harness (internal/harnessconfig, used
// by cmd/boilerd) via viper.
package config

import "fmt"

const MaxPumps = 6

// Config is a snapshot of the physical boiler parameters for one run. It is
// immutable once constructed: the controller never mutates it.
type Config struct {
	Capacity         float64    // C, litres
	NormalMin        float64    // N1
	NormalMax        float64    // N2
	LimitMin         float64    // M1
	LimitMax         float64    // M2
	MaxSteamRate     float64    // W, litres/s
	PumpCount        int        // P
	PumpCapacity     [MaxPumps]float64 // p_i, litres/s, index [0,PumpCount)
}

// Validate checks the invariants required by spec.md §3: M1<N1<N2<M2<C,
// 1<=P<=6, p_i>0 for every active pump.
func (c Config) Validate() error {
	if !(c.LimitMin < c.NormalMin && c.NormalMin < c.NormalMax && c.NormalMax < c.LimitMax && c.LimitMax < c.Capacity) {
		return fmt.Errorf("config: limit/normal bands out of order: M1=%v N1=%v N2=%v M2=%v C=%v",
			c.LimitMin, c.NormalMin, c.NormalMax, c.LimitMax, c.Capacity)
	}
	if c.PumpCount < 1 || c.PumpCount > MaxPumps {
		return fmt.Errorf("config: pump count %d out of range [1,%d]", c.PumpCount, MaxPumps)
	}
	for i := 0; i < c.PumpCount; i++ {
		if c.PumpCapacity[i] <= 0 {
			return fmt.Errorf("config: pump %d capacity must be positive, got %v", i, c.PumpCapacity[i])
		}
	}
	if c.MaxSteamRate <= 0 {
		return fmt.Errorf("config: max steam rate must be positive, got %v", c.MaxSteamRate)
	}
	return nil
}

// NormalMidpoint is H = N1 + (N2-N1)/2, the target the pump-selection
// algorithm steers toward.
func (c Config) NormalMidpoint() float64 {
	return c.NormalMin + (c.NormalMax-c.NormalMin)/2
}
