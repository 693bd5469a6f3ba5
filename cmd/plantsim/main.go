// Command plantsim is a standalone plant stand-in: it dials the
// plant-link transport and drives one boiler's physics, optionally
// injecting a failure partway through the run.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/zakarynichols/steamboiler/internal/config"
	"github.com/zakarynichols/steamboiler/internal/plantsim"
)

func main() {
	addr := getEnv("PLANT_LINK_ADDR", "localhost:7000")
	failAfter := getEnvInt("FAIL_AFTER_CYCLES", 0)
	failMode := getEnv("FAIL_MODE", "none")
	failUnit := getEnvInt("FAIL_UNIT", 0)

	cfg := config.Config{
		Capacity:     1000,
		NormalMin:    400,
		NormalMax:    600,
		LimitMin:     100,
		LimitMax:     900,
		MaxSteamRate: 10,
		PumpCount:    4,
	}
	for i := 0; i < cfg.PumpCount; i++ {
		cfg.PumpCapacity[i] = 4
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("plantsim: failed to dial plant-link at %s: %v", addr, err)
	}
	defer conn.Close()

	seed := seedFromEnv()
	log.Printf("plantsim: using seed %d, connected to %s", seed, addr)

	sim := plantsim.New(cfg, conn, seed)

	if failAfter > 0 {
		go func() {
			time.Sleep(time.Duration(failAfter) * 5 * time.Second)
			mode := failureModeFromString(failMode)
			if mode != plantsim.FailureNone {
				log.Printf("plantsim: injecting %s on unit %d", failMode, failUnit)
				sim.InjectFailure(mode, failUnit)
			}
		}()
	}

	stop := make(chan struct{})
	sim.Run(5*time.Second, stop)
}

func failureModeFromString(s string) plantsim.FailureMode {
	switch s {
	case "water_stuck":
		return plantsim.FailureWaterStuck
	case "steam_drop":
		return plantsim.FailureSteamDrop
	case "pump_stuck_open":
		return plantsim.FailurePumpStuckOpen
	case "pump_stuck_closed":
		return plantsim.FailurePumpStuckClosed
	default:
		return plantsim.FailureNone
	}
}

func seedFromEnv() int64 {
	if v := os.Getenv("SIM_SEED"); v != "" {
		var seed int64
		if _, err := fmt.Sscanf(v, "%d", &seed); err == nil {
			return seed
		}
	}
	return 1
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
