// Command simulator runs a fleet of fake drones against an MQTT broker so
// the dispatcher can be exercised without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

func main() {
	var (
		broker    = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		count     = flag.Int("count", 3, "number of simulated drones")
		family    = flag.String("family", "dji", "hardware family to emulate (dji or mavlink)")
		prefix    = flag.String("prefix", "drone", "device ID prefix")
		interval  = flag.Duration("interval", 2*time.Second, "telemetry publish interval")
		ackDelay  = flag.Duration("ack-delay", 100*time.Millisecond, "delay before acknowledging commands")
		dropRate  = flag.Float64("drop-rate", 0, "probability of dropping an acknowledgment")
		homeLat   = flag.Float64("home-lat", 48.8566, "home latitude of the fleet")
		homeLon   = flag.Float64("home-lon", 2.3522, "home longitude of the fleet")
		drainRate = flag.Float64("drain", 0.2, "battery percent drained per second while armed")
	)
	flag.Parse()

	if *family != "dji" && *family != "mavlink" {
		log.Fatalf("unknown family %q", *family)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ack AckStrategy = AutoAck{Delay: *ackDelay}
	if *dropRate > 0 {
		ack = RandomAck{Delay: *ackDelay, DropRate: *dropRate}
	}

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		d := NewSimulatedDrone(DroneConfig{
			ID:     fmt.Sprintf("%s-%03d", *prefix, i+1),
			Family: *family,
			// spread the fleet a few hundred meters apart
			HomeLat:           *homeLat + float64(i)*0.003,
			HomeLon:           *homeLon,
			CruiseSpeed:       12,
			DrainPerSecond:    *drainRate,
			TelemetryInterval: *interval,
			Ack:               ack,
		})
		if err := d.Connect(*broker); err != nil {
			log.Fatalf("connect drone %d: %v", i+1, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(ctx)
		}()
	}

	log.Printf("simulating %d %s drone(s) against %s", *count, *family, *broker)
	<-ctx.Done()
	wg.Wait()
	log.Println("simulator stopped")
}
