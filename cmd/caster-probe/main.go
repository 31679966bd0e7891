// ABOUTME: Probe tool for configured streaming servers and running casters
// ABOUTME: Logs in to each server output and closes again, or browses mDNS for casters
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/internal/app"
	"github.com/Sendspin/sendspin-caster/internal/config"
	"github.com/Sendspin/sendspin-caster/internal/discovery"
	"github.com/Sendspin/sendspin-caster/pkg/audio/encode"
	"github.com/Sendspin/sendspin-caster/pkg/sink"
	"github.com/Sendspin/sendspin-caster/pkg/streamerr"
)

var (
	configPath = flag.String("config", "", "Config file (default: standard search path)")
	only       = flag.String("output", "", "Probe only this output")
	timeout    = flag.Duration("timeout", 5*time.Second, "Handshake timeout")
	browse     = flag.Bool("browse", false, "Browse the LAN for running casters instead")
	browseSecs = flag.Int("browse-secs", 3, "Seconds to browse")
	verbose    = flag.Bool("verbose", false, "Debug logging")
)

func main() {
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *browse {
		browseCasters()
		return
	}

	fmt.Println("=== Caster Server Probe ===")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	failed := 0
	probed := 0
	for _, o := range cfg.Outputs {
		if !o.IsServer() || (*only != "" && o.Name != *only) {
			continue
		}
		probed++
		if err := probe(cfg, o); err != nil {
			failed++
			fmt.Printf("FAIL  %-12s %s: %v (%s error)\n", o.Name, app.Target(o), err, streamerr.Kind(err))
			continue
		}
		fmt.Printf("OK    %-12s %s\n", o.Name, app.Target(o))
	}

	if probed == 0 {
		fmt.Println("No server outputs to probe")
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// probe performs the login handshake of one output without streaming audio
func probe(cfg *config.Config, o config.Output) error {
	enc, err := app.EncoderConfig(o, app.InputFormat(cfg.Input))
	if err != nil {
		return err
	}
	contentType, err := encode.ContentType(enc)
	if err != nil {
		return err
	}
	protocol, err := sink.ParseProtocol(o.ServerType)
	if err != nil {
		return err
	}

	opts := []sink.ServerOption{sink.WithHandshakeTimeout(*timeout)}
	if o.Put {
		opts = append(opts, sink.WithPut())
	}
	s := sink.Dial(protocol, app.ServerInfo(o, enc, contentType), opts...)

	start := time.Now()
	if err := s.Open(); err != nil {
		return err
	}
	log.Debugf("%s: handshake took %v", o.Name, time.Since(start))
	return s.Close()
}

func browseCasters() {
	fmt.Printf("Browsing for %s for %ds...\n", discovery.ServiceType, *browseSecs)

	m := discovery.NewManager(discovery.Config{})
	defer m.Stop()

	if err := m.Browse(*browseSecs); err != nil {
		log.Fatalf("Browse failed: %v", err)
	}

	// Browse has returned; collect what was forwarded
	found := 0
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case c := <-m.Casters():
			found++
			fmt.Printf("%-24s http://%s/status %v\n", c.Name, c.Addr(), c.TXT)
		case <-deadline:
			if found == 0 {
				fmt.Println("No casters found")
			}
			return
		}
	}
}
