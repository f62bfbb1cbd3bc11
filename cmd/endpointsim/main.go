// Command endpointsim runs a small in-process demo of the endpoint
// transport layer: two nodes exchanging write-request traffic over a
// loopback fabric, with Prometheus metrics exposed over HTTP, wired the way
// the teacher's daemon wires its cobra command and supervised goroutine
// group.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/booksim-go/endpoint/internal/demo"
	"github.com/booksim-go/endpoint/pkg/config"
	"github.com/booksim-go/endpoint/pkg/endpoint"
	"github.com/booksim-go/endpoint/pkg/endpoint/congestion"
	"github.com/booksim-go/endpoint/pkg/metrics"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logger))

	if err := Command().ExecuteContext(ctx); err != nil {
		dlog.Error(ctx, err)
		os.Exit(1)
	}
}

// Command builds the root cobra command, binding the endpoint configuration
// flags and an address for the metrics HTTP listener. Environment-derived
// defaults are loaded first so flags only need to override what differs.
func Command() *cobra.Command {
	cfg, err := config.Load(context.Background())
	if err != nil {
		cfg = &config.Config{}
	}
	var (
		metricsAddr string
		cycles      int
		rate        float64
	)

	cmd := &cobra.Command{
		Use:   "endpointsim",
		Short: "Run a reliable-transport endpoint simulation demo",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, metricsAddr, cycles, rate)
		},
	}

	fs := cmd.Flags()
	cfg.BindFlags(fs)
	fs.StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	fs.IntVar(&cycles, "cycles", 100000, "number of simulated cycles to run")
	fs.Float64Var(&rate, "injection-rate", 0.1, "per-cycle write-request injection probability for the demo traffic source")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, metricsAddr string, cycles int, rate float64) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  2 * time.Second,
		EnableSignalHandling: true,
		ShutdownOnNonError:   true,
	})

	collector := metrics.NewCollector("endpointsim")
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	fab := demo.NewLoopbackFabric(2, 1)
	sc := &endpoint.SimulationContext{Manager: &demo.Manager{}}

	policy := congestion.New(cfg)

	ep0 := endpoint.New(0, 0, sc, cfg, fab,
		demo.NewUniformInjector(rate, 1),
		demo.PeerPattern{Peer: 1},
		demo.FixedSizeFactory{Size: cfg.ReadRequestSize},
		policy,
	)
	ep1 := endpoint.New(1, 0, sc, cfg, fab,
		demo.NewUniformInjector(0, 2), // node 1 is a passive sink in the demo
		demo.PeerPattern{Peer: 0},
		demo.FixedSizeFactory{Size: cfg.ReadRequestSize},
		congestion.New(cfg),
	)
	collector.Register(0, ep0)
	collector.Register(1, ep1)

	g.Go("metrics", func(c context.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		dlog.Infof(c, "serving metrics on %s/metrics", metricsAddr)

		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		select {
		case <-c.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errc:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	g.Go("simulation", func(c context.Context) error {
		for cyc := 0; cyc < cycles; cyc++ {
			select {
			case <-c.Done():
				return nil
			default:
			}
			sc.Now = endpoint.Cycle(cyc)

			eg, egCtx := errgroup.WithContext(c)
			eg.Go(func() error { return ep0.Step(egCtx) })
			eg.Go(func() error { return ep1.Step(egCtx) })
			if err := eg.Wait(); err != nil {
				return err
			}
		}
		dlog.Infof(c, "completed %d cycles: node0 sent=%d retired=%d, node1 sent=%d retired=%d",
			cycles, ep0.Stats().PacketsSent, ep0.Stats().PacketsRetired, ep1.Stats().PacketsSent, ep1.Stats().PacketsRetired)
		return nil
	})

	return g.Wait()
}
