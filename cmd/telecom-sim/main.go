package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/telecom-txcore/pkg/config"
	"github.com/dd0wney/telecom-txcore/pkg/deadlock"
	"github.com/dd0wney/telecom-txcore/pkg/fault"
	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
	"github.com/dd0wney/telecom-txcore/pkg/transport"
	"github.com/dd0wney/telecom-txcore/pkg/txn"
	"github.com/dd0wney/telecom-txcore/pkg/validation"
)

// network is the simulated messaging substrate in either transport mode.
// Exactly one of bus (memory mode) or responders (socket mode) is set.
type network struct {
	rpc        transport.RPC
	bus        *transport.MemoryBus
	addrs      transport.AddrFunc
	responders map[topology.NodeID]*transport.Responder
	logger     logging.Logger
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults used when empty)")
	httpPort := flag.Int("http", 0, "Metrics/health HTTP port (0 disables)")
	nodeName := flag.String("node", "Core1", "Node the coordinator runs on")
	flag.Parse()

	fmt.Printf("📡 Telecom TxCore - Transaction Coordination Simulator\n")
	fmt.Printf("======================================================\n\n")

	cfg := config.DefaultEngineConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := validation.ValidateNodeName(*nodeName); err != nil {
		fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
	self, err := topology.ParseNodeID(*nodeName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level))
	reg := metrics.NewRegistry()
	provider := topology.NewStaticProvider()

	fmt.Printf("🌐 Building five-node topology (%s transport)...\n", cfg.Transport.Mode)
	net, err := buildNetwork(cfg.Transport, provider, reg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transport: %v\n", err)
		os.Exit(1)
	}
	defer net.close()
	for _, node := range topology.AllNodes() {
		fmt.Printf("  %-6s  layer=%-5s  expected failure=%s\n",
			node, node.Layer(), node.ExpectedFailureMode())
	}

	detector := deadlock.NewDetector(deadlock.Config{Timeout: cfg.Deadlock.LockWaitTimeout}, logger, reg)

	faults, err := fault.NewManager(cfg.Fault, provider, net.rpc, logger, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fault manager: %v\n", err)
		os.Exit(1)
	}
	defer faults.Close()
	faults.Start()
	defer faults.Stop()

	coord := txn.NewCoordinator(cfg.Coordinator, self, net.rpc, detector, faults, logger, reg)
	defer coord.Close()
	coord.StartDeadlockSweep()
	defer coord.StopDeadlockSweep()

	if *httpPort > 0 {
		go serveHTTP(*httpPort, reg, faults)
		fmt.Printf("\n🔭 Observability: http://localhost:%d/metrics, /health\n", *httpPort)
	}

	fmt.Printf("\n▶️  Scenario 1: call setup across both edges and the cloud\n")
	runCallSetup(coord)

	fmt.Printf("\n▶️  Scenario 2: Edge1 stops answering mid-protocol\n")
	runFailureInjection(coord, net, faults)

	fmt.Printf("\n▶️  Scenario 3: Core1 turns Byzantine\n")
	runByzantineQuarantine(coord, faults)

	fmt.Printf("\n▶️  Scenario 4: deadlocked transactions\n")
	runDeadlock(coord, detector)

	printAssessment(faults.AssessSystemHealth())

	stats := coord.Statistics()
	fmt.Printf("\n📊 Coordinator: %d active transactions, %d locks held\n",
		stats.ActiveTransactions, stats.LocksHeld)

	if *httpPort > 0 {
		fmt.Printf("\n✅ Scenarios complete; serving until interrupted.\n")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Printf("\n👋 Shutting down...\n")
	}
}

// buildNetwork assembles the transport the config asks for: the in-memory
// latency-injecting bus, or mangos req/rep sockets over inproc endpoints.
func buildNetwork(cfg config.TransportConfig, provider topology.Provider, reg *metrics.Registry, logger logging.Logger) (*network, error) {
	if cfg.Mode == "socket" {
		addrs := transport.InprocAddrs(cfg.InprocPrefix)
		net := &network{
			addrs:      addrs,
			responders: make(map[topology.NodeID]*transport.Responder),
			logger:     logger,
		}
		for _, node := range topology.AllNodes() {
			responder, err := transport.NewResponder(node, addrs, participantHandler(node), logger)
			if err != nil {
				net.close()
				return nil, err
			}
			net.responders[node] = responder
		}
		net.rpc = transport.NewSocketRPC(addrs, logger, reg)
		return net, nil
	}

	bus := transport.NewMemoryBus(provider, reg)
	for _, node := range topology.AllNodes() {
		bus.Register(node, participantHandler(node))
	}
	return &network{rpc: bus, bus: bus, logger: logger}, nil
}

// participantHandler answers yes to every protocol message on behalf of one
// node.
func participantHandler(node topology.NodeID) transport.Handler {
	return func(msg transport.Message) (transport.Response, error) {
		return transport.Response{InReplyTo: msg.ID, From: node, OK: true}, nil
	}
}

// silence makes a node stop answering: unreachable on the memory bus, or
// responder shut down in socket mode.
func (n *network) silence(node topology.NodeID) {
	if n.bus != nil {
		n.bus.SetUnreachable(node, true)
		return
	}
	if r, ok := n.responders[node]; ok {
		r.Close()
		delete(n.responders, node)
	}
}

// restore undoes silence.
func (n *network) restore(node topology.NodeID) {
	if n.bus != nil {
		n.bus.SetUnreachable(node, false)
		return
	}
	if _, ok := n.responders[node]; ok {
		return
	}
	responder, err := transport.NewResponder(node, n.addrs, participantHandler(node), n.logger)
	if err != nil {
		n.logger.Error("failed to restore responder", logging.Node(string(node)), logging.Error(err))
		return
	}
	n.responders[node] = responder
}

func (n *network) close() {
	if sock, ok := n.rpc.(*transport.SocketRPC); ok {
		sock.Close()
	}
	for node, r := range n.responders {
		r.Close()
		delete(n.responders, node)
	}
}

func runCallSetup(coord *txn.Coordinator) {
	participants := []topology.NodeID{topology.Edge1, topology.Edge2, topology.Cloud1}

	tx := coord.BeginForService(fault.ServiceCritical)
	if err := coord.Prepare(context.Background(), tx.ID, participants); err != nil {
		fmt.Printf("  prepare failed: %v\n", err)
		return
	}
	result, err := coord.Commit(context.Background(), tx.ID)
	if err != nil {
		fmt.Printf("  commit error: %v\n", err)
		return
	}
	fmt.Printf("  %s → %s across %v\n", tx.ID, result, participants)
}

func runFailureInjection(coord *txn.Coordinator, net *network, faults *fault.Manager) {
	net.silence(topology.Edge1)
	defer net.restore(topology.Edge1)

	tx := coord.Begin()
	err := coord.Prepare(context.Background(), tx.ID, []topology.NodeID{topology.Edge1, topology.Edge2})
	fmt.Printf("  prepare with silenced Edge1: %v\n", err)

	if ft, ok := faults.FailureOf(topology.Edge1); ok {
		fmt.Printf("  fault manager recorded %s; backups: %v\n", ft, faults.BackupsFor(topology.Edge1))
	}

	// A second transaction routes around the silenced node.
	tx2 := coord.Begin()
	if err := coord.Prepare(context.Background(), tx2.ID, []topology.NodeID{topology.Edge2, topology.Cloud1}); err != nil {
		fmt.Printf("  rerouted prepare failed: %v\n", err)
		return
	}
	result, _ := coord.Commit(context.Background(), tx2.ID)
	fmt.Printf("  rerouted transaction %s → %s\n", tx2.ID, result)
}

func runByzantineQuarantine(coord *txn.Coordinator, faults *fault.Manager) {
	for _, reporter := range []topology.NodeID{topology.Edge1, topology.Edge2} {
		faults.HandleByzantineFailure(topology.Core1, fault.Evidence{
			Suspect:    topology.Core1,
			Reporter:   reporter,
			Kind:       fault.ConflictingMessages,
			Confidence: 0.95,
			Timestamp:  time.Now(),
		})
	}
	fmt.Printf("  Core1 quarantined: %v\n", faults.IsQuarantined(topology.Core1))

	strategy := faults.ReplicationStrategyFor(fault.ServiceStandard)
	fmt.Printf("  replication now %s factor=%d consistency=%s minimum=%d\n",
		strategy.Type, strategy.Factor, strategy.Consistency, strategy.MinimumNodes())

	tx := coord.Begin()
	if err := coord.Prepare(context.Background(), tx.ID, []topology.NodeID{topology.Edge2, topology.Cloud1}); err != nil {
		fmt.Printf("  prepare failed: %v\n", err)
		return
	}
	result, _ := coord.Commit(context.Background(), tx.ID)
	fmt.Printf("  transaction avoiding Core1 → %s\n", result)
}

func runDeadlock(coord *txn.Coordinator, detector *deadlock.Detector) {
	older := coord.Begin()
	time.Sleep(2 * time.Millisecond)
	younger := coord.Begin()

	_ = detector.RecordWaitFor(older.ID, younger.ID, "trunk/channel-7")
	_ = detector.RecordWaitFor(younger.ID, older.ID, "trunk/channel-9")

	deadlocked := detector.DetectDeadlocks()
	fmt.Printf("  cycle of %d transactions detected\n", len(deadlocked))

	victim := coord.HandleDeadlock(deadlocked)
	fmt.Printf("  victim (youngest dies): %s\n", victim)

	if err := coord.Prepare(context.Background(), older.ID, []topology.NodeID{topology.Cloud1}); err != nil {
		fmt.Printf("  survivor prepare failed: %v\n", err)
		return
	}
	result, _ := coord.Commit(context.Background(), older.ID)
	fmt.Printf("  survivor %s → %s\n", older.ID, result)
}

func printAssessment(assessment fault.SystemHealthAssessment) {
	fmt.Printf("\n🏥 System health: %s (reliability %.2f, cascade risk %s)\n",
		assessment.Status, assessment.Reliability, assessment.CascadeRisk)
	for _, alert := range assessment.Alerts {
		fmt.Printf("  ⚠️  %s\n", alert)
	}
}

func serveHTTP(port int, reg *metrics.Registry, faults *fault.Manager) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.PrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(faults.AssessSystemHealth())
	})
	_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
