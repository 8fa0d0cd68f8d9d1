package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jordigilh/kubernaut-sub006/internal/audit"
	"github.com/jordigilh/kubernaut-sub006/internal/classify"
	"github.com/jordigilh/kubernaut-sub006/internal/config"
	"github.com/jordigilh/kubernaut-sub006/internal/controller"
	"github.com/jordigilh/kubernaut-sub006/internal/detect"
	"github.com/jordigilh/kubernaut-sub006/internal/enrich"
	"github.com/jordigilh/kubernaut-sub006/internal/lifecycle"
	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/jordigilh/kubernaut-sub006/internal/metrics"
	"github.com/jordigilh/kubernaut-sub006/internal/orchestrator"
	"github.com/jordigilh/kubernaut-sub006/internal/ownerchain"
	"github.com/jordigilh/kubernaut-sub006/internal/policy"
	"github.com/jordigilh/kubernaut-sub006/internal/store"
	"github.com/jordigilh/kubernaut-sub006/internal/topology"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	configPath  string
	kubeconfig  string
	metricsAddr string
	workers     int
	policyPath  string
	matrixPath  string
	auditPath   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the signal processor",
	Long: `Run the signal processor controller: scan SignalProcessing objects,
enrich each signal with topology context and drive it through the
classification pipeline to a terminal phase.`,
	Run: runProcessor,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	runCmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig file (empty: in-cluster)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for the Prometheus endpoint")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent reconcile workers")
	runCmd.Flags().StringVar(&policyPath, "policy", "", "Path to the customer Rego policy file")
	runCmd.Flags().StringVar(&matrixPath, "fallback-matrix", "", "Path to a YAML severity-to-priority matrix override")
	runCmd.Flags().StringVar(&auditPath, "audit-log", "", "Path to the JSONL audit log. Empty disables auditing.")
}

func runProcessor(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	HandleError(err, "Configuration error")
	applyFlagOverrides(cfg)
	HandleError(cfg.Validate(), "Configuration error")

	HandleError(setupLog(logLevelFlags), "Failed to setup logging")
	logger := logging.GetLogger("signalprocessor")
	logger.Info("Starting signalprocessor v%s", Version)

	restConfig, err := buildRESTConfig(cfg.Kubeconfig)
	HandleError(err, "Kubernetes client configuration error")
	clientset, err := kubernetes.NewForConfig(restConfig)
	HandleError(err, "Kubernetes clientset error")
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	HandleError(err, "Kubernetes dynamic client error")

	registry := prometheus.NewRegistry()
	processorMetrics := metrics.New(registry)

	// Audit sink: nop unless a path is configured.
	var auditEmitter audit.Emitter = audit.NopEmitter{}
	var fileEmitter *audit.FileEmitter
	if cfg.AuditLogPath != "" {
		fileEmitter, err = audit.NewFileEmitter(audit.Config{
			Path:           cfg.AuditLogPath,
			DroppedCounter: processorMetrics.AuditDropped,
		})
		HandleError(err, "Audit log initialization error")
		auditEmitter = fileEmitter
		logger.Info("Audit logging enabled: %s", cfg.AuditLogPath)
	}

	// Policy engine: an empty path loads the built-in default module, so
	// classification falls through to patterns and the fallback matrix.
	engine, err := policy.New(policy.Config{
		Path:              cfg.PolicyPath,
		EvaluationTimeout: cfg.PolicyEvaluationTimeout,
		Metrics:           processorMetrics,
	})
	HandleError(err, "Policy engine initialization error")

	matrix := classify.DefaultFallbackMatrix()
	if cfg.FallbackMatrixPath != "" {
		matrix, err = classify.LoadFallbackMatrix(cfg.FallbackMatrixPath)
		HandleError(err, "Fallback matrix error")
		logger.Info("Loaded fallback matrix override from %s", cfg.FallbackMatrixPath)
	}

	topoClient := topology.New(clientset, dynamicClient, topology.Config{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	})
	enricher := enrich.New(topoClient, enrich.Config{Timeout: cfg.EnrichmentTimeout})
	chains := ownerchain.New(dynamicClient)
	detector := detect.New(topoClient, processorMetrics)
	classifier := classify.New(engine, matrix, processorMetrics)
	st := store.NewKubeStore(dynamicClient)

	orch := orchestrator.New(st, enricher, chains, detector, classifier,
		auditEmitter, processorMetrics, orchestrator.Config{AttemptTimeout: cfg.AttemptTimeout})

	ctrl := controller.New(st, orch, controller.Config{
		Workers:        cfg.Workers,
		ResyncInterval: cfg.ResyncInterval,
		MaxRetries:     cfg.MaxRetries,
	})

	manager := lifecycle.NewManager()
	metricsServer := metrics.NewServer(cfg.MetricsAddr, registry)
	HandleError(manager.Register(metricsServer), "Component registration error")
	HandleError(manager.Register(ctrl, metricsServer), "Component registration error")

	if cfg.PolicyPath != "" {
		watcher, err := policy.NewWatcher(policy.WatcherConfig{
			FilePath: cfg.PolicyPath,
			Metrics:  processorMetrics,
		}, engine)
		HandleError(err, "Policy watcher initialization error")
		HandleError(manager.Register(watcher), "Component registration error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	HandleError(manager.Start(ctx), "Startup error")
	logger.Info("Signal processor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}

	if fileEmitter != nil {
		if err := fileEmitter.Close(); err != nil {
			logger.Error("Failed to close audit log: %v", err)
		}
	}

	logger.Info("Shutdown complete")
}

// applyFlagOverrides lays explicitly set flags over the file configuration.
func applyFlagOverrides(cfg *config.Config) {
	if kubeconfig != "" {
		cfg.Kubeconfig = kubeconfig
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if policyPath != "" {
		cfg.PolicyPath = policyPath
	}
	if matrixPath != "" {
		cfg.FallbackMatrixPath = matrixPath
	}
	if auditPath != "" {
		cfg.AuditLogPath = auditPath
	}
}

func buildRESTConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	return rest.InClusterConfig()
}
