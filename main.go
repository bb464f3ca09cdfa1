package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	exitFatal   = 1
	exitBlocked = 2
)

var (
	cfg      *Config
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "cfscan [url...]",
	Short: "Detect Cloudflare challenge pages",
	Long: `Fetch each URL with a browser-fingerprinted TLS client and report whether
Cloudflare served a firewall block, a captcha or javascript challenge, or the
real page. One JSON object is printed per URL.

Examples:
  cfscan https://example.com
  cfscan --input urls.txt --proxies proxies.txt --workers 20 --rate 5`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		c, err := LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyFlags(cmd, c)
		cfg = c
		return nil
	},
	RunE: runScan,
}

func init() {
	f := rootCmd.Flags()
	f.String("input", "", "file with one URL per line (- for stdin)")
	f.String("proxies", "", "proxy list file (overrides CFSCAN_PROXY_FILE)")
	f.Int("workers", 0, "concurrent workers (overrides CFSCAN_WORKERS)")
	f.Float64("rate", -1, "max requests per second across workers, 0 = unlimited")
	f.String("signatures", "", "YAML file overriding challenge signatures")
	f.String("profile", "", "browser profile (chrome131, chrome124)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-file", "", "also write JSON logs to this file")
}

func applyFlags(cmd *cobra.Command, c *Config) {
	f := cmd.Flags()
	if v, _ := f.GetString("proxies"); v != "" {
		c.ProxyFile = v
	}
	if v, _ := f.GetInt("workers"); v > 0 {
		c.Workers = v
	}
	if v, _ := f.GetFloat64("rate"); v >= 0 {
		c.Rate = v
	}
	if v, _ := f.GetString("signatures"); v != "" {
		c.SignaturesFile = v
	}
	if v, _ := f.GetString("profile"); v != "" {
		c.Profile = v
	}
	if v, _ := f.GetString("log-level"); v != "" {
		c.LogLevel = v
	}
	if v, _ := f.GetString("log-file"); v != "" {
		c.LogFile = v
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFatal)
	}
	os.Exit(exitCode)
}

func runScan(cmd *cobra.Command, args []string) error {
	zl, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := &zapLogger{sugar: zl.Sugar()}

	input, _ := cmd.Flags().GetString("input")
	urls, err := collectURLs(args, input, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given")
	}

	opts, err := loadResources(cfg, zl)
	if err != nil {
		return err
	}

	scanner, err := NewScanner(opts, logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode = run(ctx, scanner, urls, cmd.OutOrStdout(), zl)
	return nil
}

func loadResources(c *Config, zl *zap.Logger) (ScannerOptions, error) {
	proxyManager, err := NewProxyManager(c.ProxyFile)
	if err != nil {
		return ScannerOptions{}, err
	}
	if proxyManager.Count() > 0 {
		zl.Info("loaded proxies", zap.Int("count", proxyManager.Count()))
	} else {
		zl.Info("no proxies configured, connecting directly")
	}

	sigs := DefaultSignatures()
	if c.SignaturesFile != "" {
		sigs, err = LoadSignatures(c.SignaturesFile)
		if err != nil {
			return ScannerOptions{}, err
		}
		zl.Info("loaded signatures", zap.String("file", c.SignaturesFile))
	}

	profile, err := LookupProfile(c.Profile)
	if err != nil {
		return ScannerOptions{}, err
	}

	var limiter *rate.Limiter
	if c.Rate > 0 {
		burst := max(1, int(c.Rate))
		limiter = rate.NewLimiter(rate.Limit(c.Rate), burst)
	}

	return ScannerOptions{
		Workers:      c.Workers,
		ProxyManager: proxyManager,
		Signatures:   sigs,
		Profile:      profile,
		Limiter:      limiter,
		StaggerDelay: c.StaggerDelay,
	}, nil
}

// collectURLs merges positional arguments with URLs read from input.
func collectURLs(args []string, input string, stdin io.Reader) ([]string, error) {
	urls := append([]string(nil), args...)
	if input == "" {
		return urls, nil
	}

	var r io.Reader = stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return urls, nil
}

func run(ctx context.Context, scanner *Scanner, urls []string, out io.Writer, zl *zap.Logger) int {
	zl.Info("starting scan", zap.Int("workers", scanner.WorkerCount()), zap.Int("urls", len(urls)))

	scanner.Start(ctx)

	go func() {
		defer scanner.Close()
		for _, u := range urls {
			if !scanner.Submit(u) {
				return
			}
		}
	}()

	enc := json.NewEncoder(out)
	counts := make(map[Category]int)
	failed := 0
	for result := range scanner.Results() {
		if result.Fatal {
			continue
		}
		if result.Error != "" {
			failed++
		} else {
			counts[result.Category]++
		}
		if err := enc.Encode(result); err != nil {
			zl.Error("failed to write result", zap.Error(err))
		}
	}

	if err := scanner.Err(); err != nil {
		zl.Error("scan aborted", zap.Error(err))
		return exitFatal
	}

	zl.Info("scan complete",
		zap.Int("clean", counts[CategoryNone]),
		zap.Int("detected", counts[CategoryDetected]),
		zap.Int("unsupported", counts[CategoryUnsupported]),
		zap.Int("blocked", counts[CategoryHardBlock]),
		zap.Int("failed", failed),
	)

	if counts[CategoryHardBlock]+counts[CategoryUnsupported] > 0 {
		return exitBlocked
	}
	return 0
}
