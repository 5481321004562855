// Package main provides the shop assistant CLI entrypoint.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cwf-platform/shop-assistant/internal/assistant"
	"github.com/cwf-platform/shop-assistant/internal/catalog"
	"github.com/cwf-platform/shop-assistant/internal/compose"
	"github.com/cwf-platform/shop-assistant/internal/config"
	"github.com/cwf-platform/shop-assistant/internal/conversation"
	"github.com/cwf-platform/shop-assistant/internal/embedding"
	"github.com/cwf-platform/shop-assistant/internal/intent"
	"github.com/cwf-platform/shop-assistant/internal/llm"
	"github.com/cwf-platform/shop-assistant/internal/observability"
	"github.com/cwf-platform/shop-assistant/internal/retrieval"
	"github.com/cwf-platform/shop-assistant/internal/retry"
)

var (
	// Global flags
	cfgFile    string
	outputJSON bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "assistant-cli",
	Short: "Shop assistant CLI for conversational catalog search",
	Long: `Shop assistant CLI runs the search pipeline from a terminal.

Use this tool to:
- Chat with the assistant against a local or remote catalog
- Seed a local SQLite catalog with demo products
- Inspect per-turn filters, exclusions, and stage timings`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      logFormat,
			ServiceName: "assistant-cli",
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newChatCmd creates the interactive chat subcommand.
func newChatCmd() *cobra.Command {
	var (
		tenant    string
		mockLLM   bool
		showTrace bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive search conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, cleanup, err := buildPipeline(mockLLM)
			if err != nil {
				return err
			}
			defer cleanup()

			bold := color.New(color.Bold)
			cyan := color.New(color.FgCyan)
			faint := color.New(color.Faint)

			bold.Println("Shop assistant. Type a message, or \"exit\" to quit.")

			var window conversation.Window
			scanner := bufio.NewScanner(os.Stdin)

			for {
				cyan.Print("you> ")
				if !scanner.Scan() {
					break
				}
				message := strings.TrimSpace(scanner.Text())
				if message == "" {
					continue
				}
				if message == "exit" || message == "quit" {
					break
				}

				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " searching..."
				s.Writer = os.Stderr
				s.Start()

				result, err := pipeline.Execute(context.Background(), message, tenant, window)
				s.Stop()

				if err != nil {
					color.Red("error: %v", err)
					continue
				}
				window = result.Window

				if outputJSON {
					printTurnJSON(result)
					continue
				}

				bold.Printf("assistant> %s\n", result.Text)
				for i, p := range result.Products {
					fmt.Printf("  %d. %s  %.2f  (%s)\n", i+1, p.Name, p.Price, p.StatusLabel)
				}
				if showTrace {
					for _, st := range result.Stages {
						faint.Printf("  [%s] %s\n", st.Stage, st.Elapsed)
					}
					faint.Printf("  trace: %s  elapsed: %dms\n", result.TraceID, result.Elapsed.Milliseconds())
				}
			}

			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "demo", "tenant identifier")
	cmd.Flags().BoolVar(&mockLLM, "mock", false, "use deterministic mock LLM and embedding services")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "print stage timings after each turn")
	return cmd
}

func printTurnJSON(result assistant.Result) {
	out := map[string]interface{}{
		"text":      result.Text,
		"products":  result.Products,
		"traceId":   result.TraceID,
		"elapsedMs": result.Elapsed.Milliseconds(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

// newSeedCmd creates the seed subcommand for local SQLite catalogs.
func newSeedCmd() *cobra.Command {
	var (
		tenant string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a local SQLite catalog with demo products",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Database.Driver != "sqlite" {
				return fmt.Errorf("seed only supports the sqlite driver, got %s", cfg.Database.Driver)
			}

			store, err := catalog.NewSQLiteStore(catalog.SQLiteConfig{
				Path:         cfg.Database.SQLite.Path,
				MaxOpenConns: cfg.Database.SQLite.MaxOpenConns,
			})
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer store.Close()

			entries, err := loadSeedEntries(file, tenant)
			if err != nil {
				return err
			}

			// Demo embeddings are deterministic so repeated seeds rank the
			// same way.
			embedder := embedding.NewMockClient(cfg.Embedding.Dimension)
			ctx := context.Background()
			for i := range entries {
				vec, err := embedder.EmbedSingle(ctx, entries[i].Name+" "+entries[i].Description)
				if err != nil {
					return fmt.Errorf("embed %s: %w", entries[i].Name, err)
				}
				entries[i].Embedding = vec
				if err := store.Insert(ctx, entries[i]); err != nil {
					return fmt.Errorf("insert %s: %w", entries[i].Name, err)
				}
			}

			color.Green("Seeded %d products into %s (tenant %s)", len(entries), cfg.Database.SQLite.Path, tenant)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "demo", "tenant identifier")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of products (uses built-in demo set when empty)")
	return cmd
}

type seedProduct struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Policy      string  `json:"policy"`
	UnitPrice   float64 `json:"unitPrice"`
	StockQty    int     `json:"stockQuantity"`
	Unit        string  `json:"unit"`
	Sellable    bool    `json:"sellable"`
}

func loadSeedEntries(file, tenant string) ([]catalog.Entry, error) {
	products := demoProducts()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		products = nil
		if err := json.Unmarshal(data, &products); err != nil {
			return nil, fmt.Errorf("parse seed file: %w", err)
		}
	}

	entries := make([]catalog.Entry, 0, len(products))
	for _, p := range products {
		entries = append(entries, catalog.Entry{
			ID:            uuid.New(),
			TenantID:      tenant,
			Name:          p.Name,
			Description:   p.Description,
			Policy:        p.Policy,
			UnitPrice:     p.UnitPrice,
			StockQuantity: p.StockQty,
			Unit:          p.Unit,
			Sellable:      p.Sellable,
		})
	}
	return entries, nil
}

func demoProducts() []seedProduct {
	return []seedProduct{
		{Name: "Brown Rice", Description: "Whole-grain brown rice, 1kg bag", UnitPrice: 38, StockQty: 120, Unit: "bag", Sellable: true},
		{Name: "Jasmine Rice", Description: "Fragrant Thai jasmine rice, 1kg bag", UnitPrice: 42, StockQty: 80, Unit: "bag", Sellable: true},
		{Name: "Basmati Rice", Description: "Long-grain basmati rice, 1kg bag", UnitPrice: 55, StockQty: 40, Unit: "bag", Sellable: true},
		{Name: "Cherry Tomatoes", Description: "Sweet cherry tomatoes, 250g punnet", UnitPrice: 30, StockQty: 60, Unit: "punnet", Sellable: true},
		{Name: "Baby Spinach", Description: "Washed baby spinach leaves, 200g", UnitPrice: 45, StockQty: 25, Unit: "pack", Sellable: true},
		{Name: "Organic Kale", Description: "Organic curly kale bunch", UnitPrice: 80, StockQty: 0, Unit: "bunch", Sellable: true},
		{Name: "Display Basket", Description: "Store display basket, not for sale", UnitPrice: 150, StockQty: 5, Unit: "unit", Sellable: false},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("assistant-cli 0.3.0")
		},
	}
}

// buildPipeline wires the turn pipeline from the loaded configuration. With
// mock enabled the LLM and embedding services are replaced by deterministic
// in-process fakes, which keeps the REPL usable offline against a seeded
// catalog.
func buildPipeline(mock bool) (*assistant.Pipeline, func(), error) {
	store, err := buildCatalogStore()
	if err != nil {
		return nil, nil, fmt.Errorf("catalog store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	var embedder embedding.Embedder
	var completions llm.CompletionClient

	if mock {
		embedder = embedding.NewMockClient(cfg.Embedding.Dimension)
		completions = &offlineCompletions{}
	} else {
		embedder, err = embedding.NewClient(embedding.Config{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("embedding client: %w", err)
		}
		completions, err = llm.NewClient(llm.Config{
			BaseURL:     cfg.Completion.BaseURL,
			APIKey:      cfg.Completion.APIKey,
			Model:       cfg.Completion.Model,
			Temperature: cfg.Completion.Temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
			Timeout:     cfg.Completion.Timeout,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("completion client: %w", err)
		}
	}

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Pipeline.RetryMaxAttempts,
		InitialWait: cfg.Pipeline.RetryInitialWait,
	}

	var negation retrieval.NegationFilter
	if cfg.Pipeline.NegationStrategy == "embedding" {
		negation = retrieval.NewEmbeddingThresholdFilter(embedder, 0)
	} else {
		negation = retrieval.NewSubstringFilter()
	}

	retriever := retrieval.NewRetriever(store, embedder, negation, logger, retrieval.Config{
		Limit: cfg.Pipeline.ResultLimit,
		Retry: retryPolicy,
	})

	extractor := intent.NewExtractor(completions, logger, cfg.Pipeline.HistoryWindow, retryPolicy)
	composer := compose.NewComposer(completions, logger, retryPolicy)

	pipeline := assistant.NewPipeline(extractor, retriever, composer, logger, assistant.Config{
		HistoryWindow: cfg.Pipeline.HistoryWindow,
		TurnDeadline:  cfg.Pipeline.TurnDeadline,
	})

	return pipeline, cleanup, nil
}

// offlineCompletions is a deterministic stand-in for the completion service.
// Intent extraction echoes the message as a standalone query and parses an
// "under N" price cap; composition returns free text so the pipeline takes
// its templated reply path. No network, no state.
type offlineCompletions struct{}

var underPattern = regexp.MustCompile(`(?i)\b(?:under|below)\s+(\d+(?:\.\d+)?)`)

func (c *offlineCompletions) Complete(_ context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages")
	}
	if !strings.Contains(messages[0].Content, "extract shopping intent") {
		return "These looked like the best matches in the catalog.", nil
	}

	userText := messages[len(messages)-1].Content
	payload := map[string]interface{}{
		"intent":           "PRODUCT_SEARCH",
		"productTerms":     []string{},
		"priceConstraints": map[string]interface{}{},
		"negatedTerms":     []string{},
		"extractedQuery":   userText,
	}
	if m := underPattern.FindStringSubmatch(userText); m != nil {
		if max, err := strconv.ParseFloat(m[1], 64); err == nil {
			payload["priceConstraints"] = map[string]interface{}{"max": max}
		}
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *offlineCompletions) Model() string {
	return "offline"
}

func buildCatalogStore() (catalog.Store, error) {
	if cfg.Database.Driver == "postgres" {
		return catalog.NewPostgresStore(catalog.PostgresConfig{
			DSN:             cfg.Database.Postgres.DSN,
			MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
		})
	}
	return catalog.NewSQLiteStore(catalog.SQLiteConfig{
		Path:         cfg.Database.SQLite.Path,
		MaxOpenConns: cfg.Database.SQLite.MaxOpenConns,
	})
}
