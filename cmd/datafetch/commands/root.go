package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"datafetch-backend/lib/browser"
	"datafetch-backend/lib/configutil"
	"datafetch-backend/lib/extract"
	"datafetch-backend/lib/ratelimit"
	"datafetch-backend/lib/restyutil"
	"datafetch-backend/lib/robots"
	"datafetch-backend/lib/serviceutil"
	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

const defaultUserAgent = "datafetch/1.0 (+https://github.com/datafetch/datafetch-backend)"

type Config struct {
	// UserAgent identifies us to sources and in robots.txt checks.
	UserAgent string `json:"user_agent"`
	// Sites is the path to the source registry.
	Sites string `json:"sites"`
	// Warehouse is the sqlite path results are recorded to, empty
	// disables recording.
	Warehouse string `json:"warehouse"`
	Headless  *bool  `json:"headless"`
}

var config Config
var debug *bool

var rootCmd = &cobra.Command{
	Use:   "datafetch",
	Short: "datafetch extracts time-series data from configured sources.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*debug)

		cfg, err := configutil.ReadConfig[Config]("datafetch.json5")
		if err == nil {
			config = cfg
		}
		if config.UserAgent == "" {
			config.UserAgent = defaultUserAgent
		}
		if config.Sites == "" {
			config.Sites = "sites.yaml"
		}
	},
}

func init() {
	debug = rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadRegistry() *sites.Registry {
	registry, err := sites.Load(config.Sites)
	if err != nil {
		serviceutil.Fatal("failed to load site registry", err)
	}
	return registry
}

func newHttpClient() *resty.Client {
	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", config.UserAgent)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "datafetch/http")
	if *debug {
		restyutil.InstrumentClient(client, nil,
			restyutil.NewFilesystemOutput(".dev/resty/datafetch"))
	}
	return client
}

func newDeps() extract.Deps {
	headless := true
	if config.Headless != nil {
		headless = *config.Headless
	}
	return extract.Deps{
		Http:     newHttpClient(),
		Limiter:  ratelimit.NewLimiter(),
		Renderer: browser.New(config.UserAgent, headless),
	}
}

func newGate() *robots.Gate {
	return robots.NewGate(config.UserAgent)
}
