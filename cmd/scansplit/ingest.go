package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/scansplit/internal/config"
	"github.com/JonMunkholm/scansplit/internal/indexer"
	"github.com/JonMunkholm/scansplit/internal/report"
)

type ingestOptions struct {
	Dir       string
	URL       string
	Username  string
	Password  string
	APIKey    string
	CACert    string
	Insecure  bool
	BatchSize int
	Timeout   time.Duration
	Indices   map[string]string
}

func newIngestCmd() *cobra.Command {
	o := ingestOptions{Dir: "out"}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Bulk-load bucket files into Elasticsearch",
		Long: `Bulk-load every bucket file of a directory into its index.
Connection settings default to the ES_* environment variables (a .env file
in the working directory is read first); flags override them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, o)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.Dir, "dir", "d", o.Dir, "Directory holding the bucket files")
	fs.StringVar(&o.URL, "es-url", "", "Cluster address (default: ES_BASE_URL)")
	fs.StringVar(&o.Username, "username", "", "Basic auth user (default: ES_USERNAME)")
	fs.StringVar(&o.Password, "password", "", "Basic auth password (default: ES_PASSWORD)")
	fs.StringVar(&o.APIKey, "api-key", "", "API key, preferred over basic auth (default: ES_API_KEY)")
	fs.StringVar(&o.CACert, "ca-cert", "", "PEM bundle to trust (default: ES_CA_CERT)")
	fs.BoolVar(&o.Insecure, "insecure", false, "Skip certificate verification")
	fs.IntVar(&o.BatchSize, "batch-size", 0, "Documents per bulk request (default: ES_BATCH_SIZE)")
	fs.DurationVar(&o.Timeout, "timeout", 0, "Wait for each bulk response (default: ES_TIMEOUT)")
	fs.StringToStringVar(&o.Indices, "index", nil, "Index override per bucket, e.g. t1_normal=scans_t1")
	return cmd
}

// elasticConfig merges the environment configuration with explicit flags.
func (o ingestOptions) elasticConfig(cmd *cobra.Command) (indexer.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return indexer.Config{}, err
	}
	es := cfg.Elastic

	ic := indexer.Config{
		URL:       es.URL,
		Username:  es.Username,
		Password:  es.Password,
		APIKey:    es.APIKey,
		VerifySSL: es.VerifySSL,
		CACert:    es.CACert,
		Timeout:   es.Timeout,
		BatchSize: es.BatchSize,
	}

	fs := cmd.Flags()
	if fs.Changed("es-url") {
		ic.URL = o.URL
	}
	if fs.Changed("username") {
		ic.Username = o.Username
	}
	if fs.Changed("password") {
		ic.Password = o.Password
	}
	if fs.Changed("api-key") {
		ic.APIKey = o.APIKey
	}
	if fs.Changed("ca-cert") {
		ic.CACert = o.CACert
	}
	if fs.Changed("insecure") {
		ic.VerifySSL = !o.Insecure
	}
	if fs.Changed("batch-size") {
		ic.BatchSize = o.BatchSize
	}
	if fs.Changed("timeout") {
		ic.Timeout = o.Timeout
	}
	return ic, nil
}

func (o ingestOptions) indices() (map[report.Bucket]string, error) {
	out := make(map[report.Bucket]string, len(o.Indices))
	for k, v := range o.Indices {
		b, ok := report.ParseBucket(k)
		if !ok {
			return nil, fmt.Errorf("unknown bucket %q", k)
		}
		if v == "" || v != strings.ToLower(v) {
			return nil, fmt.Errorf("index for %s must be a non-empty lowercase name", k)
		}
		out[b] = v
	}
	return out, nil
}

func runIngest(cmd *cobra.Command, o ingestOptions) error {
	indices, err := o.indices()
	if err != nil {
		return err
	}
	ic, err := o.elasticConfig(cmd)
	if err != nil {
		return err
	}

	ix, err := indexer.New(ic)
	if err != nil {
		return err
	}
	stats, err := ix.Ingest(cmd.Context(), o.Dir, indices)
	printStats(cmd, stats)
	return err
}

func printStats(cmd *cobra.Command, stats map[report.Bucket]indexer.BucketStats) {
	buckets := make([]string, 0, len(stats))
	for b := range stats {
		buckets = append(buckets, string(b))
	}
	sort.Strings(buckets)
	for _, b := range buckets {
		st := stats[report.Bucket(b)]
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s sent=%d failed=%d\n", b, st.Sent, st.Failed)
	}
}
